package storage

import "errors"

// ErrNotFound is the sentinel all Store implementations return for a
// missing entity (trace analysis, benchmark history, series). Callers
// match it with errors.Is; the HTTP layer maps it to 404.
var ErrNotFound = errors.New("storage: not found")
