package model

import "errors"

// Engine error taxonomy. Services wrap these with context via fmt.Errorf;
// callers branch with errors.Is. Nothing here is fatal to the process —
// callers decide whether to halt dependent workflows.
var (
	// ErrValidation marks malformed or out-of-range input. Rejected
	// synchronously, never retried automatically.
	ErrValidation = errors.New("invalid input")

	// ErrInsufficientData marks a baseline or window too small to analyze.
	// Callers may retry once more data accrues.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidState marks an operation attempted on a sealed or terminal
	// entity, such as adding a span to a completed trace.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound marks an unknown subject, trace, or benchmark name.
	ErrNotFound = errors.New("not found")

	// ErrDanglingParent marks a span whose parent_span_id does not reference
	// an already-added span in the same trace.
	ErrDanglingParent = errors.New("parent span not found in trace")

	// ErrConfig marks an invalid threshold or interval configuration.
	// Raised at construction time, never at use time.
	ErrConfig = errors.New("invalid configuration")
)
