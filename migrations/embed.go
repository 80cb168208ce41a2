// Package migrations embeds the numbered SQL migration files so the
// postgres store can apply them at startup regardless of the process
// working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in lexical order
// by the forward-only migration runner.
//
//go:embed *.sql
var FS embed.FS
