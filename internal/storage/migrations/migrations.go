// Package migrations embeds the SQL schema migrations applied by goose.
// Statements are written to run unchanged on SQLite and PostgreSQL.
package migrations

import "embed"

// FS holds the *.sql migration files.
//
//go:embed *.sql
var FS embed.FS
