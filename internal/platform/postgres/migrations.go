package postgres

import "embed"

// MigrationsFS embeds the SQL migrations so the binary can run them
// without locating the source tree. Used with goose.SetBaseFS; the
// migrations live under the "migrations" directory of this FS.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
