// Package migrations embeds the SQL schema so the binary carries its own
// migrations and never depends on a migrations/ directory existing next to it.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
