// Package migrations holds the journal schema, applied by "labflow migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
