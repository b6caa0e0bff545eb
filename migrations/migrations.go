package migrations

import "embed"

// FS holds the goose SQL migrations. Use "." as the directory.
//
//go:embed *.sql
var FS embed.FS
