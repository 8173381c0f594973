// Package migrations embeds the versioned SQL schema files (NNN_description.sql)
package migrations

import "embed"

// FS holds every migration file
//
//go:embed *.sql
var FS embed.FS
