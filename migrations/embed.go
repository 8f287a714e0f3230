// Package migrations embeds the schema so binaries carry their own.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
