// Package migrations holds the goose SQL migrations compiled into the
// binary, so a deployment needs no migration files on disk. Files are
// named YYYYMMDDHHMMSS_description.sql and goose applies them in order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
