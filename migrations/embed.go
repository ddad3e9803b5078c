// Package migrations embeds the goose SQL migrations applied by
// `healz-server migrate up`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
