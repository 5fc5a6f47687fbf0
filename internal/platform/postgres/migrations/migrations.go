// Package migrations embeds the SQL migrations applied by goose.
package migrations

import "embed"

// FS holds every goose SQL migration of the service.
//
//go:embed *.sql
var FS embed.FS
