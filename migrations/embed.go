// Package migrations embeds the devhost's SQL migration files into the
// binary so the schema can be created without the files on disk.
package migrations

import "embed"

// FS holds every migration file at its root. Pass it to
// (*database.DB).Migrate.
//
//go:embed *.sql
var FS embed.FS
