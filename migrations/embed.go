// Package migrations embeds the telemetry schema into the binary so the
// ingestor can create its tables without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
