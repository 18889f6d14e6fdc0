// Package migrations embeds the SQLite schema for the bridge audit trail.
package migrations

import (
	"embed"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Schema returns the bridge's migrations in version order.
func Schema() (database.Schema, error) {
	return database.LoadSchema(files, ".")
}
