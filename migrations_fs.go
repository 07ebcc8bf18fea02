package payhooks

import (
	"embed"
	"io/fs"
)

// migrationsFS contains the full go-payhooks SQL migration tree, including
// dialect alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the full embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// GetCoreMigrationsFS returns the pipeline and reference domain schema.
func GetCoreMigrationsFS() fs.FS {
	return migrationsFS
}
