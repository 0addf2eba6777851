package auth

import (
	"embed"
)

//go:embed data/sql/migrations/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the profile and security event migrations
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
