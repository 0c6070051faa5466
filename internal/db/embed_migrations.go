package db

import "embed"

// MigrationFS embeds the SQL migration files for the Postgres-backed
// identity connector and unique id resolver. The migrate runner (cmd/migrate
// and server startup) applies them.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
