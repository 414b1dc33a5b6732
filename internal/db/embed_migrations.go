package db

import "embed"

// MigrationFS holds the account, session, token, challenge and audit schema applied by
// internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
