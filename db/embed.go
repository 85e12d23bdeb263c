// Package db embeds the SQL migrations so binaries can migrate without a checkout.
package db

import "embed"

// Migrations holds db/migrations/*.sql.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations inside the embedded filesystem.
const MigrationsDir = "migrations"
