package pgstore

import "embed"

// Migrations holds the goose migrations for the billing schema.
// Pass it to pg.Migrate with MigrationsDir.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the SQL files.
const MigrationsDir = "migrations"
