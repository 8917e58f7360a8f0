// Package db embeds the SQL migrations applied at startup.
package db

import "embed"

// Migrations holds migrations/NNN_name.sql, applied in file name order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
