package db

import "embed"

// sqlSchemas holds the migration files compiled into the binary.
//
//go:embed migrations/*.up.sql migrations/*.down.sql
var sqlSchemas embed.FS
