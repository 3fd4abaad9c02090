package mapsync

import "embed"

// Migrations holds the SQL schema migrations shipped with the server binary.
//
//go:embed migrations/*.sql
var Migrations embed.FS
