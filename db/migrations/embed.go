// Package dbmigrations exposes embedded SQL migrations for MarketLens binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into MarketLens binaries.
//
//go:embed *.sql
var Files embed.FS
