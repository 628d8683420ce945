// ABOUTME: Registers both SQLite drivers with database/sql
// ABOUTME: "sqlite" is pure Go, "sqlite3" needs cgo

package sqlitestore

import (
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)
