//go:build !sqlite_vec

package store

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go SQLite driver. Build with the
// sqlite_vec tag (and cgo) to switch to mattn/go-sqlite3 with the
// sqlite-vec extension loaded for accelerated chunk search.
const driverName = "sqlite"
