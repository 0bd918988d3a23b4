//go:build !sqlite_vec || !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// Default build: cgo-free modernc driver. The vec0 module is absent, so
// similarity search takes the cosine fallback path.
const driverName = "sqlite"
