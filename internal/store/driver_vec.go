//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// sqlite_vec build: mattn driver with the sqlite-vec extension registered as
// auto-loadable, enabling vec0 ANN search.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}
