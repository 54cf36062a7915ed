//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension as auto-loadable. With the
	// extension present, vec_distance_cosine is available in SQL; the Go
	// cosine scan in vector.go remains the portable default path.
	vec.Auto()
	vecExtensionLoaded = true
}
