//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package store

// Only the process mutex guards the document on platforms without flock.
func lockFile(string) (func() error, error) {
	return func() error { return nil }, nil
}
