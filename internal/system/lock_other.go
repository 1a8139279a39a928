//go:build !linux

package system

import "fmt"

// Flock is unsupported outside Linux; the on-disk cache's cross-process
// single-flight is a Linux-only feature (spec §4.7).
func Flock(fd uintptr, exclusive bool) error {
	return fmt.Errorf("flock unsupported on this platform")
}

// Unflock is unsupported outside Linux.
func Unflock(fd uintptr) error {
	return fmt.Errorf("flock unsupported on this platform")
}
