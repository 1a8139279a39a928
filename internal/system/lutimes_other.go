//go:build !linux

package system

import "time"

// Lutimes is a no-op stub on platforms without utimensat; flist images are
// packed and unpacked on Linux, matching the reference implementation.
func Lutimes(path string, mtime time.Time) error {
	return nil
}
