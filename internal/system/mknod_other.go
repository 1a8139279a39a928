//go:build !linux

package system

import "fmt"

// Dev_t mirrors a POSIX dev_t, used when recreating fifo/char/block device
// inodes during unpack (spec §3 "Inode", field Rdev).
type Dev_t uint64

// Makedev packs major/minor device numbers into a dev_t.
func Makedev(major, minor uint64) Dev_t {
	return Dev_t((minor & 0xff) | (major << 8) | ((minor &^ 0xff) << 12))
}

// Mknod is unsupported outside Linux; flist images are packed and unpacked
// on Linux, matching the reference implementation.
func Mknod(path string, mode uint32, dev Dev_t) error {
	return fmt.Errorf("mknod unsupported on this platform")
}
