//go:build linux

package system

import "golang.org/x/sys/unix"

// Dev_t mirrors a POSIX dev_t, used when recreating fifo/char/block device
// inodes during unpack (spec §3 "Inode", field Rdev).
type Dev_t uint64

// Makedev packs major/minor device numbers into a dev_t, following the
// encoding in <linux/kdev_t.h>.
func Makedev(major, minor uint64) Dev_t {
	return Dev_t((minor & 0xff) | (major << 8) | ((minor &^ 0xff) << 12))
}

// Mknod creates a device, fifo, or socket special file at path.
func Mknod(path string, mode uint32, dev Dev_t) error {
	return unix.Mknod(path, mode, int(dev))
}
