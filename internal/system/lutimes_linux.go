//go:build linux

package system

import (
	"time"

	"golang.org/x/sys/unix"
)

// Lutimes sets a path's mtime without following a trailing symlink, used by
// unpack to restore the mtime recorded in an inode row. Adapted from
// umoci's raw utimensat(2) wrapper (pkg/system/utime_linux.go) to use
// x/sys/unix's AT_FDCWD + UtimesNanoAt helper instead of hand-rolled
// syscall plumbing.
func Lutimes(path string, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(mtime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW)
}
