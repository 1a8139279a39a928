//go:build !linux

package system

import "os"

// RawStat carries the POSIX fields os.FileInfo doesn't expose directly:
// ownership, device number, and change time (spec §3 "Inode").
type RawStat struct {
	UID   uint32
	GID   uint32
	Rdev  uint64
	Ctime int64
}

// Lstat is a no-op stub on platforms without syscall.Stat_t; flist images
// are packed and unpacked on Linux, matching the reference implementation.
func Lstat(fi os.FileInfo) RawStat {
	return RawStat{}
}
