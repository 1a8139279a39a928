//go:build linux

package system

import (
	"os"
	"syscall"
)

// RawStat carries the POSIX fields os.FileInfo doesn't expose directly:
// ownership, device number, and change time (spec §3 "Inode").
type RawStat struct {
	UID   uint32
	GID   uint32
	Rdev  uint64
	Ctime int64
}

// Lstat extracts RawStat fields from an os.FileInfo produced by os.Lstat.
// If fi wasn't produced on this platform (or Sys() doesn't hold a
// *syscall.Stat_t), the zero value is returned.
func Lstat(fi os.FileInfo) RawStat {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return RawStat{}
	}
	return RawStat{
		UID:   st.Uid,
		GID:   st.Gid,
		Rdev:  uint64(st.Rdev),
		Ctime: st.Ctim.Sec,
	}
}
