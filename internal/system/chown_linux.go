//go:build linux

package system

import "golang.org/x/sys/unix"

// Lchown applies uid/gid ownership to path without following a trailing
// symlink, used by unpack's preserve-ownership option (spec §4.6).
func Lchown(path string, uid, gid uint32) error {
	return unix.Lchown(path, int(uid), int(gid))
}
