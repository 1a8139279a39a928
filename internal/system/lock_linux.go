//go:build linux

package system

import "syscall"

// Flock is a wrapper around flock(2), used by the cache to provide
// cross-process single-flight on a block's cache file (spec §4.7). Unlike
// umoci's non-blocking LOCK_NB variant, this blocks until the lock is
// acquired: a concurrent cache miss on the same block should wait for the
// populating process, not fail.
func Flock(fd uintptr, exclusive bool) error {
	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}
	return syscall.Flock(int(fd), how)
}

// Unflock releases a lock taken by Flock.
func Unflock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
