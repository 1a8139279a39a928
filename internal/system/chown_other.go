//go:build !linux

package system

import "fmt"

// Lchown is unsupported outside Linux; preserve-ownership unpack is a
// Linux-only feature (spec §4.6).
func Lchown(path string, uid, gid uint32) error {
	return fmt.Errorf("lchown unsupported on this platform")
}
