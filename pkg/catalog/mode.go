package catalog

// The mode word follows POSIX st_mode: the high bits encode file type, the
// low 12 bits encode permissions (spec §3 "Inode").
const (
	modeTypeMask = 0170000

	ModeDir     = 0040000
	ModeRegular = 0100000
	ModeSymlink = 0120000
	ModeFifo    = 0010000
	ModeSocket  = 0140000
	ModeCharDev = 0020000
	ModeBlkDev  = 0060000
)

// ModeType extracts the file-type bits from a POSIX mode word.
func ModeType(mode uint32) uint32 {
	return mode & modeTypeMask
}

// ModePerm extracts the permission bits from a POSIX mode word.
func ModePerm(mode uint32) uint32 {
	return mode &^ modeTypeMask
}
