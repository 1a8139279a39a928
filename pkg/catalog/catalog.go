// Package catalog implements the on-disk .fl metadata store: inodes,
// per-inode ordered block references, the routing table, and tags
// (spec §4.4, §6). It is backed by a single SQLite file, opened
// read-write during pack and read-only thereafter.
package catalog

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver
	"github.com/pkg/errors"
)

// ErrInvalidHash is returned when a catalog row carries a key or id that
// isn't exactly KeySize bytes long: catalog corruption, fatal (spec §7).
var ErrInvalidHash = errors.New("invalid key or id length in catalog row")

// ErrNotFound is returned by lookups (Inode, Lookup) that find no matching
// row.
var ErrNotFound = errors.New("not found")

// KeySize is the byte length of a block's id and key, matching
// pkg/codec.KeySize.
const KeySize = 32

// schema is the exact table/column layout required for interoperability
// with existing .fl files (spec §6).
const schema = `
CREATE TABLE IF NOT EXISTS inode (
	ino    INTEGER PRIMARY KEY,
	parent INTEGER NOT NULL,
	name   BLOB NOT NULL,
	size   INTEGER NOT NULL,
	uid    INTEGER NOT NULL,
	gid    INTEGER NOT NULL,
	mode   INTEGER NOT NULL,
	rdev   INTEGER NOT NULL,
	ctime  INTEGER NOT NULL,
	mtime  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS inode_parent_name ON inode(parent, name);

CREATE TABLE IF NOT EXISTS extra (
	ino  INTEGER PRIMARY KEY,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS block (
	ino      INTEGER NOT NULL,
	` + "`order`" + ` INTEGER NOT NULL,
	id       BLOB NOT NULL,
	key      BLOB NOT NULL,
	PRIMARY KEY (ino, ` + "`order`" + `)
);

CREATE TABLE IF NOT EXISTS route (
	start INTEGER NOT NULL,
	end   INTEGER NOT NULL,
	url   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tag (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// RootIno is the inode number of the image root, always a directory.
const RootIno int64 = 1

// Inode mirrors the inode table row (spec §3).
type Inode struct {
	Ino    int64
	Parent int64
	Name   string
	Size   int64
	UID    uint32
	GID    uint32
	Mode   uint32
	Rdev   uint64
	Ctime  int64
	Mtime  int64
}

// IsDir reports whether Mode encodes a directory.
func (i Inode) IsDir() bool { return ModeType(i.Mode) == ModeDir }

// IsSymlink reports whether Mode encodes a symlink.
func (i Inode) IsSymlink() bool { return ModeType(i.Mode) == ModeSymlink }

// IsRegular reports whether Mode encodes a regular file.
func (i Inode) IsRegular() bool { return ModeType(i.Mode) == ModeRegular }

// BlockRef mirrors one row of the block table (spec §3 "Block reference").
type BlockRef struct {
	ID    [KeySize]byte
	Key   [KeySize]byte
	Order int
}

// Tag mirrors one row of the tag table (spec §3).
type Tag struct {
	Key   string
	Value string
}

// Reserved tag keys (spec §3).
const (
	TagVersion     = "version"
	TagDescription = "description"
	TagAuthor      = "author"
)

func open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite3")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite3")
	}
	return db, nil
}
