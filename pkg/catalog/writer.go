package catalog

import (
	"database/sql"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Writer creates and populates a fresh .fl catalog. It is safe for
// concurrent use by the pack walker and all upload workers (spec §4.5);
// serialization is delegated to the SQLite engine itself via a single
// shared *sql.DB connection pool, matching the "catalog engine serializes
// internally" design note (spec §5).
type Writer struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	nextIno int64
}

// NewWriter creates path (deleting it first if it already exists, per
// spec §4.4) and opens it for writing with synchronous journaling and a
// long busy-timeout.
func NewWriter(path string) (*Writer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "remove existing catalog")
	}

	dsn := path + "?_journal_mode=DELETE&_synchronous=FULL&_busy_timeout=30000&_foreign_keys=1"
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}
	// The writer is shared across many goroutines (walker + upload
	// workers); SQLite only allows one writer at a time, so cap the pool
	// to a single connection and let _busy_timeout do the queuing.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	w := &Writer{db: db, path: path, nextIno: RootIno}
	return w, nil
}

// Close closes the underlying database handle. It does not delete the
// file: on pack failure the caller is expected to delete the half-written
// catalog itself (spec §4.5, §7).
func (w *Writer) Close() error {
	return w.db.Close()
}

// NextIno allocates the next monotonically increasing inode number. The
// root is always inode 1: the first call returns it, unless inode 1 was
// already inserted directly with PutInode, in which case numbering
// continues after the highest ino put so far.
func (w *Writer) NextIno() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	ino := w.nextIno
	w.nextIno++
	return ino
}

// PutInode inserts an inode row.
func (w *Writer) PutInode(inode Inode) error {
	w.mu.Lock()
	if inode.Ino >= w.nextIno {
		w.nextIno = inode.Ino + 1
	}
	w.mu.Unlock()

	_, err := w.db.Exec(
		`INSERT INTO inode (ino, parent, name, size, uid, gid, mode, rdev, ctime, mtime)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inode.Ino, inode.Parent, inode.Name, inode.Size, inode.UID, inode.GID, inode.Mode, inode.Rdev, inode.Ctime, inode.Mtime,
	)
	if err != nil {
		return errors.Wrap(err, "insert inode")
	}
	return nil
}

// PutExtra stores the optional data blob for ino (a symlink target, spec §3).
func (w *Writer) PutExtra(ino int64, data []byte) error {
	_, err := w.db.Exec(`INSERT INTO extra (ino, data) VALUES (?, ?)`, ino, data)
	if err != nil {
		return errors.Wrap(err, "insert extra")
	}
	return nil
}

// PutBlock appends a block reference for ino at the given order. Callers
// are responsible for keeping order dense per-inode (spec §3 invariant);
// each file is handled by exactly one upload worker, so this is safe
// without additional locking on the caller's side.
func (w *Writer) PutBlock(ino int64, order int, ref BlockRef) error {
	_, err := w.db.Exec(
		"INSERT INTO block (ino, `order`, id, key) VALUES (?, ?, ?, ?)",
		ino, order, ref.ID[:], ref.Key[:],
	)
	if err != nil {
		return errors.Wrap(err, "insert block")
	}
	return nil
}

// LookupChild returns the inode already filed under (parent, name), if any.
// Used by Merge to detect path collisions between sources being replayed
// into the same destination catalog (spec §4.8).
func (w *Writer) LookupChild(parent int64, name string) (Inode, bool, error) {
	var i Inode
	err := w.db.QueryRow(
		`SELECT ino, parent, name, size, uid, gid, mode, rdev, ctime, mtime FROM inode WHERE parent = ? AND name = ?`,
		parent, name,
	).Scan(&i.Ino, &i.Parent, &i.Name, &i.Size, &i.UID, &i.GID, &i.Mode, &i.Rdev, &i.Ctime, &i.Mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return Inode{}, false, nil
	}
	if err != nil {
		return Inode{}, false, errors.Wrap(err, "query lookup child")
	}
	return i, true, nil
}

// DeleteInode removes an inode row along with its extra and block rows, so
// Merge's LastWriterWins policy can retire a previously-replayed entry
// before inserting its replacement.
func (w *Writer) DeleteInode(ino int64) error {
	for _, stmt := range []string{
		`DELETE FROM block WHERE ino = ?`,
		`DELETE FROM extra WHERE ino = ?`,
		`DELETE FROM inode WHERE ino = ?`,
	} {
		if _, err := w.db.Exec(stmt, ino); err != nil {
			return errors.Wrap(err, "delete inode")
		}
	}
	return nil
}

// PutRoute persists one entry of the routing table (spec §4.5 step 1).
func (w *Writer) PutRoute(start, end byte, url string) error {
	_, err := w.db.Exec(`INSERT INTO route (start, end, url) VALUES (?, ?, ?)`, start, end, url)
	if err != nil {
		return errors.Wrap(err, "insert route")
	}
	return nil
}

// PutTag upserts a tag key/value pair.
func (w *Writer) PutTag(key, value string) error {
	_, err := w.db.Exec(
		`INSERT INTO tag (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return errors.Wrap(err, "upsert tag")
	}
	return nil
}
