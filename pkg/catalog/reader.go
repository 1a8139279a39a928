package catalog

import (
	"database/sql"
	"path"

	"github.com/pkg/errors"
)

// childPage is how many children Children() pages through at a time
// during a walk (spec §4.4).
const childPage = 1000

// Reader opens an existing .fl catalog read-only, with a delete-journal
// mode and a 30s busy-timeout (spec §4.4).
type Reader struct {
	db *sql.DB
}

// OpenReader opens path for read-only access.
func OpenReader(path string) (*Reader, error) {
	dsn := path + "?mode=ro&_journal_mode=DELETE&_busy_timeout=30000"
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

// Close closes the underlying database handle.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Inode returns the inode row for ino.
func (r *Reader) Inode(ino int64) (Inode, error) {
	var i Inode
	err := r.db.QueryRow(
		`SELECT ino, parent, name, size, uid, gid, mode, rdev, ctime, mtime FROM inode WHERE ino = ?`, ino,
	).Scan(&i.Ino, &i.Parent, &i.Name, &i.Size, &i.UID, &i.GID, &i.Mode, &i.Rdev, &i.Ctime, &i.Mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return Inode{}, ErrNotFound
	}
	if err != nil {
		return Inode{}, errors.Wrap(err, "query inode")
	}
	return i, nil
}

// Lookup resolves (parent, name) to an inode row. Lookup is unique per
// spec §3's invariant.
func (r *Reader) Lookup(parent int64, name string) (Inode, error) {
	var i Inode
	err := r.db.QueryRow(
		`SELECT ino, parent, name, size, uid, gid, mode, rdev, ctime, mtime FROM inode WHERE parent = ? AND name = ?`,
		parent, name,
	).Scan(&i.Ino, &i.Parent, &i.Name, &i.Size, &i.UID, &i.GID, &i.Mode, &i.Rdev, &i.Ctime, &i.Mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return Inode{}, ErrNotFound
	}
	if err != nil {
		return Inode{}, errors.Wrap(err, "query lookup")
	}
	return i, nil
}

// Children pages through the children of parent, limit at a time starting
// at offset, ordered by name for determinism.
func (r *Reader) Children(parent int64, limit, offset int) ([]Inode, error) {
	rows, err := r.db.Query(
		`SELECT ino, parent, name, size, uid, gid, mode, rdev, ctime, mtime
		 FROM inode WHERE parent = ? ORDER BY name LIMIT ? OFFSET ?`,
		parent, limit, offset,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query children")
	}
	defer rows.Close()

	var out []Inode
	for rows.Next() {
		var i Inode
		if err := rows.Scan(&i.Ino, &i.Parent, &i.Name, &i.Size, &i.UID, &i.GID, &i.Mode, &i.Rdev, &i.Ctime, &i.Mtime); err != nil {
			return nil, errors.Wrap(err, "scan child")
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// Extra returns the optional data blob for ino (the symlink target, if
// any). Returns ErrNotFound if no extra row exists.
func (r *Reader) Extra(ino int64) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow(`SELECT data FROM extra WHERE ino = ?`, ino).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query extra")
	}
	return data, nil
}

// Blocks returns the ordered block list for ino.
func (r *Reader) Blocks(ino int64) ([]BlockRef, error) {
	rows, err := r.db.Query("SELECT `order`, id, key FROM block WHERE ino = ? ORDER BY `order`", ino)
	if err != nil {
		return nil, errors.Wrap(err, "query blocks")
	}
	defer rows.Close()

	var out []BlockRef
	for rows.Next() {
		var ref BlockRef
		var id, key []byte
		if err := rows.Scan(&ref.Order, &id, &key); err != nil {
			return nil, errors.Wrap(err, "scan block")
		}
		if len(id) != KeySize || len(key) != KeySize {
			return nil, ErrInvalidHash
		}
		copy(ref.ID[:], id)
		copy(ref.Key[:], key)
		out = append(out, ref)
	}
	return out, rows.Err()
}

// AllBlocks streams every block row in the catalog (used by Clone, which
// walks the block table directly rather than the inode tree; spec §4.8).
func (r *Reader) AllBlocks(fn func(ino int64, ref BlockRef) error) error {
	rows, err := r.db.Query("SELECT ino, `order`, id, key FROM block")
	if err != nil {
		return errors.Wrap(err, "query all blocks")
	}
	defer rows.Close()

	for rows.Next() {
		var ino int64
		var ref BlockRef
		var id, key []byte
		if err := rows.Scan(&ino, &ref.Order, &id, &key); err != nil {
			return errors.Wrap(err, "scan block")
		}
		if len(id) != KeySize || len(key) != KeySize {
			return ErrInvalidHash
		}
		copy(ref.ID[:], id)
		copy(ref.Key[:], key)
		if err := fn(ino, ref); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Tag returns the value stored for key.
func (r *Reader) Tag(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM tag WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "query tag")
	}
	return value, nil
}

// Tags returns every tag row.
func (r *Reader) Tags() ([]Tag, error) {
	rows, err := r.db.Query(`SELECT key, value FROM tag`)
	if err != nil {
		return nil, errors.Wrap(err, "query tags")
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			return nil, errors.Wrap(err, "scan tag")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Routes returns the full routing table.
func (r *Reader) Routes() ([]struct {
	Start, End byte
	URL        string
}, error) {
	rows, err := r.db.Query(`SELECT start, end, url FROM route`)
	if err != nil {
		return nil, errors.Wrap(err, "query routes")
	}
	defer rows.Close()

	var out []struct {
		Start, End byte
		URL        string
	}
	for rows.Next() {
		var start, end int
		var url string
		if err := rows.Scan(&start, &end, &url); err != nil {
			return nil, errors.Wrap(err, "scan route")
		}
		out = append(out, struct {
			Start, End byte
			URL        string
		}{byte(start), byte(end), url})
	}
	return out, rows.Err()
}

// VisitResult controls whether Walk descends into a visited directory's
// children.
type VisitResult int

const (
	// Continue descends into the visited node's children, if it is a
	// directory.
	Continue VisitResult = iota
	// Break skips the visited node's subtree.
	Break
)

// Visitor is called once per inode during Walk.
type Visitor func(path string, inode Inode) (VisitResult, error)

// workItem is one entry of the explicit BFS work list (spec §4.4: never
// recursion, since images can be arbitrarily deep).
type workItem struct {
	ino  int64
	path string
}

// Walk performs a breadth-first traversal of the catalog starting at the
// root (inode 1), calling visit once per inode in an order where every
// directory is visited before its children (spec §4.4, §8.5).
func (r *Reader) Walk(visit Visitor) error {
	root, err := r.Inode(RootIno)
	if err != nil {
		return errors.Wrap(err, "load root inode")
	}

	queue := []workItem{{ino: RootIno, path: "/"}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		inode := root
		if item.ino != RootIno {
			inode, err = r.Inode(item.ino)
			if err != nil {
				return errors.Wrapf(err, "load inode %d", item.ino)
			}
		}

		result, err := visit(item.path, inode)
		if err != nil {
			return err
		}
		if result == Break || !inode.IsDir() {
			continue
		}

		for offset := 0; ; offset += childPage {
			children, err := r.Children(item.ino, childPage, offset)
			if err != nil {
				return errors.Wrapf(err, "list children of %d", item.ino)
			}
			for _, child := range children {
				childPath := path.Join(item.path, child.Name)
				if child.IsDir() {
					queue = append(queue, workItem{ino: child.Ino, path: childPath})
				} else {
					if _, err := visit(childPath, child); err != nil {
						return err
					}
				}
			}
			if len(children) < childPage {
				break
			}
		}
	}
	return nil
}
