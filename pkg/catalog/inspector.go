package catalog

import (
	"context"
	"fmt"

	"github.com/threefoldtech/rfs-go/pkg/store"
)

// Inspector provides read-only introspection over a catalog without
// materializing any file content, mirroring the original rfs's
// `flist inspect` / `flist exist` commands (original_source
// rfs/src/flist_inspector.rs, rfs/src/exist.rs; see SPEC_FULL.md §C.1).
type Inspector struct {
	r *Reader
}

// NewInspector wraps an already-open Reader.
func NewInspector(r *Reader) *Inspector {
	return &Inspector{r: r}
}

// Stat resolves a "/"-separated path to its Inode, walking from the root.
func (i *Inspector) Stat(path string) (Inode, error) {
	segments := splitPath(path)
	cur, err := i.r.Inode(RootIno)
	if err != nil {
		return Inode{}, err
	}
	for _, seg := range segments {
		cur, err = i.r.Lookup(cur.Ino, seg)
		if err != nil {
			return Inode{}, err
		}
	}
	return cur, nil
}

func splitPath(p string) []string {
	var segs []string
	start := 0
	for idx := 0; idx <= len(p); idx++ {
		if idx == len(p) || p[idx] == '/' {
			if idx > start {
				segs = append(segs, p[start:idx])
			}
			start = idx + 1
		}
	}
	return segs
}

// VerifyBlocksExist walks every block row in the catalog (not the inode
// tree, so it never pages through directories) and checks that the
// corresponding id is fetchable from s. It returns the first missing or
// unavailable block's error, or nil if every block is present. This gives
// an "is this image still fetchable" check before committing to a full
// unpack, without writing anything to disk.
func (i *Inspector) VerifyBlocksExist(ctx context.Context, s store.Store) error {
	return i.r.AllBlocks(func(ino int64, ref BlockRef) error {
		if _, err := s.Get(ctx, ref.ID[:]); err != nil {
			return fmt.Errorf("block %x referenced by inode %d: %w", ref.ID, ino, err)
		}
		return nil
	})
}
