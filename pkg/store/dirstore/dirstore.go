// Package dirstore implements the dir:// backend: blobs stored as files
// under a local directory, keyed by the hex-encoded content address
// (spec §6). Modelled on umoci's oci/cas directory engine: write to a
// temp file then rename into place, so a reader never observes a
// partially-written blob.
package dirstore

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/threefoldtech/rfs-go/pkg/store"
)

// Store is a store.Store backed by a local directory. Blobs are written
// under <path>/<id_hex[0:2]>/<id_hex>, matching the same two-level
// sharding the local cache uses for its own hex-prefix layout (spec §4.7,
// §6), but keyed at one level here since the directory is the CAS itself
// rather than a lock-guarded cache.
type Store struct {
	path  string
	start byte
	end   byte
}

// New opens (creating if necessary) a directory-backed store rooted at
// path, accepting the given inclusive first-byte range.
func New(path string, start, end byte) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.Wrap(err, "mkdir store root")
	}
	return &Store{path: path, start: start, end: end}, nil
}

func blobPath(root string, key []byte) string {
	id := hex.EncodeToString(key)
	return filepath.Join(root, id[:2], id)
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	data, err := os.ReadFile(blobPath(s.path, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrKeyNotFound
		}
		return nil, errors.Wrap(store.ErrIO, err.Error())
	}
	if len(data) == 0 {
		return nil, store.ErrInvalidBlob
	}
	return data, nil
}

// Set implements store.Store. Setting an already-present key is a no-op
// (idempotent write-once semantics, spec §4.1).
func (s *Store) Set(_ context.Context, key []byte, blob []byte) error {
	path := blobPath(s.path, key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(store.ErrIO, err.Error())
	}

	tmp := filepath.Join(s.path, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return errors.Wrap(store.ErrIO, err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(store.ErrIO, err.Error())
	}
	return nil
}

// Routes implements store.Store.
func (s *Store) Routes() []store.Route {
	return []store.Route{{Start: s.start, End: s.end, URL: "dir://" + s.path}}
}
