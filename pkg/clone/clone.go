// Package clone implements two catalog-level operations that never decode
// block content: Clone, which copies every block an image references from
// one set of backends to another, and Merge, which replays the inode trees
// of several catalogs into one destination catalog (spec §4.8).
package clone

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/apex/log"

	"github.com/threefoldtech/rfs-go/pkg/catalog"
	"github.com/threefoldtech/rfs-go/pkg/config"
	"github.com/threefoldtech/rfs-go/pkg/router"
)

// Clone copies every distinct block referenced by src's catalog from src's
// router to dst's router, without ever decrypting a block: a clone only
// needs the content address, not the convergent key (spec §4.8 step 1).
func Clone(ctx context.Context, reader *catalog.Reader, src, dst *router.Router, opts config.CloneOptions) error {
	opts = opts.Fill()

	ids, err := distinctBlockIDs(reader)
	if err != nil {
		return fmt.Errorf("enumerate blocks: %w", err)
	}
	log.WithFields(log.Fields{"blocks": len(ids)}).Debugf("clone starting")

	type payload struct {
		id  [catalog.KeySize]byte
		ct  []byte
	}

	idChan := make(chan [catalog.KeySize]byte)
	blobChan := make(chan payload)
	errs := &firstError{}

	var downloadWG sync.WaitGroup
	for i := 0; i < opts.DownloadWorkers; i++ {
		downloadWG.Add(1)
		go func() {
			defer downloadWG.Done()
			for id := range idChan {
				ct, err := src.Get(ctx, id[:])
				if err != nil {
					errs.set(fmt.Errorf("download block %x: %w", id, err))
					continue
				}
				blobChan <- payload{id: id, ct: ct}
			}
		}()
	}
	go func() {
		downloadWG.Wait()
		close(blobChan)
	}()

	var uploadWG sync.WaitGroup
	for i := 0; i < opts.UploadWorkers; i++ {
		uploadWG.Add(1)
		go func() {
			defer uploadWG.Done()
			for p := range blobChan {
				if err := dst.Set(ctx, p.id[:], p.ct); err != nil {
					errs.set(fmt.Errorf("upload block %x: %w", p.id, err))
				}
			}
		}()
	}

	for _, id := range ids {
		idChan <- id
	}
	close(idChan)
	uploadWG.Wait()

	if err := errs.get(); err != nil {
		return err
	}
	log.Debugf("clone finished")
	return nil
}

// distinctBlockIDs collects every unique block id referenced anywhere in
// the catalog; a dedup pass over AllBlocks avoids cloning the same block
// twice when two inodes (or two chunks) converge to the same id.
func distinctBlockIDs(reader *catalog.Reader) ([][catalog.KeySize]byte, error) {
	seen := make(map[string]bool)
	var ids [][catalog.KeySize]byte
	err := reader.AllBlocks(func(_ int64, ref catalog.BlockRef) error {
		key := hex.EncodeToString(ref.ID[:])
		if seen[key] {
			return nil
		}
		seen[key] = true
		ids = append(ids, ref.ID)
		return nil
	})
	return ids, err
}

// firstError records the first error raised by any worker, ignoring the
// rest.
type firstError struct {
	mu  sync.Mutex
	err error
}

func (f *firstError) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
