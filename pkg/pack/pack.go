// Package pack implements the pack pipeline: walk a source directory,
// record inodes, split regular files into fixed-size chunks, codec them,
// upload, and record block references (spec §4.5).
package pack

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/apex/log"

	"github.com/threefoldtech/rfs-go/internal/system"
	"github.com/threefoldtech/rfs-go/internal/walker"
	"github.com/threefoldtech/rfs-go/pkg/catalog"
	"github.com/threefoldtech/rfs-go/pkg/codec"
	"github.com/threefoldtech/rfs-go/pkg/config"
	"github.com/threefoldtech/rfs-go/pkg/router"
)

// uploadJob is handed from the walker to the upload worker pool for each
// regular file discovered.
type uploadJob struct {
	ino  int64
	path string
}

// Pack walks source, writing one inode per filesystem entry into w and
// streaming every regular file's content through the codec into r, under
// the given options. Any backend Set failure fails the whole pack: the
// caller is expected to delete the half-written catalog file afterwards
// (spec §4.5 "Failure semantics").
func Pack(ctx context.Context, w *catalog.Writer, r *router.Router, source string, opts config.PackOptions) error {
	opts = opts.Fill()

	log.WithFields(log.Fields{
		"source": source,
		"chunk":  opts.ChunkSize,
		"workers": opts.Workers,
	}).Debugf("pack starting")

	if err := persistRoutes(w, r, opts.StripPassword); err != nil {
		return err
	}
	for key, value := range opts.Tags {
		if err := w.PutTag(key, value); err != nil {
			return fmt.Errorf("put tag %q: %w", key, err)
		}
	}

	jobs := make(chan uploadJob)
	var wg sync.WaitGroup
	errOnce := &firstError{}

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := uploadFile(ctx, w, r, job, opts.ChunkSize); err != nil {
					errOnce.set(fmt.Errorf("upload %q: %w", job.path, err))
				}
			}
		}()
	}

	inos := map[string]int64{".": catalog.RootIno}
	walkErr := walker.Walk(source, func(entry walker.Entry) error {
		if errOnce.get() != nil {
			return errOnce.get()
		}

		ino := w.NextIno()
		inos[entry.RelPath] = ino

		parentIno := inos["."]
		if entry.ParentRel != "" {
			parentIno = inos[entry.ParentRel]
		}
		// The root entry (RelPath == ".") claims inode 1 and has no
		// meaningful parent/name pair.
		parent := parentIno
		name := filepath.Base(entry.Path)
		if entry.RelPath == "." {
			parent = 0
			name = "/"
		}

		raw := system.Lstat(entry.Info)
		inode := catalog.Inode{
			Ino:    ino,
			Parent: parent,
			Name:   name,
			Size:   entry.Info.Size(),
			UID:    raw.UID,
			GID:    raw.GID,
			Mode:   posixMode(entry.Info),
			Rdev:   raw.Rdev,
			Ctime:  raw.Ctime,
			Mtime:  entry.Info.ModTime().Unix(),
		}
		if err := w.PutInode(inode); err != nil {
			return fmt.Errorf("put inode for %q: %w", entry.Path, err)
		}

		switch {
		case entry.Info.IsDir():
			// Nothing more to do; children are visited by the walker.
		case entry.Info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(entry.Path)
			if err != nil {
				return fmt.Errorf("readlink %q: %w", entry.Path, err)
			}
			if err := w.PutExtra(ino, []byte(target)); err != nil {
				return fmt.Errorf("put symlink target for %q: %w", entry.Path, err)
			}
		case entry.Info.Mode().IsRegular():
			jobs <- uploadJob{ino: ino, path: entry.Path}
		default:
			// Sockets, fifos, devices: metadata only, no data (spec §4.5
			// step 2 "Other types").
		}
		return nil
	})

	close(jobs)
	wg.Wait()

	if walkErr != nil {
		return fmt.Errorf("walk source: %w", walkErr)
	}
	if err := errOnce.get(); err != nil {
		return err
	}

	log.WithFields(log.Fields{"source": source}).Debugf("pack finished")
	return nil
}

// persistRoutes writes every route the router self-describes into the
// catalog's route table, optionally stripping embedded credentials, so an
// unpacker can rebuild the router with no side channel (spec §4.5 step 1).
func persistRoutes(w *catalog.Writer, r *router.Router, stripPassword bool) error {
	for _, route := range r.Routes() {
		url := route.URL
		if stripPassword {
			url = router.StripCredentials(url)
		}
		if err := w.PutRoute(route.Start, route.End, url); err != nil {
			return fmt.Errorf("put route: %w", err)
		}
	}
	return nil
}

// uploadFile reads path in opts.ChunkSize buffers, codecs and uploads each
// non-empty chunk, and appends a block row per chunk. A read error on the
// source file is logged and the file is left with a truncated block list
// rather than aborting the whole pack (spec §4.5 "known soft spot", §9
// open question 1).
func uploadFile(ctx context.Context, w *catalog.Writer, r *router.Router, job uploadJob, chunkSize int) error {
	fh, err := os.Open(job.path)
	if err != nil {
		log.WithFields(log.Fields{"path": job.path, "error": err}).Warnf("skipping file: open failed")
		return nil
	}
	defer fh.Close()

	buf := make([]byte, chunkSize)
	order := 0
	for {
		n, err := io.ReadFull(fh, buf)
		if n > 0 {
			block, encErr := codec.Encode(buf[:n])
			if encErr != nil {
				return fmt.Errorf("encode chunk %d of %q: %w", order, job.path, encErr)
			}
			if setErr := r.Set(ctx, block.ID[:], block.Ciphertext); setErr != nil {
				return fmt.Errorf("upload chunk %d of %q: %w", order, job.path, setErr)
			}
			if putErr := w.PutBlock(job.ino, order, catalog.BlockRef{ID: block.ID, Key: block.Key, Order: order}); putErr != nil {
				return fmt.Errorf("record chunk %d of %q: %w", order, job.path, putErr)
			}
			order++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.WithFields(log.Fields{"path": job.path, "error": err}).Warnf("skipping rest of file: read failed")
			return nil
		}
	}
	return nil
}

// posixMode converts a Go os.FileInfo's mode into the POSIX mode word the
// catalog stores (file-type bits plus permission bits, spec §3).
func posixMode(fi os.FileInfo) uint32 {
	perm := uint32(fi.Mode().Perm())
	switch {
	case fi.Mode()&os.ModeDir != 0:
		return perm | catalog.ModeDir
	case fi.Mode()&os.ModeSymlink != 0:
		return perm | catalog.ModeSymlink
	case fi.Mode()&os.ModeNamedPipe != 0:
		return perm | catalog.ModeFifo
	case fi.Mode()&os.ModeSocket != 0:
		return perm | catalog.ModeSocket
	case fi.Mode()&os.ModeCharDevice != 0:
		return perm | catalog.ModeCharDev
	case fi.Mode()&os.ModeDevice != 0:
		return perm | catalog.ModeBlkDev
	default:
		return perm | catalog.ModeRegular
	}
}

// firstError captures the first error reported by any upload worker,
// discarding subsequent ones; reads and writes are synchronized with a
// mutex rather than atomic.Value since error is an interface type.
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
