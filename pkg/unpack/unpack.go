// Package unpack implements the unpack pipeline: walk a catalog and
// reconstruct the directory tree it describes on local disk, streaming
// regular file content through the cache (spec §4.6).
package unpack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/apex/log"

	"github.com/threefoldtech/rfs-go/internal/system"
	"github.com/threefoldtech/rfs-go/pkg/cache"
	"github.com/threefoldtech/rfs-go/pkg/catalog"
	"github.com/threefoldtech/rfs-go/pkg/config"
)

// downloadJob is one regular file to materialize under target.
type downloadJob struct {
	targetPath string
	inode      catalog.Inode
	blocks     []cache.Block
}

// Unpack reconstructs the tree described by r under target, creating
// directories synchronously during the walk and fanning regular-file
// content out to a bounded worker pool (spec §4.6).
func Unpack(ctx context.Context, r *catalog.Reader, c *cache.Cache, target string, opts config.UnpackOptions) error {
	opts = opts.Fill()

	log.WithFields(log.Fields{"target": target, "workers": opts.Workers}).Debugf("unpack starting")

	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("mkdir target: %w", err)
	}

	jobs := make(chan downloadJob)
	var wg sync.WaitGroup
	errOnce := &firstError{}

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := downloadFile(ctx, c, job, opts.Preserve); err != nil {
					errOnce.set(fmt.Errorf("extract %q: %w", job.targetPath, err))
				}
			}
		}()
	}

	walkErr := r.Walk(func(path string, inode catalog.Inode) (catalog.VisitResult, error) {
		if err := errOnce.get(); err != nil {
			return catalog.Break, err
		}

		targetPath, err := securejoin.SecureJoin(target, path)
		if err != nil {
			return catalog.Break, fmt.Errorf("resolve path %q: %w", path, err)
		}

		switch {
		case inode.IsDir():
			if err := os.MkdirAll(targetPath, os.FileMode(catalog.ModePerm(inode.Mode))); err != nil {
				return catalog.Break, fmt.Errorf("mkdir %q: %w", targetPath, err)
			}
			if opts.Preserve {
				if err := system.Lchown(targetPath, inode.UID, inode.GID); err != nil {
					return catalog.Break, fmt.Errorf("chown %q: %w", targetPath, err)
				}
			}
		case inode.IsSymlink():
			if err := createSymlink(r, targetPath, target, inode); err != nil {
				return catalog.Break, err
			}
			if opts.Preserve {
				if err := system.Lchown(targetPath, inode.UID, inode.GID); err != nil {
					return catalog.Break, fmt.Errorf("chown %q: %w", targetPath, err)
				}
			}
			_ = system.Lutimes(targetPath, time.Unix(inode.Mtime, 0))
		case inode.IsRegular():
			refs, err := r.Blocks(inode.Ino)
			if err != nil {
				return catalog.Break, fmt.Errorf("load blocks for %q: %w", path, err)
			}
			blocks := make([]cache.Block, len(refs))
			for i, ref := range refs {
				blocks[i] = cache.Block{ID: ref.ID, Key: ref.Key}
			}
			jobs <- downloadJob{targetPath: targetPath, inode: inode, blocks: blocks}
		case catalog.ModeType(inode.Mode) == catalog.ModeFifo, catalog.ModeType(inode.Mode) == catalog.ModeCharDev, catalog.ModeType(inode.Mode) == catalog.ModeBlkDev, catalog.ModeType(inode.Mode) == catalog.ModeSocket:
			if err := createSpecial(targetPath, inode); err != nil {
				return catalog.Break, err
			}
			if opts.Preserve {
				if err := system.Lchown(targetPath, inode.UID, inode.GID); err != nil {
					return catalog.Break, fmt.Errorf("chown %q: %w", targetPath, err)
				}
			}
		default:
			log.WithFields(log.Fields{"path": path, "mode": inode.Mode}).Warnf("skipping unsupported inode type")
		}
		return catalog.Continue, nil
	})

	close(jobs)
	wg.Wait()

	if walkErr != nil {
		return fmt.Errorf("walk catalog: %w", walkErr)
	}
	if err := errOnce.get(); err != nil {
		return err
	}

	log.WithFields(log.Fields{"target": target}).Debugf("unpack finished")
	return nil
}

// createSymlink recreates a symlink inode. An absolute target is re-rooted
// under root so that an image describing an absolute symlink never escapes
// the unpack target directory (spec §4.6 step 2, Non-goals: no general
// POSIX semantics, but this one safety property is load-bearing).
func createSymlink(r *catalog.Reader, targetPath, root string, inode catalog.Inode) error {
	data, err := r.Extra(inode.Ino)
	if err != nil {
		return fmt.Errorf("load symlink target for ino %d: %w", inode.Ino, err)
	}
	linkTarget := string(data)
	if filepath.IsAbs(linkTarget) {
		rooted, err := securejoin.SecureJoin(root, linkTarget)
		if err != nil {
			return fmt.Errorf("reroot symlink target %q: %w", linkTarget, err)
		}
		linkTarget = rooted
	}

	_ = os.Remove(targetPath)
	if err := os.Symlink(linkTarget, targetPath); err != nil {
		return fmt.Errorf("symlink %q -> %q: %w", targetPath, linkTarget, err)
	}
	return nil
}

// createSpecial recreates a fifo, char device, block device, or socket
// inode via mknod(2), using the inode's Rdev field for device nodes
// (adapted from umoci's pkg/system Mknod/Makedev wrappers, spec §3 "Inode").
func createSpecial(targetPath string, inode catalog.Inode) error {
	_ = os.Remove(targetPath)
	mode := inode.Mode&0777 | catalog.ModeType(inode.Mode)
	if err := system.Mknod(targetPath, mode, system.Dev_t(inode.Rdev)); err != nil {
		return fmt.Errorf("mknod %q: %w", targetPath, err)
	}
	return nil
}

// downloadFile streams a regular file's blocks from the cache into a
// freshly created file at job.targetPath.
func downloadFile(ctx context.Context, c *cache.Cache, job downloadJob, preserve bool) error {
	fh, err := os.OpenFile(job.targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(catalog.ModePerm(job.inode.Mode)))
	if err != nil {
		return fmt.Errorf("create %q: %w", job.targetPath, err)
	}
	defer fh.Close()

	if err := c.Direct(ctx, job.blocks, fh); err != nil {
		return fmt.Errorf("stream content: %w", err)
	}

	// O_CREATE's mode argument is masked by the process umask, so chmod
	// explicitly once content is written (spec §8.1 round-trip invariant
	// on mode bits). Only the 0777 permission bits are applied here;
	// setuid, setgid and sticky bits are not restored.
	if err := fh.Chmod(os.FileMode(catalog.ModePerm(job.inode.Mode))); err != nil {
		return fmt.Errorf("chmod %q: %w", job.targetPath, err)
	}

	if preserve {
		if err := system.Lchown(job.targetPath, job.inode.UID, job.inode.GID); err != nil {
			return fmt.Errorf("chown %q: %w", job.targetPath, err)
		}
	}
	_ = system.Lutimes(job.targetPath, time.Unix(job.inode.Mtime, 0))
	return nil
}

// firstError captures the first error reported by any download worker.
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
