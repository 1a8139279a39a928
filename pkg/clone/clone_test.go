package clone

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/rfs-go/pkg/cache"
	"github.com/threefoldtech/rfs-go/pkg/catalog"
	"github.com/threefoldtech/rfs-go/pkg/config"
	"github.com/threefoldtech/rfs-go/pkg/pack"
	"github.com/threefoldtech/rfs-go/pkg/router"
	"github.com/threefoldtech/rfs-go/pkg/store/dirstore"
)

func packFixture(t *testing.T, files map[string]string) (*catalog.Reader, *router.Router, string) {
	t.Helper()
	source := t.TempDir()
	for name, content := range files {
		full := filepath.Join(source, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}

	backendDir := t.TempDir()
	backend, err := dirstore.New(backendDir, 0x00, 0xff)
	require.NoError(t, err)
	r := router.New()
	r.Add(0x00, 0xff, backend)

	catalogPath := filepath.Join(t.TempDir(), "image.fl")
	w, err := catalog.NewWriter(catalogPath)
	require.NoError(t, err)
	require.NoError(t, pack.Pack(context.Background(), w, r, source, config.DefaultPackOptions()))
	require.NoError(t, w.Close())

	reader, err := catalog.OpenReader(catalogPath)
	require.NoError(t, err)
	return reader, r, backendDir
}

func TestCloneCopiesEveryBlock(t *testing.T) {
	reader, srcRouter, _ := packFixture(t, map[string]string{"a.txt": "hello clone"})
	defer reader.Close()

	dstBackend, err := dirstore.New(t.TempDir(), 0x00, 0xff)
	require.NoError(t, err)
	dstRouter := router.New()
	dstRouter.Add(0x00, 0xff, dstBackend)

	require.NoError(t, Clone(context.Background(), reader, srcRouter, dstRouter, config.DefaultCloneOptions()))

	c, err := cache.New(t.TempDir(), dstRouter)
	require.NoError(t, err)

	a, err := reader.Lookup(catalog.RootIno, "a.txt")
	require.NoError(t, err)
	refs, err := reader.Blocks(a.Ino)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	got, err := c.Get(context.Background(), refs[0].ID, refs[0].Key)
	require.NoError(t, err)
	require.Equal(t, "hello clone", string(got))
}

func TestMergeOverlaysDirectoriesAndAppliesCollisionPolicy(t *testing.T) {
	readerA, routerA, _ := packFixture(t, map[string]string{
		"shared/only-in-a.txt": "from a",
		"shared/both.txt":      "a's version",
	})
	defer readerA.Close()
	readerB, routerB, _ := packFixture(t, map[string]string{
		"shared/only-in-b.txt": "from b",
		"shared/both.txt":      "b's version",
	})
	defer readerB.Close()

	dstBackend, err := dirstore.New(t.TempDir(), 0x00, 0xff)
	require.NoError(t, err)
	dstRouter := router.New()
	dstRouter.Add(0x00, 0xff, dstBackend)

	dstPath := filepath.Join(t.TempDir(), "merged.fl")
	w, err := catalog.NewWriter(dstPath)
	require.NoError(t, err)
	require.NoError(t, w.PutInode(catalog.Inode{Ino: catalog.RootIno, Name: "/", Mode: catalog.ModeDir | 0755}))

	opts := config.MergeOptions{Collision: config.LastWriterWins}
	sources := []Source{{Reader: readerA, Router: routerA}, {Reader: readerB, Router: routerB}}
	require.NoError(t, Merge(context.Background(), w, dstRouter, sources, opts))
	require.NoError(t, w.Close())

	merged, err := catalog.OpenReader(dstPath)
	require.NoError(t, err)
	defer merged.Close()

	shared, err := merged.Lookup(catalog.RootIno, "shared")
	require.NoError(t, err)
	require.True(t, shared.IsDir())

	onlyA, err := merged.Lookup(shared.Ino, "only-in-a.txt")
	require.NoError(t, err)
	require.True(t, onlyA.IsRegular())

	onlyB, err := merged.Lookup(shared.Ino, "only-in-b.txt")
	require.NoError(t, err)
	require.True(t, onlyB.IsRegular())

	// both.txt existed in both sources; LastWriterWins keeps source B's row.
	both, err := merged.Lookup(shared.Ino, "both.txt")
	require.NoError(t, err)
	bothBlocks, err := merged.Blocks(both.Ino)
	require.NoError(t, err)
	require.Len(t, bothBlocks, 1)

	// the merged catalog's blocks must actually be readable from dstRouter,
	// not just replayed as rows.
	c, err := cache.New(t.TempDir(), dstRouter)
	require.NoError(t, err)
	got, err := c.Get(context.Background(), bothBlocks[0].ID, bothBlocks[0].Key)
	require.NoError(t, err)
	require.Equal(t, "b's version", string(got))

	onlyABlocks, err := merged.Blocks(onlyA.Ino)
	require.NoError(t, err)
	require.Len(t, onlyABlocks, 1)
	got, err = c.Get(context.Background(), onlyABlocks[0].ID, onlyABlocks[0].Key)
	require.NoError(t, err)
	require.Equal(t, "from a", string(got))
}

func TestMergeErrorOnCollision(t *testing.T) {
	readerA, routerA, _ := packFixture(t, map[string]string{"both.txt": "a"})
	defer readerA.Close()
	readerB, routerB, _ := packFixture(t, map[string]string{"both.txt": "b"})
	defer readerB.Close()

	dstBackend, err := dirstore.New(t.TempDir(), 0x00, 0xff)
	require.NoError(t, err)
	dstRouter := router.New()
	dstRouter.Add(0x00, 0xff, dstBackend)

	dstPath := filepath.Join(t.TempDir(), "merged.fl")
	w, err := catalog.NewWriter(dstPath)
	require.NoError(t, err)
	require.NoError(t, w.PutInode(catalog.Inode{Ino: catalog.RootIno, Name: "/", Mode: catalog.ModeDir | 0755}))
	defer w.Close()

	opts := config.MergeOptions{Collision: config.ErrorOnCollision}
	sources := []Source{{Reader: readerA, Router: routerA}, {Reader: readerB, Router: routerB}}
	err = Merge(context.Background(), w, dstRouter, sources, opts)
	require.Error(t, err)
}
