package unpack

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

func TestPackUnpackRoundTrip(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(source, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "nested", "b.txt"), []byte("bravo bravo bravo"), 0644))
	require.NoError(t, os.Symlink("../a.txt", filepath.Join(source, "nested", "rel-link")))
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(source, "nested", "abs-link")))

	backend, err := dirstore.New(t.TempDir(), 0x00, 0xff)
	require.NoError(t, err)
	r := router.New()
	r.Add(0x00, 0xff, backend)

	catalogPath := filepath.Join(t.TempDir(), "out.fl")
	w, err := catalog.NewWriter(catalogPath)
	require.NoError(t, err)
	require.NoError(t, pack.Pack(context.Background(), w, r, source, config.DefaultPackOptions()))
	require.NoError(t, w.Close())

	reader, err := catalog.OpenReader(catalogPath)
	require.NoError(t, err)
	defer reader.Close()

	c, err := cache.New(t.TempDir(), r)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Unpack(context.Background(), reader, c, dest, config.DefaultUnpackOptions()))

	gotA, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(gotA))

	gotB, err := os.ReadFile(filepath.Join(dest, "nested", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "bravo bravo bravo", string(gotB))

	relTarget, err := os.Readlink(filepath.Join(dest, "nested", "rel-link"))
	require.NoError(t, err)
	require.Equal(t, "../a.txt", relTarget)

	// Absolute symlink targets are re-rooted under dest rather than
	// pointing at the real filesystem.
	absTarget, err := os.Readlink(filepath.Join(dest, "nested", "abs-link"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dest, "etc", "passwd"), absTarget)
}

func TestUnpackEmptyRegularFile(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "empty.txt"), nil, 0644))

	backend, err := dirstore.New(t.TempDir(), 0x00, 0xff)
	require.NoError(t, err)
	r := router.New()
	r.Add(0x00, 0xff, backend)

	catalogPath := filepath.Join(t.TempDir(), "out.fl")
	w, err := catalog.NewWriter(catalogPath)
	require.NoError(t, err)
	require.NoError(t, pack.Pack(context.Background(), w, r, source, config.DefaultPackOptions()))
	require.NoError(t, w.Close())

	reader, err := catalog.OpenReader(catalogPath)
	require.NoError(t, err)
	defer reader.Close()

	c, err := cache.New(t.TempDir(), r)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Unpack(context.Background(), reader, c, dest, config.DefaultUnpackOptions()))

	info, err := os.Stat(filepath.Join(dest, "empty.txt"))
	require.NoError(t, err)
	require.Zero(t, info.Size())
}
