package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.fl")
	w, err := NewWriter(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestWriterReaderRoundTrip(t *testing.T) {
	w, path := newTestCatalog(t)

	require.NoError(t, w.PutInode(Inode{Ino: RootIno, Parent: 0, Name: "/", Mode: ModeDir | 0755}))

	fileIno := w.NextIno()
	require.NoError(t, w.PutInode(Inode{Ino: fileIno, Parent: RootIno, Name: "hello.txt", Mode: ModeRegular | 0644, Size: 11}))

	var id, key [KeySize]byte
	id[0] = 0xaa
	key[0] = 0xbb
	require.NoError(t, w.PutBlock(fileIno, 0, BlockRef{ID: id, Key: key, Order: 0}))

	require.NoError(t, w.PutRoute(0x00, 0xff, "dir:///tmp/store"))
	require.NoError(t, w.PutTag(TagVersion, "1.0"))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	root, err := r.Inode(RootIno)
	require.NoError(t, err)
	require.True(t, root.IsDir())

	got, err := r.Lookup(RootIno, "hello.txt")
	require.NoError(t, err)
	require.Equal(t, fileIno, got.Ino)
	require.True(t, got.IsRegular())

	blocks, err := r.Blocks(fileIno)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, id, blocks[0].ID)
	require.Equal(t, key, blocks[0].Key)

	tag, err := r.Tag(TagVersion)
	require.NoError(t, err)
	require.Equal(t, "1.0", tag)

	routes, err := r.Routes()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, "dir:///tmp/store", routes[0].URL)
}

func TestWalkCompleteness(t *testing.T) {
	w, path := newTestCatalog(t)

	require.NoError(t, w.PutInode(Inode{Ino: RootIno, Name: "/", Mode: ModeDir | 0755}))
	dirIno := w.NextIno()
	require.NoError(t, w.PutInode(Inode{Ino: dirIno, Parent: RootIno, Name: "sub", Mode: ModeDir | 0755}))
	fileIno := w.NextIno()
	require.NoError(t, w.PutInode(Inode{Ino: fileIno, Parent: dirIno, Name: "leaf", Mode: ModeRegular | 0644}))
	siblingIno := w.NextIno()
	require.NoError(t, w.PutInode(Inode{Ino: siblingIno, Parent: RootIno, Name: "top-file", Mode: ModeRegular | 0644}))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var visited []string
	err = r.Walk(func(p string, inode Inode) (VisitResult, error) {
		visited = append(visited, p)
		return Continue, nil
	})
	require.NoError(t, err)
	require.Len(t, visited, 4)
	require.Equal(t, "/", visited[0])
}

func TestWalkBreakSkipsSubtree(t *testing.T) {
	w, path := newTestCatalog(t)
	require.NoError(t, w.PutInode(Inode{Ino: RootIno, Name: "/", Mode: ModeDir | 0755}))
	dirIno := w.NextIno()
	require.NoError(t, w.PutInode(Inode{Ino: dirIno, Parent: RootIno, Name: "skip-me", Mode: ModeDir | 0755}))
	leafIno := w.NextIno()
	require.NoError(t, w.PutInode(Inode{Ino: leafIno, Parent: dirIno, Name: "leaf", Mode: ModeRegular | 0644}))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var visited []string
	err = r.Walk(func(p string, inode Inode) (VisitResult, error) {
		visited = append(visited, p)
		if inode.Name == "skip-me" {
			return Break, nil
		}
		return Continue, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/", "/skip-me"}, visited)
}

func TestInspectorStat(t *testing.T) {
	w, path := newTestCatalog(t)
	require.NoError(t, w.PutInode(Inode{Ino: RootIno, Name: "/", Mode: ModeDir | 0755}))
	dirIno := w.NextIno()
	require.NoError(t, w.PutInode(Inode{Ino: dirIno, Parent: RootIno, Name: "a", Mode: ModeDir | 0755}))
	fileIno := w.NextIno()
	require.NoError(t, w.PutInode(Inode{Ino: fileIno, Parent: dirIno, Name: "b", Mode: ModeRegular | 0644}))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	insp := NewInspector(r)
	got, err := insp.Stat("a/b")
	require.NoError(t, err)
	require.Equal(t, fileIno, got.Ino)
}
