package dirstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/rfs-go/pkg/store"
)

func TestSetGetIdempotent(t *testing.T) {
	s, err := New(t.TempDir(), 0x00, 0xff)
	require.NoError(t, err)

	key := []byte{0xab, 0xcd, 0xef}
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, key, []byte("hello")))
	// Setting again with different content must not change the stored blob.
	require.NoError(t, s.Set(ctx, key, []byte("goodbye")))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestGetMissing(t *testing.T) {
	s, err := New(t.TempDir(), 0x00, 0xff)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), []byte{0x01, 0x02})
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestShardedDirectories(t *testing.T) {
	root := t.TempDir()
	lo, err := New(root+"/lo", 0x00, 0x7f)
	require.NoError(t, err)
	hi, err := New(root+"/hi", 0x80, 0xff)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, lo.Set(ctx, []byte{0x10, 0xaa}, []byte("low")))
	require.NoError(t, hi.Set(ctx, []byte{0x90, 0xbb}, []byte("high")))

	_, err = lo.Get(ctx, []byte{0x90, 0xbb})
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}
