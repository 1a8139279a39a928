package router

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/rfs-go/pkg/store"
)

// memStore is a trivial in-memory store.Store used to exercise the router
// without depending on any concrete backend package.
type memStore struct {
	url     string
	data    map[string][]byte
	getErr  error
	getHits int32
}

func newMemStore(url string) *memStore {
	return &memStore{url: url, data: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, key []byte) ([]byte, error) {
	atomic.AddInt32(&m.getHits, 1)
	if m.getErr != nil {
		return nil, m.getErr
	}
	blob, ok := m.data[string(key)]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	return blob, nil
}

func (m *memStore) Set(_ context.Context, key []byte, blob []byte) error {
	m.data[string(key)] = blob
	return nil
}

func (m *memStore) Routes() []store.Route {
	return []store.Route{{Start: 0x00, End: 0xff, URL: m.url}}
}

func TestRouterWriteAllReadAny(t *testing.T) {
	r := New()
	a := newMemStore("dir:///a")
	b := newMemStore("dir:///b")
	c := newMemStore("dir:///c")
	r.Add(0x00, 0xff, a)
	r.Add(0x00, 0xff, b)
	r.Add(0x00, 0xff, c)

	key := []byte{0x10, 0x20}
	require.NoError(t, r.Set(context.Background(), key, []byte("payload")))

	require.Equal(t, []byte("payload"), a.data[string(key)])
	require.Equal(t, []byte("payload"), b.data[string(key)])
	require.Equal(t, []byte("payload"), c.data[string(key)])

	// A get succeeds as long as any one backend holds the key, even if the
	// others are down.
	a.getErr = store.ErrUnavailable
	b.getErr = store.ErrUnavailable
	got, err := r.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestRouterAllFail(t *testing.T) {
	r := New()
	a := newMemStore("dir:///a")
	a.getErr = store.ErrUnavailable
	r.Add(0x00, 0xff, a)

	_, err := r.Get(context.Background(), []byte{0x01})
	require.Error(t, err)
	var multi *Multiple
	require.ErrorAs(t, err, &multi)
	require.Len(t, multi.Errors, 1)
}

func TestRouterNotRoutable(t *testing.T) {
	r := New()
	a := newMemStore("dir:///a")
	r.Add(0x00, 0x7f, a)

	_, err := r.Get(context.Background(), []byte{0x80})
	require.ErrorIs(t, err, ErrKeyNotRoutable)

	err = r.Set(context.Background(), []byte{0x80}, []byte("x"))
	require.ErrorIs(t, err, ErrKeyNotRoutable)
}

func TestRouterSharding(t *testing.T) {
	r := New()
	lo := newMemStore("dir:///lo")
	hi := newMemStore("dir:///hi")
	r.Add(0x00, 0x7f, lo)
	r.Add(0x80, 0xff, hi)

	require.NoError(t, r.Set(context.Background(), []byte{0x10}, []byte("low")))
	require.NoError(t, r.Set(context.Background(), []byte{0x90}, []byte("high")))

	require.Contains(t, lo.data, string([]byte{0x10}))
	require.NotContains(t, lo.data, string([]byte{0x90}))
	require.Contains(t, hi.data, string([]byte{0x90}))
}

func TestParseRange(t *testing.T) {
	lo, hi, url, err := ParseRange("0x00-0x7f=dir:///tmp/a")
	require.NoError(t, err)
	require.Equal(t, byte(0x00), lo)
	require.Equal(t, byte(0x7f), hi)
	require.Equal(t, "dir:///tmp/a", url)

	lo, hi, url, err = ParseRange("dir:///tmp/b")
	require.NoError(t, err)
	require.Equal(t, byte(0x00), lo)
	require.Equal(t, byte(0xff), hi)
	require.Equal(t, "dir:///tmp/b", url)
}

func TestStripCredentials(t *testing.T) {
	require.Equal(t, "s3://host:9000/bucket", StripCredentials("s3://user:pass@host:9000/bucket"))
	require.Equal(t, "dir:///tmp/x", StripCredentials("dir:///tmp/x"))
}
