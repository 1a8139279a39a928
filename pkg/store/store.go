// Package store defines the narrow contract that every flist backend must
// satisfy, plus the taxonomy of errors a backend can surface (spec §4.1, §7).
package store

import (
	"context"

	"github.com/pkg/errors"
)

// Sentinel errors, compared with errors.Cause(err) == Sentinel or errors.Is.
var (
	// ErrKeyNotFound is returned when a backend has no blob under the given
	// key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnavailable is returned when a backend is temporarily unreachable
	// (network error, timeout, backend down).
	ErrUnavailable = errors.New("store unavailable")

	// ErrInvalidBlob is returned when a backend returns empty or malformed
	// data for an otherwise-present key.
	ErrInvalidBlob = errors.New("invalid blob")

	// ErrIO wraps local filesystem or transport errors that aren't better
	// classified by one of the above.
	ErrIO = errors.New("io error")
)

// Route describes the inclusive first-byte range a backend accepts, and the
// URL it was constructed from. Routes are persisted in the catalog's route
// table so that an unpacker can rebuild a Router with no side channel
// (spec §3 "Route", §6).
type Route struct {
	Start byte
	End   byte
	URL   string
}

// Contains reports whether b falls within [r.Start, r.End].
func (r Route) Contains(b byte) bool {
	return r.Start <= b && b <= r.End
}

// Store is the contract every backend (dir, S3, zdb, ...) must implement.
// Keys are opaque byte strings; the codec passes 32-byte content addresses.
// A Store must not interpret a key beyond its first byte, and only for the
// purposes of Routes() self-description. Concurrent Get/Set on the same key
// must be safe.
type Store interface {
	// Get fetches the blob stored under key. Returns ErrKeyNotFound if
	// absent, ErrUnavailable if the backend is temporarily down, ErrIO for
	// other transport/filesystem failures.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stores blob under key. Idempotent: setting an already-present key
	// must succeed without error and without rewriting the blob.
	Set(ctx context.Context, key []byte, blob []byte) error

	// Routes self-describes the key ranges this backend accepts.
	Routes() []Route
}
