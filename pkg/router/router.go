// Package router dispatches blob keys to the backend(s) whose accepted
// byte-range covers the key's first byte, implementing the read-any /
// write-all fan-out described in spec §4.2.
package router

import (
	"context"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/threefoldtech/rfs-go/pkg/store"
)

// ErrKeyNotRoutable is returned when no bound store accepts a key's first
// byte. This indicates a malformed image (a route was dropped, or the
// catalog's route table doesn't cover the full key space it was packed
// against).
var ErrKeyNotRoutable = errors.New("key not routable")

// Multiple aggregates the per-backend errors seen when every matching store
// failed a Get. Set does not use it: it returns the first backend failure.
type Multiple struct {
	Errors []error
}

func (m *Multiple) Error() string {
	var sb strings.Builder
	sb.WriteString("multiple store errors: ")
	for i, err := range m.Errors {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// binding pairs a byte-range with the inner store that serves it.
type binding struct {
	start, end byte
	inner      store.Store
}

func (b binding) contains(first byte) bool {
	return b.start <= first && first <= b.end
}

// Router holds an ordered list of (range, store) bindings and implements
// store.Store itself, so that a Router can be nested or passed anywhere a
// single backend is expected.
type Router struct {
	bindings []binding
}

// New builds an empty Router. Use Add to bind backends.
func New() *Router {
	return &Router{}
}

// Add binds inner to the inclusive byte range [start, end].
func (r *Router) Add(start, end byte, inner store.Store) {
	r.bindings = append(r.bindings, binding{start: start, end: end, inner: inner})
}

// route returns every inner store whose range contains first, in a
// randomly shuffled order so that repeated reads spread load across
// replicas (spec §4.2, tests must not assume a specific backend is hit).
func (r *Router) route(first byte) []store.Store {
	var matches []store.Store
	for _, b := range r.bindings {
		if b.contains(first) {
			matches = append(matches, b.inner)
		}
	}
	rand.Shuffle(len(matches), func(i, j int) {
		matches[i], matches[j] = matches[j], matches[i]
	})
	return matches
}

// Get tries matching backends in randomized order and returns the first
// success (read-any). If every matching backend fails, returns *Multiple.
// If no backend matches the key's first byte, returns ErrKeyNotRoutable.
func (r *Router) Get(ctx context.Context, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.New("empty key")
	}
	matches := r.route(key[0])
	if len(matches) == 0 {
		return nil, ErrKeyNotRoutable
	}

	var errs []error
	for _, s := range matches {
		blob, err := s.Get(ctx, key)
		if err == nil {
			return blob, nil
		}
		errs = append(errs, err)
	}
	return nil, &Multiple{Errors: errs}
}

// Set writes to every matching backend (write-all replication). Any single
// failure fails the whole call. If no backend matches, returns
// ErrKeyNotRoutable.
func (r *Router) Set(ctx context.Context, key []byte, blob []byte) error {
	if len(key) == 0 {
		return errors.New("empty key")
	}
	matches := r.route(key[0])
	if len(matches) == 0 {
		return ErrKeyNotRoutable
	}

	for _, s := range matches {
		if err := s.Set(ctx, key, blob); err != nil {
			return errors.Wrapf(err, "set on backend failed")
		}
	}
	return nil
}

// Routes flattens all bindings into store.Route records, suitable for
// persisting into the catalog's route table (spec §4.5 step 1).
func (r *Router) Routes() []store.Route {
	routes := make([]store.Route, 0, len(r.bindings))
	for _, b := range r.bindings {
		routes = append(routes, store.Route{Start: b.start, End: b.end, URL: b.inner.Routes()[0].URL})
	}
	return routes
}

// ParseRange parses a "<lo>-<hi>" prefix (hex or decimal, as accepted by
// strconv.ParseUint with base 0) out of a route spec of the form
// "[<lo>-<hi>=]<url>". If no range prefix is present, the full 0x00-0xff
// range is returned along with the whole string as the URL.
func ParseRange(spec string) (start, end byte, url string, err error) {
	eq := strings.Index(spec, "=")
	if eq < 0 {
		return 0x00, 0xff, spec, nil
	}
	rangePart, urlPart := spec[:eq], spec[eq+1:]
	dash := strings.Index(rangePart, "-")
	if dash < 0 {
		return 0, 0, "", errors.Errorf("invalid range %q: missing '-'", rangePart)
	}
	lo, err := strconv.ParseUint(rangePart[:dash], 0, 8)
	if err != nil {
		return 0, 0, "", errors.Wrapf(err, "invalid range start %q", rangePart[:dash])
	}
	hi, err := strconv.ParseUint(rangePart[dash+1:], 0, 8)
	if err != nil {
		return 0, 0, "", errors.Wrapf(err, "invalid range end %q", rangePart[dash+1:])
	}
	if lo > hi {
		return 0, 0, "", errors.Errorf("invalid range %q: start > end", rangePart)
	}
	return byte(lo), byte(hi), urlPart, nil
}

// StripCredentials removes a "user:pass@" userinfo component from a store
// URL before it is persisted to the catalog's route table, matching the
// rfs original's strip-password pack option (spec §4.5 step 1).
func StripCredentials(rawURL string) string {
	schemeSep := strings.Index(rawURL, "://")
	if schemeSep < 0 {
		return rawURL
	}
	scheme, rest := rawURL[:schemeSep+3], rawURL[schemeSep+3:]

	at := strings.Index(rest, "@")
	if at < 0 {
		return rawURL
	}
	// Only strip if what precedes '@' looks like userinfo (no further
	// slashes), otherwise leave the URL untouched.
	if slash := strings.Index(rest, "/"); slash >= 0 && slash < at {
		return rawURL
	}
	return scheme + rest[at+1:]
}
