// Package zdbstore implements the zdb://[user[:pass]@]host[:port]/namespace
// backend (spec §6). zdb speaks a RESP-like protocol (SELECT/GET/EXISTS/SET)
// compatible enough with Redis's wire format that a stock RESP client works
// against it (see original_source/src/store/zdb.rs, which does the same
// over the Rust redis crate).
package zdbstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/threefoldtech/rfs-go/pkg/store"
)

// Store is a store.Store backed by a zdb namespace.
type Store struct {
	client    *redis.Client
	rawURL    string
	start     byte
	end       byte
	namespace string
}

// Open parses rawURL and connects to the zdb namespace. For any namespace
// other than "default", SELECT <namespace> [<password>] is issued on every
// connection the pool opens, and one Ping up front checks that it
// succeeds; for "default" no SELECT is sent and the password is unused.
func Open(ctx context.Context, rawURL string, start, end byte) (*Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse zdb url: %w", err)
	}

	addr := u.Host
	if addr == "" {
		return nil, fmt.Errorf("zdb url %q must use a tcp host (unix sockets unsupported)", rawURL)
	}
	if u.Port() == "" {
		addr = addr + ":9900"
	}

	namespace := strings.TrimPrefix(u.Path, "/")
	if namespace == "" {
		namespace = "default"
	}

	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}

	opts := &redis.Options{Addr: addr}
	if namespace != "default" {
		// go-redis pools connections, so SELECT must run on every new
		// connection the pool opens, not just once up front, or a Get/Set
		// can land on a connection that never selected the namespace (the
		// Rust client's connection customizer runs on every checkout for
		// the same reason, see original_source/src/store/zdb.rs).
		opts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
			args := []interface{}{"SELECT", namespace}
			if password != "" {
				args = append(args, password)
			}
			return cn.Do(ctx, args...).Err()
		}
	}
	client := redis.NewClient(opts)

	if namespace != "default" {
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("%w: select namespace %q: %v", store.ErrUnavailable, namespace, err)
		}
	}

	return &Store{client: client, rawURL: rawURL, start: start, end: end, namespace: namespace}, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	data, err := s.client.Get(ctx, string(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: get: %v", store.ErrUnavailable, err)
	}
	if len(data) == 0 {
		return nil, store.ErrInvalidBlob
	}
	return data, nil
}

// Set implements store.Store. Idempotent: EXISTS is checked first so a
// repeated write of the same content-addressed key is a no-op.
func (s *Store) Set(ctx context.Context, key []byte, blob []byte) error {
	n, err := s.client.Exists(ctx, string(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: exists: %v", store.ErrUnavailable, err)
	}
	if n > 0 {
		return nil
	}
	if err := s.client.Set(ctx, string(key), blob, 0).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", store.ErrIO, err)
	}
	return nil
}

// Routes implements store.Store.
func (s *Store) Routes() []store.Route {
	return []store.Route{{Start: s.start, End: s.end, URL: s.rawURL}}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
