package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/threefoldtech/rfs-go/pkg/store"
	"github.com/threefoldtech/rfs-go/pkg/store/dirstore"
	"github.com/threefoldtech/rfs-go/pkg/store/s3store"
	"github.com/threefoldtech/rfs-go/pkg/store/zdbstore"
)

// openBackend dispatches a store URL to the backend its scheme names
// (spec §6): dir:// for a local directory, s3[s]:// for an S3-compatible
// object store, zdb:// for a 0-db namespace.
func openBackend(ctx context.Context, rawURL string, start, end byte) (store.Store, error) {
	switch {
	case strings.HasPrefix(rawURL, "dir://"):
		return dirstore.New(strings.TrimPrefix(rawURL, "dir://"), start, end)
	case strings.HasPrefix(rawURL, "s3://"), strings.HasPrefix(rawURL, "s3s://"):
		return s3store.Open(ctx, rawURL, start, end)
	case strings.HasPrefix(rawURL, "zdb://"):
		return zdbstore.Open(ctx, rawURL, start, end)
	default:
		return nil, fmt.Errorf("unrecognized store url %q: want dir://, s3://, s3s://, or zdb://", rawURL)
	}
}
