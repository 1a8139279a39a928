// Package s3store implements the s3[s]://[user[:pass]@]host[:port]/bucket
// backend (spec §6) on top of aws-sdk-go-v2.
package s3store

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/threefoldtech/rfs-go/pkg/store"
)

// Store is a store.Store backed by an S3-compatible object store. Blobs are
// keyed by the hex-encoded content address (spec §6).
type Store struct {
	client *s3.Client
	bucket string
	rawURL string
	start  byte
	end    byte
}

// Open parses rawURL (s3://[user[:pass]@]host[:port]/bucket or s3s://...
// for TLS) and connects to the bucket.
func Open(ctx context.Context, rawURL string, start, end byte) (*Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse s3 url: %w", err)
	}

	useTLS := u.Scheme == "s3s"
	scheme := "http"
	if useTLS {
		scheme = "https"
	}

	bucket := strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return nil, fmt.Errorf("s3 url %q has no bucket path", rawURL)
	}

	var creds aws.CredentialsProvider
	if u.User != nil {
		pass, _ := u.User.Password()
		creds = credentials.NewStaticCredentialsProvider(u.User.Username(), pass, "")
	}

	endpoint := fmt.Sprintf("%s://%s", scheme, u.Host)
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(orDefault(creds)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &Store{client: client, bucket: bucket, rawURL: rawURL, start: start, end: end}, nil
}

func orDefault(creds aws.CredentialsProvider) aws.CredentialsProvider {
	if creds != nil {
		return creds
	}
	return aws.AnonymousCredentials{}
}

func keyName(key []byte) string {
	return hex.EncodeToString(key)
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(keyName(key)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: get object: %v", store.ErrUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object body: %v", store.ErrIO, err)
	}
	if len(data) == 0 {
		return nil, store.ErrInvalidBlob
	}
	return data, nil
}

// Set implements store.Store. Idempotent: if the object already exists,
// it is left untouched (content-addressed objects never change content).
func (s *Store) Set(ctx context.Context, key []byte, blob []byte) error {
	name := keyName(key)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return fmt.Errorf("%w: put object: %v", store.ErrIO, err)
	}
	return nil
}

// Routes implements store.Store.
func (s *Store) Routes() []store.Route {
	return []store.Route{{Start: s.start, End: s.end, URL: s.rawURL}}
}
