// Package gcs implements the blob sink on a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"gridstore/internal/blob/core"
)

// Config holds explicit construction parameters.
type Config struct {
	Bucket          string
	CredentialsFile string // optional; default credentials chain otherwise
	Endpoint        string // optional; emulator or private endpoint
}

// ConfigFromEnv reads GRIDSTORE_BLOB_GCS_BUCKET, GRIDSTORE_BLOB_GCS_CREDENTIALS
// and GRIDSTORE_BLOB_GCS_ENDPOINT.
func ConfigFromEnv() Config {
	return Config{
		Bucket:          os.Getenv("GRIDSTORE_BLOB_GCS_BUCKET"),
		CredentialsFile: os.Getenv("GRIDSTORE_BLOB_GCS_CREDENTIALS"),
		Endpoint:        os.Getenv("GRIDSTORE_BLOB_GCS_ENDPOINT"),
	}
}

// Store implements core.Store on one bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// clientOptions translates Config into client options.
func clientOptions(cfg Config) ([]option.ClientOption, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts, nil
}

// New creates a GCS blob store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverGCS }

// Close releases the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return core.Info{}, fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return core.Info{}, fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return fromAttrs(w.Attrs()), nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	obj := s.client.Bucket(s.bucket).Object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return core.Info{}, nil, mapErr(key, err)
	}
	rc, err := obj.NewReader(ctx)
	if err != nil {
		return core.Info{}, nil, mapErr(key, err)
	}
	return fromAttrs(attrs), rc, nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		return core.Info{}, mapErr(key, err)
	}
	return fromAttrs(attrs), nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	key, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	err = s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var out []core.Info
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fromAttrs(attrs))
	}
	slices.SortFunc(out, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func mapErr(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return core.NotFound(key)
	}
	return err
}

func fromAttrs(a *storage.ObjectAttrs) core.Info {
	if a == nil {
		return core.Info{}
	}
	return core.Info{
		Key:          a.Name,
		Size:         a.Size,
		ContentType:  a.ContentType,
		ETag:         a.Etag,
		Metadata:     a.Metadata,
		LastModified: a.Updated,
	}
}
