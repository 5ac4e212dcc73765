// Package core holds the byte-sink contract shared by the blob drivers and
// the text table backend that writes through them.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Driver names a blob sink implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverGCS        Driver = "gcs"
	DriverMemory     Driver = "memory"
)

var (
	// ErrNotFound is wrapped by every driver when a key is absent.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrInvalidKey is wrapped by every driver when a key fails CleanKey.
	ErrInvalidKey = errors.New("blobstore: invalid key")
)

// PutOptions carries the optional attributes of a write. Drivers that cannot
// persist metadata drop it silently.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes one stored object. ETag is driver specific and only
// comparable between objects of the same sink.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a flat object namespace. Put overwrites, so exporting twice to one
// target leaves only the second export's files.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns the objects whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// CleanKey normalises a slash separated key. Keys must be relative and stay
// below the sink root once cleaned, so a table export can move between sinks.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidKey, key)
	}
	return clean, nil
}

// NotFound wraps ErrNotFound with the missing key.
func NotFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}
