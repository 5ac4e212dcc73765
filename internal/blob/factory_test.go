package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := Open(ctx, Config{Root: root})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if s.Driver() != DriverFilesystem {
		t.Fatalf("expected fs default, got %s", s.Driver())
	}
	if _, err := s.Put(ctx, "buses.csv", bytes.NewBufferString("name\n"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Head(ctx, "missing.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	m, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || m.Driver() != DriverMemory {
		t.Fatalf("open memory: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected s3 without bucket to fail")
	}
	if _, err := Open(ctx, Config{Driver: DriverGCS}); err == nil {
		t.Fatalf("expected gcs without bucket to fail")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("GRIDSTORE_BLOB_DRIVER", "fs")
	t.Setenv("GRIDSTORE_BLOB_FS_ROOT", "/tmp/nets")
	t.Setenv("GRIDSTORE_BLOB_FS_SIDECARS", "TRUE")
	if cfg := ConfigFromEnv(); cfg.Driver != DriverFilesystem || cfg.Root != "/tmp/nets" || !cfg.Sidecars {
		t.Fatalf("unexpected fs config %+v", cfg)
	}
	t.Setenv("GRIDSTORE_BLOB_DRIVER", "s3")
	t.Setenv("GRIDSTORE_BLOB_S3_BUCKET", "grids")
	t.Setenv("GRIDSTORE_BLOB_S3_REGION", "eu-west-1")
	if cfg := ConfigFromEnv(); cfg.Bucket != "grids" || cfg.Region != "eu-west-1" {
		t.Fatalf("unexpected s3 config %+v", cfg)
	}
	t.Setenv("GRIDSTORE_BLOB_DRIVER", "gcs")
	t.Setenv("GRIDSTORE_BLOB_GCS_BUCKET", "gcs-grids")
	if cfg := ConfigFromEnv(); cfg.Bucket != "gcs-grids" || cfg.Driver != DriverGCS {
		t.Fatalf("unexpected gcs config %+v", cfg)
	}
}
