package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"gridstore/internal/blob/core"
)

func newTempStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "net"), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func readAll(t *testing.T, s *Store, key string) (core.Info, string) {
	t.Helper()
	info, rc, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return info, string(b)
}

func TestStore_PlainDirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "buses.csv", bytes.NewBufferString("name,v_nom\n"), core.PutOptions{Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "buses.csv" || info.Size != 11 || info.ContentType != "text/csv" || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "buses.csv", bytes.NewBufferString("name\n"), core.PutOptions{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, body := readAll(t, store, "buses.csv")
	if body != "name\n" || got.Size != 5 || got.Metadata != nil {
		t.Fatalf("unexpected object %+v %q", got, body)
	}

	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "buses.csv" {
		t.Fatalf("export directory should hold only the table, got %v", entries)
	}
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
}

func TestStore_Sidecars(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t, WithSidecars())
	put, err := store.Put(ctx, "series/loads-p_set.csv", bytes.NewBufferString("snapshot,l1\n"), core.PutOptions{ContentType: "text/csv; charset=utf-8", Metadata: map[string]string{"network": "grid"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	head, err := store.Head(ctx, "series/loads-p_set.csv")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ContentType != "text/csv; charset=utf-8" || head.Metadata["network"] != "grid" || head.ETag != put.ETag {
		t.Fatalf("unexpected head %+v", head)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), sidecarDir, "series", "loads-p_set.csv.json")); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	list, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "series/loads-p_set.csv" {
		t.Fatalf("sidecars must not be listed: %+v", list)
	}

	if err := os.WriteFile(filepath.Join(store.Root(), sidecarDir, "series", "loads-p_set.csv.json"), []byte("{"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list error on corrupt sidecar")
	}
}

func TestStore_ListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"run1/loads.csv", "run1/loads-p_set.csv", "run1/buses.csv", "run2/loads.csv", "top.csv"} {
		if _, err := store.Put(ctx, key, bytes.NewBufferString("name\n"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "run1/loads")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "run1/loads-p_set.csv" || list[1].Key != "run1/loads.csv" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 5 {
		t.Fatalf("unexpected full list %+v %v", all, err)
	}
	none, err := store.List(ctx, "run9/")
	if err != nil || len(none) != 0 {
		t.Fatalf("missing prefix dir should list nothing: %+v %v", none, err)
	}
}

func TestStore_DeletePrunesEmptyDirectories(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "a/b/loads-p.csv", bytes.NewBufferString("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := store.Delete(ctx, "a/b/loads-p.csv")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "a")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("empty directories should be removed, stat: %v", err)
	}
	if _, err := os.Stat(store.Root()); err != nil {
		t.Fatalf("root must survive: %v", err)
	}
	ok, err = store.Delete(ctx, "a/b/loads-p.csv")
	if err != nil || ok {
		t.Fatalf("second delete should report false")
	}
}

func TestStore_MissingKeysMatchErrNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, _, err := store.Get(ctx, "absent.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
	if _, err := store.Head(ctx, "absent.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
}

func TestStore_HandPlacedFilesAreVisible(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t, WithSidecars())
	if err := os.WriteFile(filepath.Join(store.Root(), "loads.csv"), []byte("name\nl1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	list, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "loads.csv" || list[0].Size != 8 || list[0].ContentType != "text/csv" {
		t.Fatalf("unexpected list %+v", list)
	}
	if _, body := readAll(t, store, "loads.csv"); body != "name\nl1\n" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestStore_KeyValidation(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "../escape.csv", "a/../../escape.csv", "/abs.csv", sidecarDir + "/x.json", "run/.tmp-123"} {
		if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
	if _, err := store.Put(ctx, "a/../inside.csv", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("key that stays inside the root: %v", err)
	}
	if _, err := store.Head(ctx, "inside.csv"); err != nil {
		t.Fatalf("cleaned key should resolve: %v", err)
	}
}

func TestStore_FailedReadLeavesNoPartialFile(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	boom := errors.New("reader failed")
	if _, err := store.Put(ctx, "buses.csv", io.MultiReader(bytes.NewBufferString("name\n"), errReader{boom}), core.PutOptions{}); !errors.Is(err, boom) {
		t.Fatalf("expected reader error, got %v", err)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty directory, got %v", entries)
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
