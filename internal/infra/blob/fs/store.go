// Package fs implements the blob sink on a local directory. Keys map to
// relative paths, so a table export is a plain directory of files.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"mime"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gridstore/internal/blob/core"
)

const (
	sidecarDir = ".blobmeta"
	tempPrefix = ".tmp-"
	dirPerm    = 0o750
	filePerm   = 0o640
)

// Store implements core.Store on a directory tree.
type Store struct {
	root     string
	sidecars bool
}

// Option configures a Store.
type Option func(*Store)

// WithSidecars keeps content type, user metadata and checksum of every
// object in a hidden .blobmeta tree next to the data. Without sidecars the
// content type is derived from the file extension and metadata is dropped.
func WithSidecars() Option { return func(s *Store) { s.sidecars = true } }

// New returns a store rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	s := &Store{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the directory the store writes into.
func (s *Store) Root() string { return s.root }

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// cleanKey applies the shared key rules and keeps writes out of the sidecar
// tree and away from temporary files.
func cleanKey(key string) (string, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(clean, "/")
	if first == sidecarDir || strings.HasPrefix(path.Base(clean), tempPrefix) {
		return "", fmt.Errorf("%w: %q is reserved", core.ErrInvalidKey, key)
	}
	return clean, nil
}

func (s *Store) dataPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *Store) sidecarPath(key string) string {
	return filepath.Join(s.root, sidecarDir, filepath.FromSlash(key)+".json")
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
}

// Put writes through a temporary file in the target directory and renames
// it into place, so readers never observe a partial table.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	k, err := cleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	dst := s.dataPath(k)
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return core.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return core.Info{}, fmt.Errorf("write %s: %w", k, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return core.Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return core.Info{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return core.Info{}, err
	}

	sc := sidecar{ContentType: opts.ContentType, Metadata: maps.Clone(opts.Metadata), SHA256: hex.EncodeToString(h.Sum(nil))}
	if s.sidecars {
		if err := writeSidecar(s.sidecarPath(k), sc); err != nil {
			return core.Info{}, err
		}
	}
	info := core.Info{Key: k, Size: size, ContentType: sc.ContentType, ETag: sc.SHA256, LastModified: time.Now().UTC()}
	if s.sidecars {
		info.Metadata = maps.Clone(sc.Metadata)
	}
	if info.ContentType == "" {
		info.ContentType = typeByExtension(k)
	}
	return info, nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := os.Open(s.dataPath(k))
	if errors.Is(err, fs.ErrNotExist) {
		return core.Info{}, nil, core.NotFound(k)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return core.Info{}, nil, err
	}
	info, err := s.describe(k, st)
	if err != nil {
		_ = f.Close()
		return core.Info{}, nil, err
	}
	return info, f, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	k, err := cleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	st, err := os.Stat(s.dataPath(k))
	if errors.Is(err, fs.ErrNotExist) {
		return core.Info{}, core.NotFound(k)
	}
	if err != nil {
		return core.Info{}, err
	}
	return s.describe(k, st)
}

// describe combines file stats with the sidecar when one exists. Files put
// in the directory by hand have no sidecar.
func (s *Store) describe(key string, st fs.FileInfo) (core.Info, error) {
	info := core.Info{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC(), ContentType: typeByExtension(key)}
	if !s.sidecars {
		return info, nil
	}
	sc, err := readSidecar(s.sidecarPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("sidecar of %s: %w", key, err)
	}
	if sc.ContentType != "" {
		info.ContentType = sc.ContentType
	}
	info.ETag = sc.SHA256
	info.Metadata = maps.Clone(sc.Metadata)
	return info, nil
}

// Delete removes the object and any directories it leaves empty below the
// root.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	dst := s.dataPath(k)
	if err := os.Remove(dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if s.sidecars {
		_ = os.Remove(s.sidecarPath(k))
	}
	s.pruneEmpty(filepath.Dir(dst))
	return true, nil
}

func (s *Store) pruneEmpty(dir string) {
	root := filepath.Clean(s.root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			return
		}
	}
}

// List walks only the directory that contains prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	start := s.root
	if dir, _ := path.Split(filepath.ToSlash(prefix)); dir != "" {
		k, err := cleanKey(dir)
		if err != nil {
			return nil, err
		}
		start = s.dataPath(k)
	}
	var infos []core.Info
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == start {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == sidecarDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		info, err := s.describe(key, st)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

func typeByExtension(key string) string {
	ext := path.Ext(key)
	if ext == ".csv" {
		return "text/csv"
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return "application/octet-stream"
	}
	return t
}

func writeSidecar(p string, sc sidecar) error {
	b, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return err
	}
	return os.WriteFile(p, b, filePerm)
}

func readSidecar(p string) (sidecar, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return sidecar{}, err
	}
	return sc, nil
}
