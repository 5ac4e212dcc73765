// Package memory keeps blobs in process memory. Tests use it to inspect the
// exact bytes an export produced.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"gridstore/internal/blob/core"
)

type object struct {
	info core.Info
	body []byte
}

// Store implements core.Store. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

func New() *Store {
	return &Store{objects: make(map[string]object), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.store(k, body, opts)
	return obj.copyInfo(), nil
}

// Seed writes files without going through a reader. Keys must pass CleanKey.
func (s *Store) Seed(files map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, body := range files {
		k, err := core.CleanKey(key)
		if err != nil {
			return err
		}
		s.store(k, []byte(body), core.PutOptions{})
	}
	return nil
}

func (s *Store) store(key string, body []byte, opts core.PutOptions) object {
	sum := sha256.Sum256(body)
	obj := object{
		body: body,
		info: core.Info{
			Key:          key,
			Size:         int64(len(body)),
			ContentType:  opts.ContentType,
			ETag:         hex.EncodeToString(sum[:]),
			Metadata:     maps.Clone(opts.Metadata),
			LastModified: s.now(),
		},
	}
	s.objects[key] = obj
	return obj
}

func (s *Store) lookup(key string) (object, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return object{}, err
	}
	s.mu.RLock()
	obj, ok := s.objects[k]
	s.mu.RUnlock()
	if !ok {
		return object{}, core.NotFound(k)
	}
	return obj, nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	// Stored bodies are never mutated in place, so readers can share them.
	return obj.copyInfo(), io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Info{}, err
	}
	return obj.copyInfo(), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[k]; !ok {
		return false, nil
	}
	delete(s.objects, k)
	return true, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Info
	for _, key := range slices.Sorted(maps.Keys(s.objects)) {
		if strings.HasPrefix(key, prefix) {
			out = append(out, s.objects[key].copyInfo())
		}
	}
	return out, nil
}

// Snapshot copies every body, keyed by blob key.
func (s *Store) Snapshot() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.objects))
	for k, obj := range s.objects {
		out[k] = bytes.Clone(obj.body)
	}
	return out
}

func (o object) copyInfo() core.Info {
	info := o.info
	info.Metadata = maps.Clone(info.Metadata)
	return info
}
