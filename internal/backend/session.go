package backend

import (
	"context"
	"errors"

	"gridstore/internal/backend/core"
)

// WithImporter opens a read session, runs fn and closes the session on every
// path. A close failure is joined into the returned error.
func WithImporter(ctx context.Context, r *Registry, cfg Config, fn func(core.Importer) error) (err error) {
	im, err := r.OpenImporter(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, im.Close()) }()
	return fn(im)
}

// WithExporter opens a write session, runs fn and closes the session on every
// path. Finish is called only when fn succeeds.
func WithExporter(ctx context.Context, r *Registry, cfg Config, fn func(core.Exporter) error) (err error) {
	ex, err := r.OpenExporter(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, ex.Close()) }()
	if err := fn(ex); err != nil {
		return err
	}
	return ex.Finish(ctx)
}
