// Package backend resolves a configured driver to the importer and exporter
// sessions of a concrete storage backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gridstore/internal/backend/core"
	"gridstore/internal/blob"
	"gridstore/internal/infra/backend/coords"
	"gridstore/internal/infra/backend/csvdir"
	"gridstore/internal/infra/backend/hier"
	"gridstore/pkg/domain"
)

// Capability describes one driver: what it is, which options it honours and
// how to open sessions on it.
type Capability struct {
	Description string
	// Honors lists the core.Option* names the driver applies.
	Honors []string
	// BoolNetworkAttributes reports whether boolean network scalars survive.
	BoolNetworkAttributes bool
	NewImporter           func(ctx context.Context, cfg Config) (core.Importer, error)
	NewExporter           func(ctx context.Context, cfg Config) (core.Exporter, error)
}

// Registry maps drivers to capabilities.
type Registry struct {
	mu   sync.RWMutex
	caps map[core.Driver]Capability
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[core.Driver]Capability)}
}

// Register adds a capability. Registering a driver twice is an error.
func (r *Registry) Register(driver core.Driver, c Capability) error {
	if driver == "" {
		return errors.New("driver name required")
	}
	if c.NewImporter == nil || c.NewExporter == nil {
		return fmt.Errorf("driver %s: importer and exporter constructors required", driver)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[driver]; exists {
		return fmt.Errorf("driver %s already registered", driver)
	}
	r.caps[driver] = c
	return nil
}

// Lookup returns the capability of driver.
func (r *Registry) Lookup(driver core.Driver) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[driver]
	if !ok {
		return Capability{}, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	return c, nil
}

// Drivers lists the registered drivers sorted by name.
func (r *Registry) Drivers() []core.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Driver, 0, len(r.caps))
	for d := range r.caps {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) resolve(cfg Config) (Capability, error) {
	if err := cfg.Validate(); err != nil {
		return Capability{}, err
	}
	return r.Lookup(cfg.Driver)
}

// OpenImporter validates cfg and opens a read session.
func (r *Registry) OpenImporter(ctx context.Context, cfg Config) (core.Importer, error) {
	c, err := r.resolve(cfg)
	if err != nil {
		return nil, err
	}
	return c.NewImporter(ctx, cfg)
}

// OpenExporter validates cfg and opens a write session.
func (r *Registry) OpenExporter(ctx context.Context, cfg Config) (core.Exporter, error) {
	c, err := r.resolve(cfg)
	if err != nil {
		return nil, err
	}
	return c.NewExporter(ctx, cfg)
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the registry holding every built-in driver.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry()
		registerBuiltins(defaultReg)
	})
	return defaultReg
}

func registerBuiltins(r *Registry) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.Register(core.DriverCSV, Capability{
		Description:           "directory of CSV tables on a blob sink",
		Honors:                []string{core.OptionEncoding, core.OptionFloatTruncationDigits, core.OptionIncludeStandardTypes},
		BoolNetworkAttributes: true,
		NewImporter: func(ctx context.Context, cfg Config) (core.Importer, error) {
			return openCSV(ctx, cfg, false)
		},
		NewExporter: func(ctx context.Context, cfg Config) (core.Exporter, error) {
			return openCSV(ctx, cfg, true)
		},
	}))
	for _, d := range []core.Driver{core.DriverSQLite, core.DriverPostgres} {
		must(r.Register(d, Capability{
			Description:           "hierarchical node table in " + string(d),
			Honors:                []string{core.OptionCompressionLevel, core.OptionIncludeStandardTypes},
			BoolNetworkAttributes: true,
			NewImporter: func(ctx context.Context, cfg Config) (core.Importer, error) {
				return hier.NewImporter(ctx, hierConfig(cfg))
			},
			NewExporter: func(ctx context.Context, cfg Config) (core.Exporter, error) {
				return hier.NewExporter(ctx, hierConfig(cfg))
			},
		}))
	}
	must(r.Register(core.DriverBadger, Capability{
		Description: "coordinate/array store in BadgerDB",
		Honors:      []string{core.OptionCompressionLevel, core.OptionFloatTruncationDigits, core.OptionIncludeStandardTypes},
		NewImporter: func(ctx context.Context, cfg Config) (core.Importer, error) {
			return coords.NewImporter(ctx, coordsConfig(cfg))
		},
		NewExporter: func(ctx context.Context, cfg Config) (core.Exporter, error) {
			return coords.NewExporter(ctx, coordsConfig(cfg))
		},
	}))
}

func hierConfig(cfg Config) hier.Config {
	return hier.Config{
		Dialect: hier.Dialect(cfg.Driver),
		Path:    cfg.Path,
		DSN:     cfg.DSN,
		Options: cfg.options(),
		Logger:  cfg.logger(),
	}
}

func coordsConfig(cfg Config) coords.Config {
	return coords.Config{Dir: cfg.Path, InMemory: cfg.InMemory, Options: cfg.options(), Logger: cfg.logger()}
}

// csvBackend closes the sink it opened itself.
type csvBackend struct {
	*csvdir.Backend
	sink io.Closer
}

func (b *csvBackend) Close() error {
	err := b.Backend.Close()
	if b.sink != nil {
		err = errors.Join(err, b.sink.Close())
	}
	return err
}

func openCSV(ctx context.Context, cfg Config, create bool) (*csvBackend, error) {
	sink, prefix := cfg.Store, cfg.Path
	var owned io.Closer
	if sink == nil {
		sc := cfg.Sink
		if sc.Driver == "" || sc.Driver == blob.DriverFilesystem {
			if sc.Root == "" {
				sc.Root, prefix = cfg.Path, ""
			}
			if !create {
				if _, err := os.Stat(sc.Root); err != nil {
					return nil, &domain.BackendIOError{Driver: string(core.DriverCSV), Op: "open", Err: err}
				}
			}
		}
		s, err := blob.Open(ctx, sc)
		if err != nil {
			return nil, &domain.BackendIOError{Driver: string(core.DriverCSV), Op: "open sink", Err: err}
		}
		sink = s
		if c, ok := s.(io.Closer); ok {
			owned = c
		}
	}
	b, err := csvdir.New(csvdir.Config{
		Sink:    sink,
		Prefix:  strings.Trim(prefix, "/"),
		Options: cfg.options(),
		Logger:  cfg.logger(),
	})
	if err != nil {
		if owned != nil {
			_ = owned.Close()
		}
		return nil, err
	}
	return &csvBackend{Backend: b, sink: owned}, nil
}
