package backend

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gridstore/internal/backend/core"
	"gridstore/internal/blob"
)

// ErrUnknownDriver is returned when a configuration names a driver that no
// capability is registered for.
var ErrUnknownDriver = errors.New("unknown backend driver")

// Config selects a backend and its target. Which fields apply depends on the
// driver:
//
//	csv:      Path is the directory (fs sink) or key prefix (other sinks)
//	sqlite:   Path is the database file
//	postgres: DSN is the connection string
//	badger:   Path is the database directory unless InMemory is set
type Config struct {
	Driver core.Driver `yaml:"driver" json:"driver" validate:"required"`
	Path   string      `yaml:"path" json:"path,omitempty"`
	DSN    string      `yaml:"dsn" json:"dsn,omitempty"`
	// Sink selects the blob driver for csv. The zero value writes to the
	// local filesystem.
	Sink blob.Config `yaml:"sink" json:"sink"`
	// Store is an already opened sink; it takes precedence over Sink and is
	// not closed by the backend.
	Store    blob.Store    `yaml:"-" json:"-" validate:"-"`
	InMemory bool          `yaml:"in_memory" json:"in_memory,omitempty"`
	Options  *core.Options `yaml:"options" json:"options,omitempty"`
	Logger   *zap.Logger   `yaml:"-" json:"-" validate:"-"`
}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	configValidate.RegisterStructValidation(validateTarget, Config{})
}

func validateTarget(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	switch cfg.Driver {
	case core.DriverSQLite:
		if cfg.Path == "" {
			sl.ReportError(cfg.Path, "Path", "Path", "required_for_sqlite", "")
		}
	case core.DriverPostgres:
		if cfg.DSN == "" {
			sl.ReportError(cfg.DSN, "DSN", "DSN", "required_for_postgres", "")
		}
	case core.DriverBadger:
		if cfg.Path == "" && !cfg.InMemory {
			sl.ReportError(cfg.Path, "Path", "Path", "required_for_badger", "")
		}
	}
}

// Validate checks field constraints and the per-driver target rules.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	return nil
}

func (c Config) options() core.Options {
	if c.Options == nil {
		return core.DefaultOptions()
	}
	return *c.Options
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
