// Package config loads the gridstore configuration file.
//
// Config file locations (priority order):
//  1. $GRIDSTORE_CONFIG
//  2. ./gridstore.yaml
//  3. $XDG_CONFIG_HOME/gridstore/config.yaml
//
// Environment variables override file values:
//
//	GRIDSTORE_LOG_LEVEL, GRIDSTORE_LOG_FORMAT
//	GRIDSTORE_SOURCE_DRIVER, GRIDSTORE_SOURCE_PATH, GRIDSTORE_SOURCE_DSN
//	GRIDSTORE_TARGET_DRIVER, GRIDSTORE_TARGET_PATH, GRIDSTORE_TARGET_DSN
//	GRIDSTORE_BLOB_*: sink of csv targets, see package blob
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gridstore/internal/backend"
	"gridstore/internal/backend/core"
	"gridstore/internal/blob"
	"gridstore/internal/logging"
)

const (
	// EnvConfigPath names an explicit config file.
	EnvConfigPath = "GRIDSTORE_CONFIG"
	// ConfigFileName is looked up in the working directory.
	ConfigFileName = "gridstore.yaml"
	configDirName  = "gridstore"
)

// Config is the file layout.
type Config struct {
	Version int            `yaml:"version" validate:"gte=1"`
	Log     logging.Config `yaml:"log"`
	Metrics MetricsConfig  `yaml:"metrics"`
	// Options are the defaults for backends that do not carry their own.
	Options core.Options   `yaml:"options"`
	Source  backend.Config `yaml:"source" validate:"-"`
	Target  backend.Config `yaml:"target" validate:"-"`
}

// MetricsConfig selects the operation recorders.
type MetricsConfig struct {
	// Textfile receives the prometheus metrics after each command, in the
	// node_exporter textfile collector format.
	Textfile string `yaml:"textfile"`
	// Expvar publishes counters under this name when set.
	Expvar string `yaml:"expvar"`
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Log:     logging.Config{Level: "info", Format: logging.FormatJSON},
		Options: core.DefaultOptions(),
	}
}

// Load finds and loads the config file, or returns defaults if none is found.
// Environment overrides apply in both cases. The returned path is empty when
// no file was read.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, "", cfg.Validate()
	}
	cfg, err := LoadFromPath(path)
	return cfg, path, err
}

// LoadFromPath reads one file, applies defaults and environment overrides
// and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatJSON
	}
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Log.Level, "GRIDSTORE_LOG_LEVEL")
	setFromEnv(&c.Log.Format, "GRIDSTORE_LOG_FORMAT")
	applyBackendEnv(&c.Source, "SOURCE")
	applyBackendEnv(&c.Target, "TARGET")
	if os.Getenv("GRIDSTORE_BLOB_DRIVER") != "" {
		c.Target.Sink = blob.ConfigFromEnv()
	}
}

func applyBackendEnv(b *backend.Config, role string) {
	if v := os.Getenv("GRIDSTORE_" + role + "_DRIVER"); v != "" {
		b.Driver = core.Driver(v)
	}
	setFromEnv(&b.Path, "GRIDSTORE_"+role+"_PATH")
	setFromEnv(&b.DSN, "GRIDSTORE_"+role+"_DSN")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

var validate = validator.New()

// Validate checks the file-level fields and every backend that names a
// driver.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.Source.Driver != "" {
		if err := c.Source.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}
	}
	if c.Target.Driver != "" {
		if err := c.Target.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("target: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Backend fills the shared options into b when it carries none.
func (c *Config) Backend(b backend.Config) backend.Config {
	if b.Options == nil {
		opts := c.Options
		b.Options = &opts
	}
	return b
}

// FindConfigPath returns the first existing config file, or "".
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" && fileExists(path) {
		return path
	}
	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		path := filepath.Join(xdg, configDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
