package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridstore/internal/backend"
	"gridstore/internal/backend/core"
	"gridstore/internal/blob"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
log:
  format: console
metrics:
  textfile: /var/lib/node_exporter/gridstore.prom
options:
  compression_level: 9
  float_truncation_digits: 3
source:
  driver: csv
  path: ./in
target:
  driver: sqlite
  path: out.sqlite
  options:
    compression_level: 0
`)
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "/var/lib/node_exporter/gridstore.prom", cfg.Metrics.Textfile)
	assert.Equal(t, core.DriverCSV, cfg.Source.Driver)
	assert.Equal(t, "out.sqlite", cfg.Target.Path)

	src := cfg.Backend(cfg.Source)
	require.NotNil(t, src.Options)
	assert.Equal(t, 9, src.Options.CompressionLevel)
	require.NotNil(t, src.Options.FloatTruncationDigits)
	assert.Equal(t, 3, *src.Options.FloatTruncationDigits)
	dst := cfg.Backend(cfg.Target)
	assert.Equal(t, 0, dst.Options.CompressionLevel)
	assert.Nil(t, dst.Options.FloatTruncationDigits, "an options block without the key keeps full precision")
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "target:\n  driver: csv\n  path: ./out\n")
	t.Setenv("GRIDSTORE_LOG_LEVEL", "debug")
	t.Setenv("GRIDSTORE_TARGET_DRIVER", "postgres")
	t.Setenv("GRIDSTORE_TARGET_DSN", "postgres://localhost/grid")
	t.Setenv("GRIDSTORE_BLOB_DRIVER", "memory")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, core.DriverPostgres, cfg.Target.Driver)
	assert.Equal(t, "postgres://localhost/grid", cfg.Target.DSN)
	assert.Equal(t, blob.DriverMemory, cfg.Target.Sink.Driver)
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"log level":   "log:\n  level: chatty\n",
		"compression": "options:\n  compression_level: 40\n",
		"sqlite path": "source:\n  driver: sqlite\n",
		"sink driver": "target:\n  driver: csv\n  sink:\n    driver: ftp\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromPath(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
	_, err := LoadFromPath(writeConfig(t, "log: [\n"))
	assert.ErrorContains(t, err, "parse config")
}

func TestFindConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "")
	assert.Empty(t, FindConfigPath())

	cfg, path, err := Load()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, DefaultConfig().Options, cfg.Options)

	require.NoError(t, os.WriteFile(ConfigFileName, []byte("version: 1\n"), 0o600))
	found := FindConfigPath()
	assert.Equal(t, ConfigFileName, filepath.Base(found))

	explicit := writeConfig(t, "version: 2\n")
	t.Setenv(EnvConfigPath, explicit)
	cfg, path, err = Load()
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
	assert.Equal(t, 2, cfg.Version)
}

func TestBackendKeepsExplicitOptions(t *testing.T) {
	cfg := DefaultConfig()
	own := core.Options{CompressionLevel: 1}
	b := cfg.Backend(backend.Config{Driver: core.DriverCSV, Options: &own})
	assert.Same(t, &own, b.Options)
}
