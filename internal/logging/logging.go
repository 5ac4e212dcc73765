// Package logging builds the zap logger handed to every import and export.
// Only the level and the output format are process-wide; call sites attach
// their own fields.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config selects the level and encoding of the process logger.
type Config struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=json console"`
	// Outputs are zap sink URLs or paths; empty means stderr.
	Outputs []string `yaml:"outputs" json:"outputs,omitempty"`
}

// Logger pairs a zap logger with the level it was built on so callers can
// raise or lower verbosity at runtime.
type Logger struct {
	*zap.Logger
	Level zap.AtomicLevel
}

// New builds a logger. JSON uses the production encoder, console the
// development one.
func New(cfg Config) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	switch cfg.Format {
	case "", FormatJSON:
		zc = zap.NewProductionConfig()
	case FormatConsole:
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	zc.Level = level
	zc.Sampling = nil
	if len(cfg.Outputs) > 0 {
		zc.OutputPaths = cfg.Outputs
	}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{Logger: l, Level: level}, nil
}

// Verbose lowers the level to debug.
func (l *Logger) Verbose() { l.Level.SetLevel(zapcore.DebugLevel) }
