// Package metrics records the outcome and duration of import and export
// calls. Recorders are safe for concurrent use.
package metrics

import (
	"context"
	"time"
)

// Operation names passed to Observe.
const (
	OpImport = "import"
	OpExport = "export"
)

// Recorder receives one observation per orchestrated call.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Nop discards observations.
type Nop struct{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Multi fans each observation out to every recorder.
type Multi []Recorder

func (m Multi) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}
