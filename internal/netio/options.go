package netio

import (
	"gridstore/internal/backend"
	"gridstore/internal/metrics"
)

type options struct {
	standardTypes bool
	skipSeries    bool
	basename      string
	recorder      metrics.Recorder
	registry      *backend.Registry
}

// Option tunes one import or export call.
type Option func(*options)

// WithStandardTypes exports library-provided template entities as well.
func WithStandardTypes() Option {
	return func(o *options) { o.standardTypes = true }
}

// WithSkipSeries imports static tables only.
func WithSkipSeries() Option {
	return func(o *options) { o.skipSeries = true }
}

// WithBasename sets the network label used in log lines and the report.
func WithBasename(name string) Option {
	return func(o *options) { o.basename = name }
}

// WithRecorder reports the outcome and duration of the call.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithRegistry resolves drivers against r instead of backend.Default().
func WithRegistry(r *backend.Registry) Option {
	return func(o *options) { o.registry = r }
}

func collect(opts []Option) options {
	o := options{recorder: metrics.Nop{}, registry: backend.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.recorder == nil {
		o.recorder = metrics.Nop{}
	}
	if o.registry == nil {
		o.registry = backend.Default()
	}
	return o
}
