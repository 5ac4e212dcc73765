package netio

import (
	"errors"

	"go.uber.org/zap"

	"gridstore/pkg/domain"
)

// Diagnostic is one non-fatal condition met during a call.
type Diagnostic struct {
	Kind      domain.Warning
	Component string
	Attribute string
	IDs       []string
	Snapshots []string
	Message   string
}

// Report summarises an import or export.
type Report struct {
	Basename string
	// Components lists the list names written or imported, in order.
	Components []string
	// Rejected maps a component type to the error that kept it (or one of
	// its attributes) out of the store. The rest of the call proceeded.
	Rejected    map[string]error
	Diagnostics []Diagnostic
}

// Warnings returns the diagnostics of one kind.
func (r *Report) Warnings(kind domain.Warning) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

type session struct {
	log    *zap.Logger
	opts   options
	report *Report
}

func newSession(log *zap.Logger, opts options) *session {
	if log == nil {
		log = zap.NewNop()
	}
	return &session{
		log:    log.With(zap.String("network", opts.basename)),
		opts:   opts,
		report: &Report{Basename: opts.basename, Rejected: make(map[string]error)},
	}
}

func (d Diagnostic) fields() []zap.Field {
	fields := []zap.Field{zap.String("kind", string(d.Kind))}
	if d.Component != "" {
		fields = append(fields, zap.String("component", d.Component))
	}
	if d.Attribute != "" {
		fields = append(fields, zap.String("attribute", d.Attribute))
	}
	if len(d.IDs) > 0 {
		fields = append(fields, zap.Strings("ids", d.IDs))
	}
	if len(d.Snapshots) > 0 {
		fields = append(fields, zap.Strings("snapshots", d.Snapshots))
	}
	return fields
}

func (s *session) warn(d Diagnostic, extra ...zap.Field) {
	s.report.Diagnostics = append(s.report.Diagnostics, d)
	s.log.Warn(d.Message, append(d.fields(), extra...)...)
}

// reject records a failure contained to one component type or attribute.
func (s *session) reject(component, attribute string, err error) {
	s.report.Rejected[component] = errors.Join(s.report.Rejected[component], err)
	fields := []zap.Field{zap.String("component", component), zap.Error(err)}
	if attribute != "" {
		fields = append(fields, zap.String("attribute", attribute))
	}
	var dup *domain.DuplicateIDError
	if errors.As(err, &dup) {
		fields = append(fields, zap.Strings("ids", dup.IDs))
	}
	s.log.Error("component import rejected", fields...)
}

// contained reports whether err is limited to one component type.
func contained(err error) bool {
	var dup *domain.DuplicateIDError
	var coerce *domain.TypeCoercionError
	return errors.As(err, &dup) || errors.As(err, &coerce)
}
