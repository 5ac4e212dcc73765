package netio

import (
	"context"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"gridstore/internal/backend"
	"gridstore/internal/backend/core"
	"gridstore/internal/metrics"
	"gridstore/internal/schema"
	"gridstore/internal/store"
	"gridstore/pkg/domain"
)

// seriesIndexName labels the snapshot axis of series frames.
const seriesIndexName = "snapshot"

// ExportTo writes st to the backend selected by cfg. The session is closed
// before any error is returned. Types written before a failure stay written.
func ExportTo(ctx context.Context, log *zap.Logger, st *store.Store, cfg backend.Config, opts ...Option) (report *Report, err error) {
	o := collect(opts)
	if cfg.Options != nil && cfg.Options.IncludeStandardTypes {
		o.standardTypes = true
	}
	if o.basename == "" {
		o.basename = basename(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}
	s := newSession(log, o)
	start := time.Now()
	defer func() { o.recorder.Observe(ctx, metrics.OpExport, err == nil, time.Since(start)) }()

	if err := cfg.Validate(); err != nil {
		return s.report, err
	}
	capability, err := o.registry.Lookup(cfg.Driver)
	if err != nil {
		return s.report, err
	}
	attrs := networkAttributes(st)
	if !capability.BoolNetworkAttributes {
		for _, name := range slices.Sorted(maps.Keys(attrs)) {
			if attrs[name].Kind() == domain.KindBool {
				return s.report, &domain.UnsupportedAttributeError{Driver: string(cfg.Driver), Attribute: name, Kind: domain.KindBool}
			}
		}
	}
	err = backend.WithExporter(ctx, o.registry, cfg, func(ex core.Exporter) error {
		return s.write(ctx, st, ex, attrs)
	})
	if err != nil {
		return s.report, err
	}
	s.log.Info("exported network", zap.Strings("components", s.report.Components))
	return s.report, nil
}

// Export writes st through an open exporter and calls Finish. The caller
// owns the session and closes it.
func Export(ctx context.Context, log *zap.Logger, st *store.Store, ex core.Exporter, opts ...Option) (report *Report, err error) {
	o := collect(opts)
	s := newSession(log, o)
	start := time.Now()
	defer func() { o.recorder.Observe(ctx, metrics.OpExport, err == nil, time.Since(start)) }()

	if err := s.write(ctx, st, ex, networkAttributes(st)); err != nil {
		return s.report, err
	}
	if err := ex.Finish(ctx); err != nil {
		return s.report, err
	}
	s.log.Info("exported network", zap.Strings("components", s.report.Components))
	return s.report, nil
}

func basename(cfg backend.Config) string {
	if cfg.Path != "" {
		return filepath.Base(filepath.Clean(cfg.Path))
	}
	return string(cfg.Driver)
}

// networkAttributes flattens Meta and stamps the running format version.
func networkAttributes(st *store.Store) map[string]domain.Value {
	attrs := st.Meta().Attributes()
	attrs["version"] = domain.String(domain.FormatVersion)
	return attrs
}

func (s *session) write(ctx context.Context, st *store.Store, ex core.Exporter, attrs map[string]domain.Value) error {
	if err := ex.SaveAttributes(ctx, attrs); err != nil {
		return err
	}

	snaps := core.NewFrame(core.SnapshotIndexName, st.Snapshots())
	weightings := st.Weightings()
	col := make([]domain.Value, len(weightings))
	for i, w := range weightings {
		col[i] = domain.Float(w)
	}
	if err := snaps.AddColumn(core.WeightingsColumn, col); err != nil {
		return err
	}
	if err := ex.SaveSnapshots(ctx, snaps); err != nil {
		return err
	}

	reg := st.Registry()
	for _, name := range reg.ExportOrder() {
		ct, _ := reg.Component(name)
		if err := s.writeComponent(ctx, st, ex, ct); err != nil {
			return err
		}
	}
	return nil
}

func allElidable(a domain.Attribute, col []domain.Value) bool {
	for _, v := range col {
		if !a.Elidable(v) {
			return false
		}
	}
	return true
}

func (s *session) writeComponent(ctx context.Context, st *store.Store, ex core.Exporter, ct domain.ComponentType) error {
	reg := st.Registry()
	static, err := st.Static(ct.Name)
	if err != nil {
		return err
	}
	keep := func(string) bool { return true }
	if !s.opts.standardTypes && len(ct.StandardTypes) > 0 {
		std := make(map[string]struct{}, len(ct.StandardTypes))
		for _, e := range ct.StandardTypes {
			std[e.ID] = struct{}{}
		}
		keep = func(id string) bool {
			_, isStd := std[id]
			return !isStd
		}
		static = static.Filter(keep)
	}

	varying := reg.Enumerate(ct.Name, schema.And(schema.Varying, schema.Persisted))
	if static.Len() == 0 && !ct.Required() {
		if err := ex.RemoveStatic(ctx, ct.ListName); err != nil {
			return err
		}
		for _, attr := range varying {
			if err := ex.RemoveSeries(ctx, ct.ListName, attr); err != nil {
				return err
			}
		}
		return nil
	}

	frame := core.NewFrame(schema.IndexColumn, static.IDs())
	for _, attr := range reg.Enumerate(ct.Name, schema.And(schema.Static, schema.Persisted)) {
		acc, _ := reg.Lookup(ct.Name, attr)
		col := static.Column(attr)
		if allElidable(acc.Attribute(), col) {
			continue
		}
		if err := frame.AddColumn(attr, col); err != nil {
			return err
		}
	}
	if err := ex.SaveStatic(ctx, ct.ListName, frame); err != nil {
		return err
	}

	for _, attr := range varying {
		acc, _ := reg.Lookup(ct.Name, attr)
		a := acc.Attribute()
		table, err := st.Series(ct.Name, attr)
		if err != nil {
			return err
		}
		series := core.NewFrame(seriesIndexName, table.Snapshots())
		for _, id := range table.IDs() {
			if !keep(id) {
				continue
			}
			col := table.Column(id)
			if allElidable(a, col) {
				// An all-default override still matters when the static value
				// it shadows is not the default.
				if !a.Switchable() {
					continue
				}
				if sv, ok := static.Value(id, attr); !ok || a.Elidable(sv) {
					continue
				}
			}
			if err := series.AddColumn(id, col); err != nil {
				return err
			}
		}
		if len(series.Columns) == 0 {
			if err := ex.RemoveSeries(ctx, ct.ListName, attr); err != nil {
				return err
			}
			continue
		}
		if err := ex.SaveSeries(ctx, ct.ListName, attr, series); err != nil {
			return err
		}
	}
	s.report.Components = append(s.report.Components, ct.ListName)
	return nil
}
