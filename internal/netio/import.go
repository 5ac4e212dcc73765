package netio

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gridstore/internal/backend"
	"gridstore/internal/backend/core"
	"gridstore/internal/metrics"
	"gridstore/internal/schema"
	"gridstore/internal/store"
	"gridstore/pkg/domain"
)

// ImportFrom merges the network persisted at cfg into st. Only a missing
// anchor type or a backend failure aborts the call; duplicate ids and
// coercion failures reject the affected component type and are listed in the
// report.
func ImportFrom(ctx context.Context, log *zap.Logger, st *store.Store, cfg backend.Config, opts ...Option) (report *Report, err error) {
	o := collect(opts)
	if o.basename == "" {
		o.basename = basename(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}
	s := newSession(log, o)
	start := time.Now()
	defer func() { o.recorder.Observe(ctx, metrics.OpImport, err == nil, time.Since(start)) }()

	err = backend.WithImporter(ctx, o.registry, cfg, func(im core.Importer) error {
		return s.read(ctx, st, im)
	})
	return s.report, err
}

// Import merges the network read from an open importer into st. The caller
// owns the session and closes it.
func Import(ctx context.Context, log *zap.Logger, st *store.Store, im core.Importer, opts ...Option) (report *Report, err error) {
	o := collect(opts)
	s := newSession(log, o)
	start := time.Now()
	defer func() { o.recorder.Observe(ctx, metrics.OpImport, err == nil, time.Since(start)) }()

	err = s.read(ctx, st, im)
	return s.report, err
}

func (s *session) read(ctx context.Context, st *store.Store, im core.Importer) error {
	attrs, err := im.Attributes(ctx)
	if err != nil {
		return err
	}
	meta := st.Meta()
	var version string
	if attrs != nil {
		meta.SetAttributes(attrs)
		version = meta.FormatVersion
	}
	if va, ok := im.(core.VersionAware); ok {
		va.SetFormatVersion(version)
	}

	// Every required anchor is read before st changes, so an abort leaves
	// the store as it was.
	reg := st.Registry()
	anchors, err := s.readAnchors(ctx, reg, im)
	if err != nil {
		return err
	}

	if attrs != nil {
		st.SetMeta(meta)
	}
	if domain.OlderThan(version, domain.FormatVersion) {
		s.warn(Diagnostic{
			Kind:    domain.VersionMismatchWarning,
			Message: "importing network written by an older format version",
		}, zap.String("version", version), zap.String("current", domain.FormatVersion))
	}
	if err := s.readSnapshots(ctx, st, im); err != nil {
		return err
	}

	for _, name := range reg.ImportOrder() {
		ct, _ := reg.Component(name)
		frame, read := anchors[ct.Name]
		if !read {
			if frame, err = im.Static(ctx, ct.ListName); err != nil {
				return err
			}
		}
		if frame == nil {
			continue
		}
		if err := s.readStatic(st, ct, frame); err != nil {
			if contained(err) {
				s.reject(ct.Name, "", err)
				continue
			}
			return err
		}
		if !s.opts.skipSeries {
			if err := s.readSeries(ctx, st, ct, im); err != nil {
				return err
			}
		}
		s.report.Components = append(s.report.Components, ct.ListName)
	}

	for _, stale := range st.Reconcile() {
		s.warn(Diagnostic{
			Kind:      domain.StaleDataWarning,
			Component: stale.Component,
			Attribute: stale.Attribute,
			IDs:       stale.IDs,
			Message:   "dropped series columns of removed entities",
		})
	}
	s.log.Info("imported network", zap.Strings("components", s.report.Components))
	return nil
}

// readAnchors loads the static tables of every required anchor type and
// fails with a MissingAnchorError on the first one the backend lacks.
func (s *session) readAnchors(ctx context.Context, reg *schema.Registry, im core.Importer) (map[string]*core.Frame, error) {
	frames := make(map[string]*core.Frame)
	for _, name := range reg.ImportOrder() {
		ct, _ := reg.Component(name)
		if !ct.Required() {
			continue
		}
		frame, err := im.Static(ctx, ct.ListName)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			s.log.Error("anchor component missing from backend", zap.String("component", ct.Name))
			return nil, &domain.MissingAnchorError{Component: ct.Name}
		}
		frames[ct.Name] = frame
	}
	return frames, nil
}

func (s *session) readSnapshots(ctx context.Context, st *store.Store, im core.Importer) error {
	frame, err := im.Snapshots(ctx)
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	if err := st.SetSnapshots(frame.Index); err != nil {
		return fmt.Errorf("import snapshots: %w", err)
	}
	weights := make(map[string]float64, frame.Len())
	for _, name := range frame.Index {
		weights[name] = 1
	}
	if col, ok := frame.Column(core.WeightingsColumn); ok {
		var invalid []string
		for i, v := range col {
			if v.IsNull() {
				continue
			}
			w, ok := parseFloat(v)
			if !ok {
				invalid = append(invalid, frame.Index[i])
				continue
			}
			weights[frame.Index[i]] = w
		}
		if len(invalid) > 0 {
			s.warn(Diagnostic{
				Kind:      domain.UnknownAttributeWarning,
				Attribute: core.WeightingsColumn,
				Snapshots: invalid,
				Message:   "ignoring non-numeric snapshot weightings; using 1",
			})
		}
	}
	st.SetWeightings(weights)
	return nil
}

func parseFloat(v domain.Value) (float64, bool) {
	if f, ok := v.AsFloat(); ok {
		return f, true
	}
	str, ok := v.AsString()
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	return f, err == nil
}

// readStatic merges one static table. Nothing is written to st unless the
// whole table coerces and its ids stay unique.
func (s *session) readStatic(st *store.Store, ct domain.ComponentType, frame *core.Frame) error {
	reg := st.Registry()

	skip := make(map[string]struct{})
	if len(ct.StandardTypes) > 0 {
		present := make(map[string]struct{})
		for _, id := range st.IDs(ct.Name) {
			present[id] = struct{}{}
		}
		for _, e := range ct.StandardTypes {
			if _, ok := present[e.ID]; ok {
				skip[e.ID] = struct{}{}
			}
		}
	}
	rows := make([]int, 0, frame.Len())
	ids := make([]string, 0, frame.Len())
	for i, id := range frame.Index {
		if _, ok := skip[id]; ok {
			continue
		}
		rows = append(rows, i)
		ids = append(ids, id)
	}
	if len(ids) < frame.Len() {
		s.log.Debug("skipping standard types already in the store",
			zap.String("component", ct.Name), zap.Int("count", frame.Len()-len(ids)))
	}
	pick := func(col []domain.Value) []domain.Value {
		out := make([]domain.Value, len(rows))
		for k, i := range rows {
			out[k] = col[i]
		}
		return out
	}

	table := store.NewStaticTable(ids)
	type broadcast struct {
		attr   string
		values []domain.Value
	}
	var spread []broadcast
	var unknown []string
	for j, name := range frame.Columns {
		if hint, ok := ct.Deprecated[name]; ok {
			s.warn(Diagnostic{
				Kind:      domain.DeprecatedAttributeWarning,
				Component: ct.Name,
				Attribute: name,
				Message:   "deprecated attribute ignored: " + hint,
			})
			continue
		}
		acc, ok := reg.Lookup(ct.Name, name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		a := acc.Attribute()
		switch {
		case a.Computed:
			continue
		case !a.Static:
			values, err := acc.CoerceColumn(pick(frame.Cells[j]))
			if err != nil {
				return err
			}
			spread = append(spread, broadcast{attr: name, values: values})
		default:
			if err := table.SetColumn(name, pick(frame.Cells[j])); err != nil {
				return err
			}
		}
	}
	for _, name := range unknown {
		s.warn(Diagnostic{
			Kind:      domain.UnknownAttributeWarning,
			Component: ct.Name,
			Attribute: name,
			Message:   "ignoring column not in the schema",
		})
	}

	if err := st.SetStatic(ct.Name, table, store.Append); err != nil {
		return err
	}
	s.checkReferences(st, ct, table)

	snapshots := st.Snapshots()
	for _, b := range spread {
		series := store.NewSeriesTable(snapshots)
		for k, id := range ids {
			col := make([]domain.Value, len(snapshots))
			for i := range col {
				col[i] = b.values[k]
			}
			if err := series.SetColumn(id, col); err != nil {
				return err
			}
		}
		if _, err := st.SetSeries(ct.Name, b.attr, series); err != nil {
			return err
		}
	}
	return nil
}

// checkReferences logs entities whose reference columns name unknown anchor
// ids. Empty references mean unset.
func (s *session) checkReferences(st *store.Store, ct domain.ComponentType, table *store.StaticTable) {
	for _, a := range ct.Attrs {
		if a.Reference == "" || !table.HasColumn(a.Name) {
			continue
		}
		known := make(map[string]struct{})
		for _, id := range st.IDs(a.Reference) {
			known[id] = struct{}{}
		}
		var dangling []string
		for i, v := range table.Column(a.Name) {
			ref := v.String()
			if ref == "" {
				continue
			}
			if _, ok := known[ref]; !ok {
				dangling = append(dangling, table.IDs()[i])
			}
		}
		if len(dangling) > 0 {
			s.warn(Diagnostic{
				Kind:      domain.MissingReferenceWarning,
				Component: ct.Name,
				Attribute: a.Name,
				IDs:       dangling,
				Message:   "entities reference undefined " + a.Reference + " ids",
			})
		}
	}
}

func (s *session) readSeries(ctx context.Context, st *store.Store, ct domain.ComponentType, im core.Importer) error {
	reg := st.Registry()
	for sf, err := range im.Series(ctx, ct.ListName) {
		if err != nil {
			return err
		}
		acc, ok := reg.Lookup(ct.Name, sf.Attribute)
		if !ok || !acc.Attribute().Varying {
			s.warn(Diagnostic{
				Kind:      domain.UnknownAttributeWarning,
				Component: ct.Name,
				Attribute: sf.Attribute,
				Message:   "ignoring series of an attribute that is not varying",
			})
			continue
		}
		table := store.NewSeriesTable(sf.Frame.Index)
		for j, id := range sf.Frame.Columns {
			if err := table.SetColumn(id, sf.Frame.Cells[j]); err != nil {
				return err
			}
		}
		info, err := st.SetSeries(ct.Name, sf.Attribute, table)
		if err != nil {
			if contained(err) {
				s.reject(ct.Name, sf.Attribute, err)
				continue
			}
			return err
		}
		if len(info.UnknownIDs) > 0 {
			s.warn(Diagnostic{
				Kind:      domain.MissingReferenceWarning,
				Component: ct.Name,
				Attribute: sf.Attribute,
				IDs:       info.UnknownIDs,
				Message:   "dropped series columns of entities not in the static table",
			})
		}
		if len(info.MissingSnapshots) > 0 {
			s.warn(Diagnostic{
				Kind:      domain.MissingSnapshotWarning,
				Component: ct.Name,
				Attribute: sf.Attribute,
				Snapshots: info.MissingSnapshots,
				Message:   "snapshots missing from series; filled with default",
			}, zap.Stringer("default", acc.Default()))
		}
		if len(info.ExtraSnapshots) > 0 {
			s.warn(Diagnostic{
				Kind:      domain.StaleDataWarning,
				Component: ct.Name,
				Attribute: sf.Attribute,
				Snapshots: slices.Clone(info.ExtraSnapshots),
				Message:   "dropped series rows outside the snapshot index",
			})
		}
	}
	return nil
}
