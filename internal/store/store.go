// Package store implements the in-memory component store: one static table
// and a set of sparse series tables per component type, plus dense and lazy
// materialisation of attribute values across snapshots.
//
// A Store is not safe for concurrent use; callers serialise access.
package store

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"gridstore/internal/schema"
	"gridstore/pkg/domain"
)

// ErrUnknownComponent is returned for component types absent from the registry.
var ErrUnknownComponent = errors.New("unknown component type")

// ErrUnknownAttribute is returned for attributes absent from a component schema.
var ErrUnknownAttribute = errors.New("unknown attribute")

// MergeMode selects how SetStatic combines incoming rows with existing ones.
type MergeMode uint8

const (
	// Append concatenates incoming rows after existing rows; ids must stay unique.
	Append MergeMode = iota
	// Replace discards existing rows.
	Replace
)

// Option configures a Store.
type Option func(*Store)

// WithStandardTypes preloads the library-provided template entities.
func WithStandardTypes() Option {
	return func(s *Store) { s.standardTypes = true }
}

// WithName sets the network name recorded in Meta.
func WithName(name string) Option {
	return func(s *Store) { s.meta.Name = name }
}

type seriesKey struct {
	component string
	attr      string
}

// Store is the in-memory component model built on a frozen schema registry.
type Store struct {
	reg           *schema.Registry
	meta          Meta
	standardTypes bool

	snapshots  []string
	weightings []float64

	static map[string]*StaticTable
	series map[seriesKey]*SeriesTable

	partitions map[seriesKey]partition
}

// New builds an empty store. The registry is frozen so the schema cannot
// change underneath existing tables.
func New(reg *schema.Registry, opts ...Option) *Store {
	reg.Freeze()
	s := &Store{
		reg:        reg,
		static:     make(map[string]*StaticTable),
		series:     make(map[seriesKey]*SeriesTable),
		partitions: make(map[seriesKey]partition),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, ct := range reg.Components() {
		s.static[ct.Name] = s.emptyStatic(ct, nil)
	}
	if s.standardTypes {
		s.loadStandardTypes()
	}
	return s
}

func (s *Store) emptyStatic(ct domain.ComponentType, ids []string) *StaticTable {
	t := NewStaticTable(ids)
	for _, a := range ct.Attrs {
		if !a.Static {
			continue
		}
		col := make([]domain.Value, len(ids))
		for i := range col {
			col[i] = a.Default
		}
		_ = t.SetColumn(a.Name, col)
	}
	return t
}

func (s *Store) loadStandardTypes() {
	for _, ct := range s.reg.Components() {
		if len(ct.StandardTypes) == 0 {
			continue
		}
		ids := make([]string, len(ct.StandardTypes))
		for i, std := range ct.StandardTypes {
			ids[i] = std.ID
		}
		t := s.emptyStatic(ct, ids)
		for _, a := range ct.Attrs {
			if !a.Static {
				continue
			}
			col := t.cells[a.Name]
			for i, std := range ct.StandardTypes {
				if v, ok := std.Values[a.Name]; ok {
					col[i] = v
				}
			}
		}
		s.static[ct.Name] = t
	}
}

// Registry returns the schema the store was built on.
func (s *Store) Registry() *schema.Registry { return s.reg }

// Meta returns the network-level record.
func (s *Store) Meta() Meta {
	m := s.meta
	m.Extra = maps.Clone(s.meta.Extra)
	return m
}

// SetMeta replaces the network-level record.
func (s *Store) SetMeta(m Meta) {
	m.Extra = maps.Clone(m.Extra)
	s.meta = m
}

// Snapshots returns the ordered snapshot index.
func (s *Store) Snapshots() []string { return slices.Clone(s.snapshots) }

// Weightings returns the weighting of every snapshot, aligned with Snapshots.
func (s *Store) Weightings() []float64 { return slices.Clone(s.weightings) }

// SetSnapshots replaces the snapshot index. Series rows are reindexed: kept
// snapshots retain their values and new ones are default-filled. Weightings
// of new snapshots default to 1.
func (s *Store) SetSnapshots(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return fmt.Errorf("snapshot %q is not unique", n)
		}
		seen[n] = struct{}{}
	}
	prev := make(map[string]float64, len(s.snapshots))
	for i, n := range s.snapshots {
		prev[n] = s.weightings[i]
	}
	weightings := make([]float64, len(names))
	for i, n := range names {
		if w, ok := prev[n]; ok {
			weightings[i] = w
		} else {
			weightings[i] = 1
		}
	}
	for key, t := range s.series {
		acc, _ := s.reg.Lookup(key.component, key.attr)
		t.reindex(names, acc.Default())
	}
	s.snapshots = slices.Clone(names)
	s.weightings = weightings
	s.invalidate("")
	return nil
}

// SetWeightings assigns weights by snapshot name; unknown names are ignored.
func (s *Store) SetWeightings(w map[string]float64) {
	for i, n := range s.snapshots {
		if v, ok := w[n]; ok {
			s.weightings[i] = v
		}
	}
}

func (s *Store) component(name string) (domain.ComponentType, error) {
	ct, ok := s.reg.Component(name)
	if !ok {
		return domain.ComponentType{}, fmt.Errorf("%w: %s", ErrUnknownComponent, name)
	}
	return ct, nil
}

// Static returns a copy of the static table of component.
func (s *Store) Static(component string) (*StaticTable, error) {
	if _, err := s.component(component); err != nil {
		return nil, err
	}
	return s.static[component].Clone(), nil
}

// IDs returns the entity ids of component in row order.
func (s *Store) IDs(component string) []string {
	return s.static[component].IDs()
}

// SetStatic coerces the incoming table to the schema and merges it. Columns
// missing from the table are filled with defaults; unknown or non-static
// columns are rejected. With Append, a post-merge id collision returns a
// *domain.DuplicateIDError and leaves the store unchanged.
func (s *Store) SetStatic(component string, in *StaticTable, mode MergeMode) error {
	ct, err := s.component(component)
	if err != nil {
		return err
	}
	for _, name := range in.Columns() {
		acc, ok := s.reg.Lookup(component, name)
		if !ok || !acc.Attribute().Static {
			return fmt.Errorf("%w: %s.%s is not a static attribute", ErrUnknownAttribute, component, name)
		}
	}

	incoming := s.emptyStatic(ct, in.ids)
	for _, name := range in.Columns() {
		acc, _ := s.reg.Lookup(component, name)
		col, err := acc.CoerceColumn(in.cells[name])
		if err != nil {
			return err
		}
		incoming.cells[name] = col
	}

	var merged *StaticTable
	switch mode {
	case Replace:
		merged = incoming
	default:
		merged = s.static[component].Clone()
		merged.appendIDs(incoming.ids...)
		for _, name := range merged.columns {
			merged.cells[name] = append(merged.cells[name], incoming.cells[name]...)
		}
	}
	if dups := duplicates(merged.ids); len(dups) > 0 {
		return &domain.DuplicateIDError{Component: component, IDs: dups}
	}
	s.static[component] = merged
	s.invalidate(component)
	return nil
}

func duplicates(ids []string) []string {
	seen := make(map[string]int, len(ids))
	var out []string
	for _, id := range ids {
		seen[id]++
		if seen[id] == 2 {
			out = append(out, id)
		}
	}
	return out
}

// Add appends one entity. Values must name static attributes.
func (s *Store) Add(component, id string, values map[string]domain.Value) error {
	t := NewStaticTable([]string{id})
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if err := t.SetColumn(name, []domain.Value{values[name]}); err != nil {
			return err
		}
	}
	return s.SetStatic(component, t, Append)
}

// Remove deletes entities and their series columns. Unknown ids are ignored.
func (s *Store) Remove(component string, ids ...string) error {
	if _, err := s.component(component); err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.static[component] = s.static[component].Filter(func(id string) bool {
		_, gone := drop[id]
		return !gone
	})
	for key, t := range s.series {
		if key.component != component {
			continue
		}
		for _, id := range ids {
			t.DropColumn(id)
		}
	}
	s.invalidate(component)
	return nil
}

// Stale names series columns dropped by Reconcile.
type Stale struct {
	Component string
	Attribute string
	IDs       []string
}

// Reconcile drops series columns whose entity is no longer in the static
// table and returns what was removed.
func (s *Store) Reconcile() []Stale {
	var out []Stale
	for _, key := range s.seriesKeys() {
		t := s.series[key]
		static := s.static[key.component]
		var gone []string
		for _, id := range t.IDs() {
			if static.Index(id) < 0 {
				gone = append(gone, id)
				t.DropColumn(id)
			}
		}
		if len(gone) > 0 {
			out = append(out, Stale{Component: key.component, Attribute: key.attr, IDs: gone})
			s.invalidate(key.component)
		}
	}
	return out
}

func (s *Store) seriesKeys() []seriesKey {
	keys := slices.Collect(maps.Keys(s.series))
	slices.SortFunc(keys, func(a, b seriesKey) int {
		if a.component != b.component {
			if a.component < b.component {
				return -1
			}
			return 1
		}
		switch {
		case a.attr < b.attr:
			return -1
		case a.attr > b.attr:
			return 1
		}
		return 0
	})
	return keys
}

func (s *Store) varying(component, attr string) (schema.Accessor, error) {
	if _, err := s.component(component); err != nil {
		return schema.Accessor{}, err
	}
	acc, ok := s.reg.Lookup(component, attr)
	if !ok {
		return schema.Accessor{}, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, component, attr)
	}
	if !acc.Attribute().Varying {
		return schema.Accessor{}, fmt.Errorf("%w: %s.%s is not varying", ErrUnknownAttribute, component, attr)
	}
	return acc, nil
}

// Series returns the series table of a varying attribute indexed by the
// current snapshots. Switchable attributes carry only overridden entities;
// varying-only attributes carry every entity, default-filled.
func (s *Store) Series(component, attr string) (*SeriesTable, error) {
	acc, err := s.varying(component, attr)
	if err != nil {
		return nil, err
	}
	stored := s.series[seriesKey{component, attr}]
	out := NewSeriesTable(s.snapshots)
	for _, id := range s.static[component].ids {
		if stored.Has(id) {
			out.ids = append(out.ids, id)
			out.cells[id] = stored.Column(id)
			continue
		}
		if !acc.Attribute().Switchable() {
			out.ids = append(out.ids, id)
			out.cells[id] = fill(len(s.snapshots), acc.Default())
		}
	}
	return out, nil
}

func fill(n int, v domain.Value) []domain.Value {
	out := make([]domain.Value, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Reindex describes how an incoming series table was aligned with the store.
type Reindex struct {
	// UnknownIDs are columns without a matching entity; they were dropped.
	UnknownIDs []string
	// MissingSnapshots are store snapshots absent from the table; they were
	// filled with the attribute default.
	MissingSnapshots []string
	// ExtraSnapshots are table rows outside the store index; they were dropped.
	ExtraSnapshots []string
}

// SetSeries coerces and merges a series table: every column present replaces
// the stored column for that entity, other entities keep their values. Rows
// are aligned to the current snapshots and columns to the current entities.
func (s *Store) SetSeries(component, attr string, in *SeriesTable) (Reindex, error) {
	acc, err := s.varying(component, attr)
	if err != nil {
		return Reindex{}, err
	}
	var info Reindex
	rows := make(map[string]int, len(in.snapshots))
	for i, snap := range in.snapshots {
		rows[snap] = i
	}
	current := make(map[string]struct{}, len(s.snapshots))
	for _, snap := range s.snapshots {
		current[snap] = struct{}{}
		if _, ok := rows[snap]; !ok {
			info.MissingSnapshots = append(info.MissingSnapshots, snap)
		}
	}
	for _, snap := range in.snapshots {
		if _, ok := current[snap]; !ok {
			info.ExtraSnapshots = append(info.ExtraSnapshots, snap)
		}
	}

	static := s.static[component]
	staged := make(map[string][]domain.Value, len(in.ids))
	var order []string
	for _, id := range in.ids {
		if static.Index(id) < 0 {
			info.UnknownIDs = append(info.UnknownIDs, id)
			continue
		}
		col, err := acc.CoerceColumn(in.cells[id])
		if err != nil {
			return info, err
		}
		aligned := make([]domain.Value, len(s.snapshots))
		for i, snap := range s.snapshots {
			if j, ok := rows[snap]; ok {
				aligned[i] = col[j]
			} else {
				aligned[i] = acc.Default()
			}
		}
		staged[id] = aligned
		order = append(order, id)
	}

	key := seriesKey{component, attr}
	t, ok := s.series[key]
	if !ok {
		t = NewSeriesTable(s.snapshots)
		s.series[key] = t
	}
	for _, id := range order {
		_ = t.SetColumn(id, staged[id])
	}
	s.invalidate(component)
	return info, nil
}

// AllocateSeries materialises explicit default-filled columns for every
// entity of the named varying attributes, or of all varying outputs when no
// attribute is named.
func (s *Store) AllocateSeries(component string, attrs ...string) error {
	if _, err := s.component(component); err != nil {
		return err
	}
	if len(attrs) == 0 {
		attrs = s.reg.Enumerate(component, schema.And(schema.Varying, schema.Output))
	}
	for _, attr := range attrs {
		acc, err := s.varying(component, attr)
		if err != nil {
			return err
		}
		key := seriesKey{component, attr}
		t := NewSeriesTable(s.snapshots)
		for _, id := range s.static[component].ids {
			_ = t.SetColumn(id, fill(len(s.snapshots), acc.Default()))
		}
		s.series[key] = t
	}
	s.invalidate(component)
	return nil
}

// FreeOutputSeries drops every varying output series of the given component
// types, or of all types when none is named.
func (s *Store) FreeOutputSeries(components ...string) {
	if len(components) == 0 {
		for _, ct := range s.reg.Components() {
			components = append(components, ct.Name)
		}
	}
	for _, c := range components {
		for _, attr := range s.reg.Enumerate(c, schema.And(schema.Varying, schema.Output)) {
			delete(s.series, seriesKey{c, attr})
		}
		s.invalidate(c)
	}
}

// Overridden returns the entities of component holding an explicit series
// for attr, in entity order.
func (s *Store) Overridden(component, attr string) []string {
	p := s.partition(component, attr)
	out := make([]string, len(p.varying))
	ids := s.static[component].ids
	for i, row := range p.varying {
		out[i] = ids[row]
	}
	return out
}
