package store

import (
	"fmt"
	"iter"
	"slices"

	"gridstore/pkg/domain"
)

// partition splits the entities of a component into those holding an
// explicit series for one attribute and those that do not. Indices refer to
// rows of the static table.
type partition struct {
	fixed   []int
	varying []int
}

func (s *Store) partition(component, attr string) partition {
	key := seriesKey{component, attr}
	if p, ok := s.partitions[key]; ok {
		return p
	}
	var p partition
	t := s.series[key]
	for i, id := range s.static[component].ids {
		if t.Has(id) {
			p.varying = append(p.varying, i)
		} else {
			p.fixed = append(p.fixed, i)
		}
	}
	s.partitions[key] = p
	return p
}

// invalidate drops cached partitions of one component, or all when empty.
func (s *Store) invalidate(component string) {
	if component == "" {
		clear(s.partitions)
		return
	}
	for key := range s.partitions {
		if key.component == component {
			delete(s.partitions, key)
		}
	}
}

// selection is the resolved subset a materialisation works on.
type selection struct {
	snapshots []int
	ids       []string
	// source[k] is the series column of ids[k], or nil for fixed entities.
	source [][]domain.Value
	// fixed[k] is the value used when source[k] is nil.
	fixed []domain.Value
}

func (s *Store) selectCells(component, attr string, snapshots, ids []string) (selection, error) {
	if _, err := s.component(component); err != nil {
		return selection{}, err
	}
	acc, ok := s.reg.Lookup(component, attr)
	if !ok {
		return selection{}, fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, component, attr)
	}
	var sel selection
	if snapshots == nil {
		sel.snapshots = make([]int, len(s.snapshots))
		for i := range sel.snapshots {
			sel.snapshots[i] = i
		}
	} else {
		for _, snap := range snapshots {
			i := slices.Index(s.snapshots, snap)
			if i < 0 {
				return selection{}, fmt.Errorf("snapshot %q not in store index", snap)
			}
			sel.snapshots = append(sel.snapshots, i)
		}
	}

	static := s.static[component]
	var wanted map[string]struct{}
	if ids != nil {
		wanted = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			wanted[id] = struct{}{}
		}
	}
	p := s.partition(component, attr)
	overridden := make(map[int]struct{}, len(p.varying))
	for _, row := range p.varying {
		overridden[row] = struct{}{}
	}
	series := s.series[seriesKey{component, attr}]
	a := acc.Attribute()
	for row, id := range static.ids {
		if wanted != nil {
			if _, ok := wanted[id]; !ok {
				continue
			}
		}
		sel.ids = append(sel.ids, id)
		if _, ok := overridden[row]; ok && a.Varying {
			sel.source = append(sel.source, series.cells[id])
			sel.fixed = append(sel.fixed, domain.Value{})
			continue
		}
		sel.source = append(sel.source, nil)
		if a.Static {
			sel.fixed = append(sel.fixed, static.cells[attr][row])
		} else {
			sel.fixed = append(sel.fixed, a.Default)
		}
	}
	return sel, nil
}

func (sel selection) anyVarying() bool {
	for _, col := range sel.source {
		if col != nil {
			return true
		}
	}
	return false
}

func (sel selection) row(snapshot int) []domain.Value {
	out := make([]domain.Value, len(sel.ids))
	for k, col := range sel.source {
		if col != nil {
			out[k] = col[snapshot]
		} else {
			out[k] = sel.fixed[k]
		}
	}
	return out
}

// Dense materialises attr for the selected snapshots and entities. Nil
// selectors mean all; unknown ids are ignored, unknown snapshots are an
// error. Entities without a series override take their static value
// (switchable attributes) or the default.
func (s *Store) Dense(component, attr string, snapshots, ids []string) (*Matrix, error) {
	sel, err := s.selectCells(component, attr, snapshots, ids)
	if err != nil {
		return nil, err
	}
	m := &Matrix{
		ids:    sel.ids,
		values: make([]domain.Value, 0, len(sel.snapshots)*len(sel.ids)),
	}
	for _, i := range sel.snapshots {
		m.snapshots = append(m.snapshots, s.snapshots[i])
		m.values = append(m.values, sel.row(i)...)
	}
	return m, nil
}

// Rows yields the same values as Dense one snapshot at a time. Each call to
// the returned sequence re-reads the store. When no selected entity has an
// override, the same Row is yielded for every snapshot.
func (s *Store) Rows(component, attr string, snapshots, ids []string) (iter.Seq2[string, Row], error) {
	if _, err := s.selectCells(component, attr, snapshots, ids); err != nil {
		return nil, err
	}
	return func(yield func(string, Row) bool) {
		sel, err := s.selectCells(component, attr, snapshots, ids)
		if err != nil {
			return
		}
		if !sel.anyVarying() {
			shared := Row{ids: sel.ids, values: sel.row(0)}
			for _, i := range sel.snapshots {
				if !yield(s.snapshots[i], shared) {
					return
				}
			}
			return
		}
		for _, i := range sel.snapshots {
			if !yield(s.snapshots[i], Row{ids: sel.ids, values: sel.row(i)}) {
				return
			}
		}
	}, nil
}
