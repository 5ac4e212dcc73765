package store

import (
	"slices"

	"gridstore/pkg/domain"
)

// Row is one snapshot of a materialised attribute across the selected
// entities. Rows are immutable: the iterator may hand the same Row to several
// snapshots, so there are no mutators and Values returns a copy.
type Row struct {
	ids    []string
	values []domain.Value
}

// Len reports the number of entities in the row.
func (r Row) Len() int { return len(r.values) }

// ID returns the entity id of column i.
func (r Row) ID(i int) string { return r.ids[i] }

// At returns the value of column i.
func (r Row) At(i int) domain.Value { return r.values[i] }

// Get returns the value for entity id.
func (r Row) Get(id string) (domain.Value, bool) {
	i := slices.Index(r.ids, id)
	if i < 0 {
		return domain.Value{}, false
	}
	return r.values[i], true
}

// IDs returns a copy of the entity ids.
func (r Row) IDs() []string { return slices.Clone(r.ids) }

// Values returns a copy of the row values.
func (r Row) Values() []domain.Value { return slices.Clone(r.values) }

// Equal compares ids and values cell by cell.
func (r Row) Equal(o Row) bool {
	if !slices.Equal(r.ids, o.ids) || len(r.values) != len(o.values) {
		return false
	}
	for i := range r.values {
		if !r.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}

// sameBacking reports whether two rows share storage; used by tests.
func (r Row) sameBacking(o Row) bool {
	if len(r.values) == 0 || len(o.values) == 0 {
		return len(r.values) == len(o.values)
	}
	return &r.values[0] == &o.values[0]
}

// Matrix is a dense snapshot × entity materialisation.
type Matrix struct {
	snapshots []string
	ids       []string
	values    []domain.Value
}

// Snapshots returns the row labels.
func (m *Matrix) Snapshots() []string { return slices.Clone(m.snapshots) }

// IDs returns the column labels.
func (m *Matrix) IDs() []string { return slices.Clone(m.ids) }

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) domain.Value { return m.values[i*len(m.ids)+j] }

// Row returns snapshot i as a Row.
func (m *Matrix) Row(i int) Row {
	n := len(m.ids)
	return Row{ids: m.ids, values: m.values[i*n : (i+1)*n : (i+1)*n]}
}

// Lookup returns the value for (snapshot, id).
func (m *Matrix) Lookup(snapshot, id string) (domain.Value, bool) {
	i := slices.Index(m.snapshots, snapshot)
	j := slices.Index(m.ids, id)
	if i < 0 || j < 0 {
		return domain.Value{}, false
	}
	return m.At(i, j), true
}
