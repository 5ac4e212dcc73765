package store

import (
	"fmt"
	"maps"
	"slices"

	"gridstore/pkg/domain"
)

// StaticTable holds one row per entity and one column per static attribute.
// Cells are stored column-major.
type StaticTable struct {
	ids     []string
	rows    map[string]int // first row of each id, kept in step with ids
	columns []string
	cells   map[string][]domain.Value
}

// NewStaticTable creates a table over ids with no columns.
func NewStaticTable(ids []string) *StaticTable {
	t := &StaticTable{cells: make(map[string][]domain.Value)}
	t.setIDs(slices.Clone(ids))
	return t
}

func (t *StaticTable) setIDs(ids []string) {
	t.ids = ids
	t.rows = make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := t.rows[id]; !ok {
			t.rows[id] = i
		}
	}
}

// appendIDs adds rows at the end; callers extend every column to match.
func (t *StaticTable) appendIDs(ids ...string) {
	if t.rows == nil {
		t.setIDs(t.ids)
	}
	for _, id := range ids {
		if _, ok := t.rows[id]; !ok {
			t.rows[id] = len(t.ids)
		}
		t.ids = append(t.ids, id)
	}
}

// Len reports the number of rows.
func (t *StaticTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ids)
}

// IDs returns the entity ids in row order.
func (t *StaticTable) IDs() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.ids)
}

// Columns returns the column names in insertion order.
func (t *StaticTable) Columns() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.columns)
}

// HasColumn reports whether the table carries name.
func (t *StaticTable) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.cells[name]
	return ok
}

// Column returns a copy of one column, or nil when absent.
func (t *StaticTable) Column(name string) []domain.Value {
	if t == nil {
		return nil
	}
	return slices.Clone(t.cells[name])
}

// SetColumn adds or replaces a column; values must align with the rows.
func (t *StaticTable) SetColumn(name string, values []domain.Value) error {
	if len(values) != len(t.ids) {
		return fmt.Errorf("column %s has %d values for %d rows", name, len(values), len(t.ids))
	}
	if _, ok := t.cells[name]; !ok {
		t.columns = append(t.columns, name)
	}
	t.cells[name] = slices.Clone(values)
	return nil
}

// DropColumn removes a column if present.
func (t *StaticTable) DropColumn(name string) {
	if _, ok := t.cells[name]; !ok {
		return
	}
	delete(t.cells, name)
	t.columns = slices.DeleteFunc(t.columns, func(c string) bool { return c == name })
}

// Index returns the row of id, or -1.
func (t *StaticTable) Index(id string) int {
	if t == nil {
		return -1
	}
	if i, ok := t.rows[id]; ok {
		return i
	}
	return -1
}

// Value returns the cell at (id, column).
func (t *StaticTable) Value(id, column string) (domain.Value, bool) {
	i := t.Index(id)
	col, ok := t.cells[column]
	if i < 0 || !ok {
		return domain.Value{}, false
	}
	return col[i], true
}

// Filter returns a new table holding only rows for which keep returns true.
func (t *StaticTable) Filter(keep func(id string) bool) *StaticTable {
	var rows []int
	for i, id := range t.ids {
		if keep(id) {
			rows = append(rows, i)
		}
	}
	return t.selectRows(rows)
}

func (t *StaticTable) selectRows(rows []int) *StaticTable {
	out := &StaticTable{
		columns: slices.Clone(t.columns),
		cells:   make(map[string][]domain.Value, len(t.cells)),
	}
	ids := make([]string, len(rows))
	for j, i := range rows {
		ids[j] = t.ids[i]
	}
	out.setIDs(ids)
	for name, col := range t.cells {
		sel := make([]domain.Value, len(rows))
		for j, i := range rows {
			sel[j] = col[i]
		}
		out.cells[name] = sel
	}
	return out
}

// Clone returns a deep copy.
func (t *StaticTable) Clone() *StaticTable {
	if t == nil {
		return nil
	}
	out := &StaticTable{
		ids:     slices.Clone(t.ids),
		rows:    maps.Clone(t.rows),
		columns: slices.Clone(t.columns),
		cells:   make(map[string][]domain.Value, len(t.cells)),
	}
	for name, col := range t.cells {
		out.cells[name] = slices.Clone(col)
	}
	return out
}

// SeriesTable is a snapshot × entity matrix for one varying attribute.
// Columns are keyed by entity id and stored in insertion order.
type SeriesTable struct {
	snapshots []string
	ids       []string
	cells     map[string][]domain.Value
}

// NewSeriesTable creates an empty table indexed by snapshots.
func NewSeriesTable(snapshots []string) *SeriesTable {
	return &SeriesTable{snapshots: slices.Clone(snapshots), cells: make(map[string][]domain.Value)}
}

// Snapshots returns the row index.
func (t *SeriesTable) Snapshots() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.snapshots)
}

// IDs returns the entity columns in order.
func (t *SeriesTable) IDs() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.ids)
}

// Len reports the number of entity columns.
func (t *SeriesTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ids)
}

// Column returns a copy of one entity's series, or nil when absent.
func (t *SeriesTable) Column(id string) []domain.Value {
	if t == nil {
		return nil
	}
	return slices.Clone(t.cells[id])
}

// Has reports whether the entity has a column.
func (t *SeriesTable) Has(id string) bool {
	if t == nil {
		return false
	}
	_, ok := t.cells[id]
	return ok
}

// SetColumn adds or replaces an entity column aligned with the snapshots.
func (t *SeriesTable) SetColumn(id string, values []domain.Value) error {
	if len(values) != len(t.snapshots) {
		return fmt.Errorf("series column %s has %d values for %d snapshots", id, len(values), len(t.snapshots))
	}
	if _, ok := t.cells[id]; !ok {
		t.ids = append(t.ids, id)
	}
	t.cells[id] = slices.Clone(values)
	return nil
}

// DropColumn removes an entity column if present.
func (t *SeriesTable) DropColumn(id string) {
	if _, ok := t.cells[id]; !ok {
		return
	}
	delete(t.cells, id)
	t.ids = slices.DeleteFunc(t.ids, func(c string) bool { return c == id })
}

// Clone returns a deep copy.
func (t *SeriesTable) Clone() *SeriesTable {
	if t == nil {
		return nil
	}
	out := &SeriesTable{
		snapshots: slices.Clone(t.snapshots),
		ids:       slices.Clone(t.ids),
		cells:     make(map[string][]domain.Value, len(t.cells)),
	}
	for id, col := range t.cells {
		out.cells[id] = slices.Clone(col)
	}
	return out
}

// reindex aligns the rows to snapshots, filling new rows with def.
func (t *SeriesTable) reindex(snapshots []string, def domain.Value) {
	pos := make(map[string]int, len(t.snapshots))
	for i, s := range t.snapshots {
		pos[s] = i
	}
	for id, col := range t.cells {
		next := make([]domain.Value, len(snapshots))
		for i, s := range snapshots {
			if j, ok := pos[s]; ok {
				next[i] = col[j]
			} else {
				next[i] = def
			}
		}
		t.cells[id] = next
	}
	t.snapshots = slices.Clone(snapshots)
}
