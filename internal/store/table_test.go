package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridstore/pkg/domain"
)

func TestStaticTableIndexFollowsRows(t *testing.T) {
	tbl := staticTable(t, []string{"b1", "b2", "b3"}, map[string][]domain.Value{
		"v_nom": {domain.Float(20), domain.Float(110), domain.Float(380)},
	})
	assert.Equal(t, 1, tbl.Index("b2"))
	assert.Equal(t, -1, tbl.Index("b9"))

	kept := tbl.Filter(func(id string) bool { return id != "b1" })
	assert.Equal(t, 0, kept.Index("b2"))
	assert.Equal(t, 1, kept.Index("b3"))
	assert.Equal(t, -1, kept.Index("b1"))
	v, ok := kept.Value("b3", "v_nom")
	require.True(t, ok)
	assert.Equal(t, domain.Float(380), v)

	// The source table keeps its own positions.
	assert.Equal(t, 0, tbl.Index("b1"))

	var nilTable *StaticTable
	assert.Equal(t, -1, nilTable.Index("b1"))
}

func TestStaticIndexAfterAppend(t *testing.T) {
	st := newStore(t)
	before, err := st.Static("Bus")
	require.NoError(t, err)

	require.NoError(t, st.SetStatic("Bus", staticTable(t, []string{"b3"}, map[string][]domain.Value{
		"v_nom": {domain.Float(380)},
	}), Append))
	after, err := st.Static("Bus")
	require.NoError(t, err)
	assert.Equal(t, 2, after.Index("b3"))
	assert.Equal(t, 0, after.Index("b1"))
	v, ok := after.Value("b3", "v_nom")
	require.True(t, ok)
	assert.Equal(t, domain.Float(380), v)

	assert.Equal(t, -1, before.Index("b3"), "copies taken earlier are not affected")

	require.NoError(t, st.Remove("Bus", "b1"))
	removed, err := st.Static("Bus")
	require.NoError(t, err)
	assert.Equal(t, 0, removed.Index("b2"))
	assert.Equal(t, 1, removed.Index("b3"))
	assert.Equal(t, -1, removed.Index("b1"))
}
