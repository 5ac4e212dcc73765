package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridstore/pkg/domain"
)

func loadsWithOverride(t *testing.T) *Store {
	t.Helper()
	st := newStore(t)
	require.NoError(t, st.Add("Load", "l1", map[string]domain.Value{"bus": domain.String("b1"), "p_set": domain.Float(2)}))
	require.NoError(t, st.Add("Load", "l2", map[string]domain.Value{"bus": domain.String("b2"), "p_set": domain.Float(7)}))
	require.NoError(t, st.Add("Load", "l3", map[string]domain.Value{"bus": domain.String("b2")}))
	_, err := st.SetSeries("Load", "p_set", seriesTable(t, st.Snapshots(), map[string][]float64{"l2": {10, 11, 12}}))
	require.NoError(t, err)
	return st
}

func TestDenseUsesStaticValuesForFixedEntities(t *testing.T) {
	st := loadsWithOverride(t)
	m, err := st.Dense("Load", "p_set", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, m.Snapshots())
	assert.Equal(t, []string{"l1", "l2", "l3"}, m.IDs())
	assert.Equal(t, domain.Float(2), m.At(2, 0))
	assert.Equal(t, domain.Float(11), m.At(1, 1))
	assert.Equal(t, domain.Float(0), m.At(0, 2))

	v, ok := m.Lookup("t3", "l2")
	require.True(t, ok)
	assert.Equal(t, domain.Float(12), v)
	_, ok = m.Lookup("t3", "nope")
	assert.False(t, ok)
}

func TestDenseSubsetting(t *testing.T) {
	st := loadsWithOverride(t)
	m, err := st.Dense("Load", "p_set", []string{"t3", "t1"}, []string{"l2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t1"}, m.Snapshots())
	assert.Equal(t, []string{"l2"}, m.IDs())
	assert.Equal(t, domain.Float(12), m.At(0, 0))
	assert.Equal(t, domain.Float(10), m.At(1, 0))

	_, err = st.Dense("Load", "p_set", []string{"t7"}, nil)
	assert.Error(t, err)
	_, err = st.Dense("Load", "nope", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestDenseVaryingOnlyFallsBackToDefault(t *testing.T) {
	st := loadsWithOverride(t)
	require.NoError(t, st.Add("StorageUnit", "su1", map[string]domain.Value{"bus": domain.String("b1")}))
	m, err := st.Dense("StorageUnit", "state_of_charge_set", nil, nil)
	require.NoError(t, err)
	assert.True(t, m.At(0, 0).IsNull())
}

func TestDenseAndRowsAgree(t *testing.T) {
	st := loadsWithOverride(t)
	cases := []struct {
		name      string
		attr      string
		snapshots []string
		ids       []string
	}{
		{"all", "p_set", nil, nil},
		{"fixed only", "p_set", nil, []string{"l1", "l3"}},
		{"override only", "p_set", []string{"t2"}, []string{"l2"}},
		{"static only attr", "sign", []string{"t1", "t3"}, nil},
		{"varying only attr", "p", nil, []string{"l3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := st.Dense("Load", tc.attr, tc.snapshots, tc.ids)
			require.NoError(t, err)
			rows, err := st.Rows("Load", tc.attr, tc.snapshots, tc.ids)
			require.NoError(t, err)
			i := 0
			for snap, row := range rows {
				require.Less(t, i, len(m.Snapshots()))
				assert.Equal(t, m.Snapshots()[i], snap)
				assert.True(t, m.Row(i).Equal(row), "row %d differs", i)
				i++
			}
			assert.Equal(t, len(m.Snapshots()), i)
		})
	}
}

func TestRowsShareImmutableRowWithoutOverrides(t *testing.T) {
	st := loadsWithOverride(t)
	rows, err := st.Rows("Load", "p_set", nil, []string{"l1", "l3"})
	require.NoError(t, err)
	var seen []Row
	for _, row := range rows {
		seen = append(seen, row)
	}
	require.Len(t, seen, 3)
	assert.True(t, seen[0].sameBacking(seen[2]))

	vals := seen[0].Values()
	vals[0] = domain.Float(99)
	assert.Equal(t, domain.Float(2), seen[1].At(0), "Values returns a copy")

	rows, _ = st.Rows("Load", "p_set", nil, nil)
	var varying []Row
	for _, row := range rows {
		varying = append(varying, row)
	}
	assert.False(t, varying[0].sameBacking(varying[1]))
}

func TestRowsRederiveOnEachCall(t *testing.T) {
	st := loadsWithOverride(t)
	rows, err := st.Rows("Load", "p_set", []string{"t1"}, []string{"l1"})
	require.NoError(t, err)
	first := collect(rows)
	require.NoError(t, st.Remove("Load", "l1"))
	second := collect(rows)
	assert.Equal(t, 1, first[0].Len())
	assert.Equal(t, 0, second[0].Len())

	count := 0
	for range rows {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func collect(rows func(func(string, Row) bool)) []Row {
	var out []Row
	for _, row := range rows {
		out = append(out, row)
	}
	return out
}
