package netio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gridstore/internal/backend"
	"gridstore/internal/backend/core"
	"gridstore/internal/blob"
	"gridstore/internal/schema"
	"gridstore/internal/store"
	"gridstore/pkg/domain"
)

// scenarioRegistry is the two-type schema used by the worked scenarios.
func scenarioRegistry() *schema.Registry {
	return schema.NewRegistry().MustRegister(
		domain.ComponentType{
			Name: "Bus", ListName: "buses", Anchor: true,
			Attrs: []domain.Attribute{
				{Name: "v_nom", Type: domain.TypeFloat, Default: domain.Float(1), Static: true},
			},
		},
		domain.ComponentType{
			Name: "Load", ListName: "loads",
			Attrs: []domain.Attribute{
				{Name: "bus", Type: domain.TypeString, Default: domain.String(""), Static: true, Reference: "Bus"},
				{Name: "p_set", Type: domain.TypeFloat, Default: domain.Float(0), Varying: true},
			},
		},
	)
}

func csvFiles(t *testing.T, files map[string]string) *blob.MemoryStore {
	t.Helper()
	sink := blob.NewMemory()
	require.NoError(t, sink.Seed(files))
	return sink
}

func csvConfig(sink blob.Store) backend.Config {
	return backend.Config{Driver: core.DriverCSV, Store: sink}
}

func TestScenarioA(t *testing.T) {
	ctx := context.Background()
	st := store.New(scenarioRegistry())
	require.NoError(t, st.SetSnapshots([]string{"t1", "t2"}))
	require.NoError(t, st.Add("Bus", "b1", map[string]domain.Value{"v_nom": domain.Float(20)}))
	require.NoError(t, st.Add("Load", "l1", map[string]domain.Value{"bus": domain.String("b1")}))
	series := store.NewSeriesTable([]string{"t1", "t2"})
	require.NoError(t, series.SetColumn("l1", floats(5, 5)))
	_, err := st.SetSeries("Load", "p_set", series)
	require.NoError(t, err)

	sink := blob.NewMemory()
	_, err = ExportTo(ctx, zap.NewNop(), st, csvConfig(sink))
	require.NoError(t, err)
	assert.Equal(t, "snapshot,l1\nt1,5\nt2,5\n", string(sink.Snapshot()["loads-p_set.csv"]))

	got := store.New(scenarioRegistry())
	_, err = ImportFrom(ctx, zap.NewNop(), got, csvConfig(sink))
	require.NoError(t, err)
	bus, err := got.Static("Bus")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, bus.IDs())
	v, _ := bus.Value("b1", "v_nom")
	assert.Equal(t, domain.Float(20), v)

	imported, err := got.Series("Load", "p_set")
	require.NoError(t, err)
	assert.Equal(t, floats(5, 5), imported.Column("l1"))
	m, err := got.Dense("Load", "p_set", []string{"t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Float(5), m.At(0, 0))
}

// keepSnapshots hides the backend's snapshot index so that the store keeps
// its own while series are read.
type keepSnapshots struct{ core.Importer }

func (keepSnapshots) Snapshots(context.Context) (*core.Frame, error) { return nil, nil }

func (k keepSnapshots) SetFormatVersion(version string) {
	if va, ok := k.Importer.(core.VersionAware); ok {
		va.SetFormatVersion(version)
	}
}

func assertScenarioB(t *testing.T, st *store.Store, report *Report, logs *observer.ObservedLogs) {
	t.Helper()
	warnings := report.Warnings(domain.MissingSnapshotWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"t2"}, warnings[0].Snapshots)
	assert.Equal(t, "p_set", warnings[0].Attribute)

	entries := logs.FilterMessage("snapshots missing from series; filled with default").All()
	require.Len(t, entries, 1)
	ctxMap := entries[0].ContextMap()
	assert.Equal(t, "Load", ctxMap["component"])
	assert.Equal(t, string(domain.MissingSnapshotWarning), ctxMap["kind"])

	m, err := st.Dense("Load", "p_set", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Float(5), m.At(0, 0))
	assert.Equal(t, domain.Float(0), m.At(1, 0))
}

func TestScenarioB(t *testing.T) {
	ctx := context.Background()
	src := store.New(scenarioRegistry(), store.WithName("grid"))
	require.NoError(t, src.SetSnapshots([]string{"t1"}))
	require.NoError(t, src.Add("Bus", "b1", map[string]domain.Value{"v_nom": domain.Float(20)}))
	require.NoError(t, src.Add("Load", "l1", map[string]domain.Value{"bus": domain.String("b1")}))
	series := store.NewSeriesTable([]string{"t1"})
	require.NoError(t, series.SetColumn("l1", floats(5)))
	_, err := src.SetSeries("Load", "p_set", series)
	require.NoError(t, err)

	for _, tc := range targets() {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg(t)
			_, err := ExportTo(ctx, zap.NewNop(), src, cfg)
			require.NoError(t, err)

			st := store.New(scenarioRegistry())
			require.NoError(t, st.SetSnapshots([]string{"t1", "t2"}))
			log, logs := observed()
			im, err := backend.Default().OpenImporter(ctx, cfg)
			require.NoError(t, err)
			defer func() { require.NoError(t, im.Close()) }()

			report, err := Import(ctx, log, st, keepSnapshots{im})
			require.NoError(t, err)
			assert.Equal(t, []string{"t1", "t2"}, st.Snapshots())
			assertScenarioB(t, st, report, logs)
		})
	}
}

func TestScenarioBWithoutSnapshotsFile(t *testing.T) {
	ctx := context.Background()
	sink := csvFiles(t, map[string]string{
		"network.csv":     "name,version\ngrid," + domain.FormatVersion + "\n",
		"buses.csv":       "name,v_nom\nb1,20\n",
		"loads.csv":       "name,bus\nl1,b1\n",
		"loads-p_set.csv": "snapshot,l1\nt1,5\n",
	})
	st := store.New(scenarioRegistry())
	require.NoError(t, st.SetSnapshots([]string{"t1", "t2"}))
	log, logs := observed()

	report, err := ImportFrom(ctx, log, st, csvConfig(sink))
	require.NoError(t, err)
	assertScenarioB(t, st, report, logs)
}

func TestMergeRejection(t *testing.T) {
	ctx := context.Background()
	sink := csvFiles(t, map[string]string{
		"buses.csv": "name,v_nom\nb1,380\nb2,110\n",
		"loads.csv": "name,bus\nl1,b2\n",
	})
	st := store.New(scenarioRegistry())
	require.NoError(t, st.Add("Bus", "b1", map[string]domain.Value{"v_nom": domain.Float(20)}))
	log, logs := observed()

	report, err := ImportFrom(ctx, log, st, csvConfig(sink))
	require.NoError(t, err)
	var dup *domain.DuplicateIDError
	require.ErrorAs(t, report.Rejected["Bus"], &dup)
	assert.Equal(t, []string{"b1"}, dup.IDs)

	bus, err := st.Static("Bus")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, bus.IDs())
	v, _ := bus.Value("b1", "v_nom")
	assert.Equal(t, domain.Float(20), v)

	rejected := logs.FilterMessage("component import rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "Bus", rejected[0].ContextMap()["component"])

	// Other types still import; l1 references a bus that was rejected.
	assert.Equal(t, []string{"l1"}, st.IDs("Load"))
	refs := report.Warnings(domain.MissingReferenceWarning)
	require.Len(t, refs, 1)
	assert.Equal(t, []string{"l1"}, refs[0].IDs)
}

func TestMissingAnchorAborts(t *testing.T) {
	ctx := context.Background()
	sink := csvFiles(t, map[string]string{"loads.csv": "name,bus\nl1,b1\n"})
	st := store.New(scenarioRegistry())
	log, logs := observed()
	_, err := ImportFrom(ctx, log, st, csvConfig(sink))
	require.ErrorIs(t, err, domain.ErrMissingAnchor)
	var missing *domain.MissingAnchorError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Bus", missing.Component)
	assert.Empty(t, st.IDs("Load"))
	assert.Equal(t, 1, logs.FilterMessage("anchor component missing from backend").Len())
}

func TestMissingAnchorLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	reg := schema.NewRegistry().MustRegister(
		domain.ComponentType{Name: "Bus", ListName: "buses", Anchor: true},
		domain.ComponentType{Name: "Area", ListName: "areas", Anchor: true},
	)
	sink := csvFiles(t, map[string]string{
		"network.csv":   "name\nincoming\n",
		"snapshots.csv": "snapshot\nn1\n",
		"buses.csv":     "name\nb9\n",
	})
	st := store.New(reg, store.WithName("mine"))
	require.NoError(t, st.SetSnapshots([]string{"t1", "t2"}))

	_, err := ImportFrom(ctx, zap.NewNop(), st, csvConfig(sink))
	var missing *domain.MissingAnchorError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Area", missing.Component)
	assert.Equal(t, "mine", st.Meta().Name)
	assert.Equal(t, []string{"t1", "t2"}, st.Snapshots())
	assert.Empty(t, st.IDs("Bus"))
}

func TestOptionalAnchorMayBeMissing(t *testing.T) {
	sink := csvFiles(t, map[string]string{"buses.csv": "name\nb1\n"})
	st := store.New(schema.Default())
	report, err := ImportFrom(context.Background(), zap.NewNop(), st, csvConfig(sink))
	require.NoError(t, err)
	assert.Equal(t, []string{"buses"}, report.Components)
}

func TestCoercionFailureRejectsOnlyThatType(t *testing.T) {
	ctx := context.Background()
	sink := csvFiles(t, map[string]string{
		"buses.csv":       "name,v_nom\nb1,20\n",
		"loads.csv":       "name,bus\nl1,b1\n",
		"loads-p_set.csv": "snapshot,l1\nt1,lots\n",
	})
	st := store.New(scenarioRegistry())
	require.NoError(t, st.SetSnapshots([]string{"t1"}))
	report, err := ImportFrom(ctx, zap.NewNop(), st, csvConfig(sink))
	require.NoError(t, err)

	var coerce *domain.TypeCoercionError
	require.ErrorAs(t, report.Rejected["Load"], &coerce)
	assert.Equal(t, "p_set", coerce.Attribute)
	assert.Equal(t, []string{"l1"}, st.IDs("Load"))
	assert.Empty(t, st.Overridden("Load", "p_set"))

	bad := csvFiles(t, map[string]string{
		"buses.csv": "name,v_nom\nb1,high\n",
	})
	st = store.New(scenarioRegistry())
	report, err = ImportFrom(ctx, zap.NewNop(), st, csvConfig(bad))
	require.NoError(t, err)
	require.ErrorAs(t, report.Rejected["Bus"], &coerce)
	assert.Empty(t, st.IDs("Bus"))
}

func TestStaticTableDiagnostics(t *testing.T) {
	ctx := context.Background()
	sink := csvFiles(t, map[string]string{
		"buses.csv":      "name,v_nom\nb1,20\n",
		"generators.csv": "name,bus,source,colour,p\ng1,b1,wind,red,3\n",
		"loads.csv":      "name,bus\nl1,b7\n",
		"loads-q.csv":    "snapshot,l1\nt1,1\n",
		"loads-p.csv":    "snapshot,l1,l9\nt1,1,2\nt0,4,4\n",
		"snapshots.csv":  "name,weightings\nt1,3\nt2,x\n",
	})
	st := store.New(schema.Default())
	report, err := ImportFrom(ctx, zap.NewNop(), st, csvConfig(sink))
	require.NoError(t, err)
	assert.Empty(t, report.Rejected)

	assert.Equal(t, []string{"t1", "t2"}, st.Snapshots())
	assert.Equal(t, []float64{3, 1}, st.Weightings())

	versions := report.Warnings(domain.VersionMismatchWarning)
	assert.Len(t, versions, 1, "a network without a version marker is treated as older")

	deprecated := report.Warnings(domain.DeprecatedAttributeWarning)
	require.Len(t, deprecated, 1)
	assert.Equal(t, "source", deprecated[0].Attribute)

	var unknown []string
	for _, d := range report.Warnings(domain.UnknownAttributeWarning) {
		unknown = append(unknown, d.Component+"."+d.Attribute)
	}
	assert.ElementsMatch(t, []string{"Generator.colour", ".weightings"}, unknown)

	// A varying-only column in a static table is spread across snapshots.
	m, err := st.Dense("Generator", "p", nil, []string{"g1"})
	require.NoError(t, err)
	assert.Equal(t, domain.Float(3), m.At(0, 0))
	assert.Equal(t, domain.Float(3), m.At(1, 0))

	var refs []string
	for _, d := range report.Warnings(domain.MissingReferenceWarning) {
		refs = append(refs, d.Attribute+":"+d.IDs[0])
	}
	assert.ElementsMatch(t, []string{"bus:l1", "p:l9"}, refs)

	stale := report.Warnings(domain.StaleDataWarning)
	require.Len(t, stale, 1)
	assert.Equal(t, []string{"t0"}, stale[0].Snapshots)

	// loads-q.csv misses t2 as well as loads-p.csv.
	assert.Len(t, report.Warnings(domain.MissingSnapshotWarning), 2)
}

func TestSeriesOfNonVaryingAttributeIgnored(t *testing.T) {
	sink := csvFiles(t, map[string]string{
		"buses.csv":     "name\nb1\n",
		"buses-x.csv":   "snapshot,b1\nt1,4\n",
		"snapshots.csv": "name\nt1\n",
	})
	st := store.New(schema.Default())
	report, err := ImportFrom(context.Background(), zap.NewNop(), st, csvConfig(sink))
	require.NoError(t, err)
	warnings := report.Warnings(domain.UnknownAttributeWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "x", warnings[0].Attribute)
}

func TestBackendFailureIsReturnedAfterClose(t *testing.T) {
	sink := csvFiles(t, map[string]string{"buses.csv": "name,v_nom\nb1\n"})
	_, err := ImportFrom(context.Background(), zap.NewNop(), store.New(scenarioRegistry()), csvConfig(sink))
	var ioErr *domain.BackendIOError
	require.ErrorAs(t, err, &ioErr)
	assert.False(t, errors.Is(err, domain.ErrMissingAnchor))
}
