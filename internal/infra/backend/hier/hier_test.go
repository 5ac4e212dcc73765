package hier

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gridstore/internal/backend/core"
	"gridstore/internal/infra/backend/hier/testutil"
	"gridstore/pkg/domain"
)

func loadsFrame(t *testing.T) *core.Frame {
	t.Helper()
	f := core.NewFrame("name", []string{"l1", "l2", "l3"})
	require.NoError(t, f.AddColumn("bus", []domain.Value{domain.String("b1"), domain.String("b1"), domain.String("b2")}))
	require.NoError(t, f.AddColumn("p_set", []domain.Value{domain.Float(1), domain.NullFloat(), domain.Float(3)}))
	return f
}

func pSetFrame(t *testing.T, ids ...string) *core.Frame {
	t.Helper()
	f := core.NewFrame("snapshot", []string{"t1", "t2"})
	for i, id := range ids {
		v := float64(i + 5)
		require.NoError(t, f.AddColumn(id, []domain.Value{domain.Float(v), domain.Float(v)}))
	}
	return f
}

func exportNetwork(t *testing.T, ctx context.Context, cfg Config) {
	t.Helper()
	ex, err := NewExporter(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, ex.SaveAttributes(ctx, map[string]domain.Value{
		"name":    domain.String("grid"),
		"version": domain.String(domain.FormatVersion),
	}))
	snaps := core.NewFrame(core.SnapshotIndexName, []string{"t1", "t2"})
	require.NoError(t, snaps.AddColumn(core.WeightingsColumn, []domain.Value{domain.Float(1), domain.Float(2)}))
	require.NoError(t, ex.SaveSnapshots(ctx, snaps))
	require.NoError(t, ex.SaveStatic(ctx, "loads", loadsFrame(t)))
	require.NoError(t, ex.SaveSeries(ctx, "loads", "p_set", pSetFrame(t, "l3", "l1")))
	require.NoError(t, ex.Finish(ctx))
	require.NoError(t, ex.Close())
}

func assertNetwork(t *testing.T, ctx context.Context, im *Store) {
	t.Helper()
	attrs, err := im.Attributes(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.String("grid"), attrs["name"])
	im.SetFormatVersion(attrs["version"].String())

	snaps, err := im.Snapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, snaps.Index)
	w, _ := snaps.Column(core.WeightingsColumn)
	assert.Equal(t, domain.Float(2), w[1])

	static, err := im.Static(ctx, "loads")
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2", "l3"}, static.Index)
	assert.Equal(t, []string{"bus", "p_set"}, static.Columns)
	p, _ := static.Column("p_set")
	assert.True(t, p[1].IsNull())

	var got []core.SeriesFrame
	for sf, err := range im.Series(ctx, "loads") {
		require.NoError(t, err)
		got = append(got, sf)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "p_set", got[0].Attribute)
	assert.Equal(t, []string{"l3", "l1"}, got[0].Frame.Columns)
	l1, _ := got[0].Frame.Column("l1")
	assert.Equal(t, domain.Float(6), l1[0])
}

func TestSQLiteRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "net.sqlite")
	opts := core.DefaultOptions()
	exportNetwork(t, ctx, Config{Path: path, Options: opts})

	im, err := NewImporter(ctx, Config{Path: path, Options: opts})
	require.NoError(t, err)
	assertNetwork(t, ctx, im)
	require.NoError(t, im.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var payload []byte
	require.NoError(t, db.QueryRow(`SELECT payload FROM nodes WHERE path = ?`, "/loads_t/p_set").Scan(&payload))
	assert.True(t, bytes.HasPrefix(payload, zstdMagic), "payload should be zstd compressed")
}

func TestUncompressedPayload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "net.sqlite")
	opts := core.DefaultOptions()
	opts.CompressionLevel = 0
	exportNetwork(t, ctx, Config{Path: path, Options: opts})

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var payload []byte
	require.NoError(t, db.QueryRow(`SELECT payload FROM nodes WHERE path = ?`, "/loads").Scan(&payload))
	assert.True(t, bytes.HasPrefix(payload, []byte("{")))

	// A reader configured with compression still decodes plain payloads.
	im, err := NewImporter(ctx, Config{Path: path, Options: core.DefaultOptions()})
	require.NoError(t, err)
	defer im.Close()
	assertNetwork(t, ctx, im)
}

func TestSeriesRequiresStatic(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "net.sqlite")
	exportNetwork(t, ctx, Config{Path: path, Options: core.DefaultOptions()})
	im, err := NewImporter(ctx, Config{Path: path})
	require.NoError(t, err)
	defer im.Close()
	im.SetFormatVersion(domain.FormatVersion)
	for _, err := range im.Series(ctx, "loads") {
		var ioErr *domain.BackendIOError
		require.ErrorAs(t, err, &ioErr)
		assert.Contains(t, err.Error(), "before its static table")
	}

	ex, err := NewExporter(ctx, Config{Path: path})
	require.NoError(t, err)
	defer ex.Close()
	err = ex.SaveSeries(ctx, "generators", "p", pSetFrame(t, "g1"))
	assert.Error(t, err)
	require.NoError(t, ex.SaveStatic(ctx, "generators", core.NewFrame("name", []string{"g1"})))
	assert.Error(t, ex.SaveSeries(ctx, "generators", "p", pSetFrame(t, "g2")))
}

func TestLegacyNameAddressedSeries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.sqlite")
	ex, err := NewExporter(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, ex.SaveAttributes(ctx, map[string]domain.Value{"version": domain.String("1.0.2")}))
	require.NoError(t, ex.SaveStatic(ctx, "loads", loadsFrame(t)))
	legacy := fromFrame(pSetFrame(t, "l2"))
	require.NoError(t, ex.stage(seriesPath("loads", "p_set"), legacy))
	require.NoError(t, ex.Finish(ctx))
	require.NoError(t, ex.Close())

	im, err := NewImporter(ctx, Config{Path: path})
	require.NoError(t, err)
	defer im.Close()
	attrs, err := im.Attributes(ctx)
	require.NoError(t, err)
	im.SetFormatVersion(attrs["version"].String())
	assert.True(t, im.legacy)
	for sf, err := range im.Series(ctx, "loads") {
		require.NoError(t, err)
		assert.Equal(t, []string{"l2"}, sf.Frame.Columns)
	}
}

func TestRemovalsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "net.sqlite")
	exportNetwork(t, ctx, Config{Path: path})

	ex, err := NewExporter(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, ex.RemoveSeries(ctx, "loads", "p_set"))
	require.NoError(t, ex.RemoveStatic(ctx, "generators"))
	require.NoError(t, ex.Finish(ctx))
	require.NoError(t, ex.Close())

	im, err := NewImporter(ctx, Config{Path: path})
	require.NoError(t, err)
	defer im.Close()
	_, err = im.Static(ctx, "loads")
	require.NoError(t, err)
	n := 0
	for range im.Series(ctx, "loads") {
		n++
	}
	assert.Zero(t, n)
	missing, err := im.Static(ctx, "generators")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestImporterMissingFile(t *testing.T) {
	_, err := NewImporter(context.Background(), Config{Path: filepath.Join(t.TempDir(), "absent.sqlite")})
	var ioErr *domain.BackendIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "sqlite", ioErr.Driver)
	_, err = NewExporter(context.Background(), Config{})
	assert.Error(t, err)
	_, err = NewExporter(context.Background(), Config{Dialect: "oracle"})
	assert.Error(t, err)
}

func TestPostgresDialectWithStub(t *testing.T) {
	ctx := context.Background()
	_, conn := testutil.NewStubDB()
	var dsns []string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		assert.Equal(t, "pgx", driverName)
		dsns = append(dsns, dsn)
		return testutil.Reopen(conn), nil
	})
	defer restore()

	cfg := Config{Dialect: DialectPostgres, Options: core.DefaultOptions()}
	exportNetwork(t, ctx, cfg)
	assert.Equal(t, []string{defaultDSN}, dsns)
	assert.True(t, slices.ContainsFunc(conn.Execs, func(q string) bool {
		return strings.Contains(q, "BYTEA")
	}))
	assert.True(t, slices.ContainsFunc(conn.Execs, func(q string) bool {
		return strings.Contains(q, "ON CONFLICT (path)") && strings.Contains(q, "$2")
	}))
	assert.Len(t, conn.Tables["nodes"], 4)

	im, err := NewImporter(ctx, cfg)
	require.NoError(t, err)
	assertNetwork(t, ctx, im)
	require.NoError(t, im.Close())

	// Re-exporting replaces nodes instead of duplicating them.
	exportNetwork(t, ctx, cfg)
	assert.Len(t, conn.Tables["nodes"], 4)
}

func TestPostgresCommitFailure(t *testing.T) {
	ctx := context.Background()
	_, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return testutil.Reopen(conn), nil })
	defer restore()

	ex, err := NewExporter(ctx, Config{Dialect: DialectPostgres, DSN: "postgres://example/db"})
	require.NoError(t, err)
	defer ex.Close()
	require.NoError(t, ex.SaveStatic(ctx, "buses", core.NewFrame("name", []string{"b1"})))
	conn.FailCommit = true
	err = ex.Finish(ctx)
	var ioErr *domain.BackendIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "postgres", ioErr.Driver)
	assert.Equal(t, "commit", ioErr.Op)

	conn.FailCommit = false
	conn.FailExec = true
	_, err = NewExporter(ctx, Config{Dialect: DialectPostgres})
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "ping", ioErr.Op)
}

func TestCodecRejectsMismatchedNode(t *testing.T) {
	c, err := newCodec(0)
	require.NoError(t, err)
	defer c.close()
	_, err = c.decode([]byte(`{"columns":["a","b"],"cells":[[1]]}`))
	assert.Error(t, err)
	n, err := c.decode([]byte(`{"columns":["a"],"cells":[[1,null,"+Inf"]]}`))
	require.NoError(t, err)
	assert.True(t, n.Cells[0][1].IsNull())
	assert.Equal(t, domain.String("+Inf"), n.Cells[0][2])
}
