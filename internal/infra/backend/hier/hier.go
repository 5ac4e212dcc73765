// Package hier persists a network as a hierarchy of nodes in one SQL table:
// /network, /snapshots, /<list> and /<list>_t/<attr>. The same layout is
// written into a single SQLite file or into a Postgres database.
//
// Series nodes address entities by their row position in the static node of
// the same list, so statics must be read before series within a session.
// Files written before PositionalSeriesVersion store entity names instead.
package hier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"gridstore/internal/backend/core"
	"gridstore/pkg/domain"
)

// Dialect selects the SQL engine holding the node table.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	networkPath   = "/network"
	snapshotsPath = "/snapshots"
	nameColumn    = "name"

	defaultDSN = "postgres://localhost/gridstore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sql.Open implementation, returning a restore func.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

// Config describes where the node table lives.
type Config struct {
	Dialect Dialect
	// Path is the SQLite file.
	Path string
	// DSN is the Postgres connection string.
	DSN     string
	Options core.Options
	Logger  *zap.Logger
}

// Store is one session against the node table. Importers load every node up
// front; exporters buffer writes until Finish commits them in one transaction.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *zap.Logger
	codec   *codec

	nodes  map[string][]byte
	legacy bool
	// names holds the row order of every static node read in this session.
	names map[string][]string

	pending   map[string][]byte
	removed   map[string]struct{}
	positions map[string]map[string]int
}

var (
	_ core.Importer     = (*Store)(nil)
	_ core.Exporter     = (*Store)(nil)
	_ core.VersionAware = (*Store)(nil)
)

func (c Config) driver() string {
	if c.Dialect == DialectPostgres {
		return string(core.DriverPostgres)
	}
	return string(core.DriverSQLite)
}

func ioErr(cfg Config, op string, err error) error {
	return &domain.BackendIOError{Driver: cfg.driver(), Op: op, Err: err}
}

func open(ctx context.Context, cfg Config, create bool) (*Store, error) {
	var (
		driverName string
		dsn        string
	)
	switch cfg.Dialect {
	case DialectPostgres:
		driverName, dsn = "pgx", cfg.DSN
		if dsn == "" {
			dsn = defaultDSN
		}
	case DialectSQLite, "":
		cfg.Dialect = DialectSQLite
		if cfg.Path == "" {
			return nil, errors.New("hier: sqlite path required")
		}
		if create {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, ioErr(cfg, "create dirs", err)
			}
		} else if _, err := os.Stat(cfg.Path); err != nil {
			return nil, ioErr(cfg, "open", err)
		}
		driverName, dsn = "sqlite", cfg.Path
	default:
		return nil, fmt.Errorf("hier: unknown dialect %q", cfg.Dialect)
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, ioErr(cfg, "open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, ioErr(cfg, "ping", err)
	}
	cd, err := newCodec(cfg.Options.CompressionLevel)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:        db,
		dialect:   cfg.Dialect,
		log:       log.With(zap.String("backend", cfg.driver())),
		codec:     cd,
		nodes:     make(map[string][]byte),
		names:     make(map[string][]string),
		pending:   make(map[string][]byte),
		removed:   make(map[string]struct{}),
		positions: make(map[string]map[string]int),
	}, nil
}

// NewImporter opens an existing node table and loads every node.
func NewImporter(ctx context.Context, cfg Config) (*Store, error) {
	s, err := open(ctx, cfg, false)
	if err != nil {
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	s.log.Debug("loaded node table", zap.Int("nodes", len(s.nodes)))
	return s, nil
}

// NewExporter opens the target, creating the node table when needed.
func NewExporter(ctx context.Context, cfg Config) (*Store, error) {
	s, err := open(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) driver() string {
	return Config{Dialect: s.dialect}.driver()
}

func (s *Store) ioErr(op string, err error) error {
	return &domain.BackendIOError{Driver: s.driver(), Op: op, Err: err}
}

func (s *Store) ensureTable(ctx context.Context) error {
	payloadType := "BLOB"
	if s.dialect == DialectPostgres {
		payloadType = "BYTEA"
	}
	ddl := `CREATE TABLE IF NOT EXISTS nodes (
		path TEXT PRIMARY KEY,
		payload ` + payloadType + ` NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return s.ioErr("ensure node table", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT path, payload FROM nodes`)
	if err != nil {
		return s.ioErr("select nodes", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			path    string
			payload []byte
		)
		if err := rows.Scan(&path, &payload); err != nil {
			return s.ioErr("scan node", err)
		}
		s.nodes[path] = payload
	}
	if err := rows.Err(); err != nil {
		return s.ioErr("iterate nodes", err)
	}
	return nil
}

// Close releases the database handle and the codec.
func (s *Store) Close() error {
	s.codec.close()
	return s.db.Close()
}

// SetFormatVersion switches series decoding to the name-addressed layout for
// files older than PositionalSeriesVersion.
func (s *Store) SetFormatVersion(version string) {
	s.legacy = domain.OlderThan(version, domain.PositionalSeriesVersion)
	if s.legacy {
		s.log.Debug("reading name-addressed series layout", zap.String("version", version))
	}
}

func staticPath(list string) string       { return "/" + list }
func seriesPrefix(list string) string     { return "/" + list + "_t/" }
func seriesPath(list, attr string) string { return seriesPrefix(list) + attr }

func (s *Store) node(path string) (*node, error) {
	raw, ok := s.nodes[path]
	if !ok {
		return nil, nil
	}
	n, err := s.codec.decode(raw)
	if err != nil {
		return nil, s.ioErr("decode "+path, err)
	}
	return n, nil
}

// ---- reading ----

// Attributes returns the first row of /network, or nil when the node is
// absent.
func (s *Store) Attributes(context.Context) (map[string]domain.Value, error) {
	n, err := s.node(networkPath)
	if err != nil || n == nil {
		return nil, err
	}
	out := make(map[string]domain.Value, len(n.Columns))
	for j, name := range n.Columns {
		if len(n.Cells[j]) > 0 {
			out[name] = n.Cells[j][0]
		}
	}
	return out, nil
}

// Snapshots reads /snapshots.
func (s *Store) Snapshots(context.Context) (*core.Frame, error) {
	n, err := s.node(snapshotsPath)
	if err != nil || n == nil {
		return nil, err
	}
	return n.frame(snapshotsPath)
}

// Static reads /<list>, whose explicit name column becomes the index, and
// records the row order for series decoding.
func (s *Store) Static(_ context.Context, list string) (*core.Frame, error) {
	path := staticPath(list)
	n, err := s.node(path)
	if err != nil || n == nil {
		return nil, err
	}
	i := slices.Index(n.Columns, nameColumn)
	if i < 0 {
		return nil, s.ioErr("decode "+path, errors.New("static node has no name column"))
	}
	names := make([]string, len(n.Cells[i]))
	for r, v := range n.Cells[i] {
		names[r] = v.String()
	}
	frame := core.NewFrame(nameColumn, names)
	for j, col := range n.Columns {
		if j == i {
			continue
		}
		if err := frame.AddColumn(col, n.Cells[j]); err != nil {
			return nil, s.ioErr("decode "+path, err)
		}
	}
	s.names[list] = names
	return frame, nil
}

// Series yields every /<list>_t/<attr> node in path order. Positional
// columns are mapped back to names recorded by Static, so Static must run
// first unless the file predates the positional layout.
func (s *Store) Series(_ context.Context, list string) iter.Seq2[core.SeriesFrame, error] {
	return func(yield func(core.SeriesFrame, error) bool) {
		prefix := seriesPrefix(list)
		var paths []string
		for p := range s.nodes {
			if strings.HasPrefix(p, prefix) {
				paths = append(paths, p)
			}
		}
		slices.Sort(paths)
		for _, p := range paths {
			n, err := s.node(p)
			if err != nil {
				yield(core.SeriesFrame{}, err)
				return
			}
			frame, err := s.seriesFrame(list, p, n)
			if err != nil {
				yield(core.SeriesFrame{}, err)
				return
			}
			if !yield(core.SeriesFrame{Attribute: strings.TrimPrefix(p, prefix), Frame: frame}, nil) {
				return
			}
		}
	}
}

func (s *Store) seriesFrame(list, path string, n *node) (*core.Frame, error) {
	if s.legacy {
		return n.frame(path)
	}
	names, ok := s.names[list]
	if !ok {
		return nil, s.ioErr("decode "+path, fmt.Errorf("series of %s read before its static table", list))
	}
	frame := core.NewFrame(n.IndexName, n.Index)
	for j, col := range n.Columns {
		pos, err := strconv.Atoi(col)
		if err != nil || pos < 0 || pos >= len(names) {
			return nil, s.ioErr("decode "+path, fmt.Errorf("column %q is not a position in %s", col, list))
		}
		if err := frame.AddColumn(names[pos], n.Cells[j]); err != nil {
			return nil, s.ioErr("decode "+path, err)
		}
	}
	return frame, nil
}

// ---- writing ----

func (s *Store) stage(path string, n *node) error {
	raw, err := s.codec.encode(n)
	if err != nil {
		return s.ioErr("encode "+path, err)
	}
	delete(s.removed, path)
	s.pending[path] = raw
	return nil
}

// SaveAttributes stages /network as a single row.
func (s *Store) SaveAttributes(_ context.Context, attrs map[string]domain.Value) error {
	n := &node{}
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		n.Columns = append(n.Columns, name)
		n.Cells = append(n.Cells, []domain.Value{attrs[name]})
	}
	return s.stage(networkPath, n)
}

// SaveSnapshots stages /snapshots.
func (s *Store) SaveSnapshots(_ context.Context, snapshots *core.Frame) error {
	return s.stage(snapshotsPath, fromFrame(snapshots))
}

// SaveStatic writes the index as an explicit name column and remembers row
// positions for the series of list.
func (s *Store) SaveStatic(_ context.Context, list string, frame *core.Frame) error {
	ids := make([]domain.Value, frame.Len())
	pos := make(map[string]int, frame.Len())
	for i, id := range frame.Index {
		ids[i] = domain.String(id)
		pos[id] = i
	}
	n := &node{Columns: []string{nameColumn}, Cells: [][]domain.Value{ids}}
	n.Columns = append(n.Columns, frame.Columns...)
	n.Cells = append(n.Cells, frame.Cells...)
	s.positions[list] = pos
	return s.stage(staticPath(list), n)
}

// SaveSeries stages /<list>_t/<attr> with entity columns replaced by their
// row positions in the static table saved earlier in the session.
func (s *Store) SaveSeries(_ context.Context, list, attr string, frame *core.Frame) error {
	path := seriesPath(list, attr)
	pos, ok := s.positions[list]
	if !ok {
		return s.ioErr("encode "+path, fmt.Errorf("series of %s written before its static table", list))
	}
	n := fromFrame(frame)
	for j, id := range frame.Columns {
		p, ok := pos[id]
		if !ok {
			return s.ioErr("encode "+path, fmt.Errorf("entity %q is not in the static table of %s", id, list))
		}
		n.Columns[j] = strconv.Itoa(p)
	}
	return s.stage(path, n)
}

func (s *Store) remove(path string) {
	delete(s.pending, path)
	s.removed[path] = struct{}{}
}

// RemoveStatic marks /<list> for deletion at Finish.
func (s *Store) RemoveStatic(_ context.Context, list string) error {
	s.remove(staticPath(list))
	return nil
}

// RemoveSeries marks /<list>_t/<attr> for deletion at Finish.
func (s *Store) RemoveSeries(_ context.Context, list, attr string) error {
	s.remove(seriesPath(list, attr))
	return nil
}

func (s *Store) placeholders() (upsert, del string) {
	if s.dialect == DialectPostgres {
		return `INSERT INTO nodes (path, payload) VALUES ($1, $2) ON CONFLICT (path) DO UPDATE SET payload = EXCLUDED.payload`,
			`DELETE FROM nodes WHERE path = $1`
	}
	return `INSERT INTO nodes (path, payload) VALUES (?, ?) ON CONFLICT(path) DO UPDATE SET payload = excluded.payload`,
		`DELETE FROM nodes WHERE path = ?`
}

// Finish applies staged removals and writes in one transaction.
func (s *Store) Finish(ctx context.Context) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.ioErr("begin", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	upsert, del := s.placeholders()
	for _, path := range slices.Sorted(maps.Keys(s.removed)) {
		if _, err := tx.ExecContext(ctx, del, path); err != nil {
			return s.ioErr("delete "+path, err)
		}
	}
	for _, path := range slices.Sorted(maps.Keys(s.pending)) {
		if _, err := tx.ExecContext(ctx, upsert, path, s.pending[path]); err != nil {
			return s.ioErr("write "+path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.ioErr("commit", err)
	}
	s.log.Debug("committed nodes", zap.Int("written", len(s.pending)), zap.Int("removed", len(s.removed)))
	clear(s.pending)
	clear(s.removed)
	return nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }
