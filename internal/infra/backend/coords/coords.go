// Package coords persists a network in a coordinate/array layout on BadgerDB.
//
// Every component type contributes a dimension <list>_i holding its entity
// ids. Static attributes become variables <list>_<attr> over that dimension;
// varying attributes become <list>_t_<attr> over (snapshots, <list>_t_<attr>_i),
// where the second dimension carries only the persisted entity subset.
// Network scalars are stored as network_<attr>. Boolean network scalars are
// not representable and are rejected.
package coords

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"gridstore/internal/backend/core"
	"gridstore/pkg/domain"
)

const (
	driverName = string(core.DriverBadger)

	attrPrefix = "attr/"
	dimPrefix  = "dim/"
	varPrefix  = "var/"

	nameIndex        = "name"
	networkNamespace = "network_"
	snapshotDim      = "snapshots"
	weightingsVar    = "snapshots_weightings"
)

// Config selects the database directory and encoding effects.
type Config struct {
	// Dir is the BadgerDB directory; ignored when InMemory is set.
	Dir      string
	InMemory bool
	// Options.CompressionLevel selects badger's ZSTD level (0 disables
	// compression); Options.FloatTruncationDigits quantises floats on write.
	Options core.Options
	Logger  *zap.Logger
}

// variable is one data array together with its dimension names.
type variable struct {
	List string         `json:"list"`
	Attr string         `json:"attr"`
	Dims []string       `json:"dims"`
	Data []domain.Value `json:"data"`
}

// Store is a session on one BadgerDB. It serves as importer and exporter.
type Store struct {
	db   *badger.DB
	opts core.Options
	log  *zap.Logger
}

var (
	_ core.Importer = (*Store)(nil)
	_ core.Exporter = (*Store)(nil)
)

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(strings.TrimSpace(format), args...)
}

// Open opens or creates the database.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("coords: directory is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, ioErr("create dirs", err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Options.CompressionLevel > 0 {
		opts = opts.WithCompression(options.ZSTD).WithZSTDCompressionLevel(cfg.Options.CompressionLevel)
	} else {
		opts = opts.WithCompression(options.None)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("backend", driverName))
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: log.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ioErr("open", err)
	}
	return &Store{db: db, opts: cfg.Options, log: log}, nil
}

// NewImporter opens an existing database directory.
func NewImporter(_ context.Context, cfg Config) (*Store, error) {
	if !cfg.InMemory {
		if _, err := os.Stat(cfg.Dir); err != nil {
			return nil, ioErr("open", err)
		}
	}
	return Open(cfg)
}

// NewExporter opens or creates the database directory.
func NewExporter(_ context.Context, cfg Config) (*Store, error) {
	return Open(cfg)
}

func ioErr(op string, err error) error {
	return &domain.BackendIOError{Driver: driverName, Op: op, Err: err}
}

// Close releases the database. An in-memory database is discarded.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying database for inspection in tests.
func (s *Store) DB() *badger.DB { return s.db }

func staticVar(list, attr string) string { return list + "_" + attr }
func seriesVar(list, attr string) string { return list + "_t_" + attr }
func entityDim(list string) string       { return list + "_i" }
func seriesDim(list, attr string) string { return seriesVar(list, attr) + "_i" }

// ---- low-level access ----

func getJSON(txn *badger.Txn, key string, out any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error { return json.Unmarshal(val, out) })
}

func setJSON(txn *badger.Txn, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), raw)
}

func keysWithPrefix(txn *badger.Txn, prefix string) []string {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
	defer it.Close()
	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().KeyCopy(nil)))
	}
	return keys
}

// variables returns the variables stored under <list>_ whose list and rank
// match.
func variables(txn *badger.Txn, list string, rank int) ([]variable, error) {
	var out []variable
	for _, key := range keysWithPrefix(txn, varPrefix+list+"_") {
		var v variable
		if _, err := getJSON(txn, key, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if v.List == list && len(v.Dims) == rank {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) quantise(values []domain.Value) []domain.Value {
	if s.opts.FloatTruncationDigits == nil {
		return values
	}
	out := make([]domain.Value, len(values))
	for i, v := range values {
		out[i] = s.opts.Truncate(v)
	}
	return out
}

// ---- reading ----

// Attributes collects the network_<attr> scalars; nil when none are stored.
func (s *Store) Attributes(context.Context) (map[string]domain.Value, error) {
	var out map[string]domain.Value
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, attrPrefix+networkNamespace) {
			var v domain.Value
			if _, err := getJSON(txn, key, &v); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			if out == nil {
				out = make(map[string]domain.Value)
			}
			out[strings.TrimPrefix(key, attrPrefix+networkNamespace)] = v
		}
		return nil
	})
	if err != nil {
		return nil, ioErr("read attributes", err)
	}
	return out, nil
}

// Snapshots reads the snapshot dimension and its weightings, if any.
func (s *Store) Snapshots(context.Context) (*core.Frame, error) {
	var frame *core.Frame
	err := s.db.View(func(txn *badger.Txn) error {
		var names []string
		ok, err := getJSON(txn, dimPrefix+snapshotDim, &names)
		if err != nil || !ok {
			return err
		}
		frame = core.NewFrame(core.SnapshotIndexName, names)
		var w variable
		ok, err = getJSON(txn, varPrefix+weightingsVar, &w)
		if err != nil || !ok {
			return err
		}
		return frame.AddColumn(core.WeightingsColumn, w.Data)
	})
	if err != nil {
		return nil, ioErr("read snapshots", err)
	}
	return frame, nil
}

// Static assembles the <list>_i dimension and its <list>_<attr> variables.
func (s *Store) Static(_ context.Context, list string) (*core.Frame, error) {
	var frame *core.Frame
	err := s.db.View(func(txn *badger.Txn) error {
		var ids []string
		ok, err := getJSON(txn, dimPrefix+entityDim(list), &ids)
		if err != nil || !ok {
			return err
		}
		frame = core.NewFrame(nameIndex, ids)
		vars, err := variables(txn, list, 1)
		if err != nil {
			return err
		}
		for _, v := range vars {
			if err := frame.AddColumn(v.Attr, v.Data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, ioErr("read "+list, err)
	}
	return frame, nil
}

// Series yields one frame per <list>_t_<attr> variable, unpacked from its
// row-major (snapshot, entity) layout.
func (s *Store) Series(_ context.Context, list string) iter.Seq2[core.SeriesFrame, error] {
	return func(yield func(core.SeriesFrame, error) bool) {
		var frames []core.SeriesFrame
		err := s.db.View(func(txn *badger.Txn) error {
			vars, err := variables(txn, list, 2)
			if err != nil {
				return err
			}
			for _, v := range vars {
				var snaps, ids []string
				if _, err := getJSON(txn, dimPrefix+v.Dims[0], &snaps); err != nil {
					return err
				}
				if _, err := getJSON(txn, dimPrefix+v.Dims[1], &ids); err != nil {
					return err
				}
				if len(v.Data) != len(snaps)*len(ids) {
					return fmt.Errorf("variable %s has %d cells for %dx%d", seriesVar(list, v.Attr), len(v.Data), len(snaps), len(ids))
				}
				frame := core.NewFrame("snapshot", snaps)
				for j, id := range ids {
					col := make([]domain.Value, len(snaps))
					for i := range snaps {
						col[i] = v.Data[i*len(ids)+j]
					}
					if err := frame.AddColumn(id, col); err != nil {
						return err
					}
				}
				frames = append(frames, core.SeriesFrame{Attribute: v.Attr, Frame: frame})
			}
			return nil
		})
		if err != nil {
			yield(core.SeriesFrame{}, ioErr("read series of "+list, err))
			return
		}
		for _, f := range frames {
			if !yield(f, nil) {
				return
			}
		}
	}
}

// ---- writing ----

// SaveAttributes replaces every network scalar. Boolean values are rejected
// with *domain.UnsupportedAttributeError before anything is written.
func (s *Store) SaveAttributes(_ context.Context, attrs map[string]domain.Value) error {
	names := slices.Sorted(maps.Keys(attrs))
	for _, name := range names {
		if attrs[name].Kind() == domain.KindBool {
			return &domain.UnsupportedAttributeError{Driver: driverName, Attribute: name, Kind: domain.KindBool}
		}
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keysWithPrefix(txn, attrPrefix+networkNamespace) {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		for _, name := range names {
			if err := setJSON(txn, attrPrefix+networkNamespace+name, s.opts.Truncate(attrs[name])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ioErr("write attributes", err)
	}
	return nil
}

// SaveSnapshots replaces the snapshot dimension. Weightings are dropped when
// the frame carries none.
func (s *Store) SaveSnapshots(_ context.Context, snapshots *core.Frame) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, dimPrefix+snapshotDim, snapshots.Index); err != nil {
			return err
		}
		w, ok := snapshots.Column(core.WeightingsColumn)
		if !ok {
			return txn.Delete([]byte(varPrefix + weightingsVar))
		}
		return setJSON(txn, varPrefix+weightingsVar, variable{
			List: snapshotDim, Attr: core.WeightingsColumn, Dims: []string{snapshotDim}, Data: w,
		})
	})
	if err != nil {
		return ioErr("write snapshots", err)
	}
	return nil
}

func deleteStatic(txn *badger.Txn, list string) error {
	vars, err := variables(txn, list, 1)
	if err != nil {
		return err
	}
	for _, v := range vars {
		if err := txn.Delete([]byte(varPrefix + staticVar(list, v.Attr))); err != nil {
			return err
		}
	}
	return txn.Delete([]byte(dimPrefix + entityDim(list)))
}

// SaveStatic replaces the dimension and every static variable of list.
func (s *Store) SaveStatic(_ context.Context, list string, frame *core.Frame) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := deleteStatic(txn, list); err != nil {
			return err
		}
		dim := entityDim(list)
		if err := setJSON(txn, dimPrefix+dim, frame.Index); err != nil {
			return err
		}
		for j, attr := range frame.Columns {
			v := variable{List: list, Attr: attr, Dims: []string{dim}, Data: s.quantise(frame.Cells[j])}
			if err := setJSON(txn, varPrefix+staticVar(list, attr), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ioErr("write "+list, err)
	}
	return nil
}

// SaveSeries stores the frame row-major over (snapshots, entity subset).
func (s *Store) SaveSeries(_ context.Context, list, attr string, frame *core.Frame) error {
	data := make([]domain.Value, 0, frame.Len()*len(frame.Columns))
	for i := range frame.Index {
		data = append(data, s.quantise(frame.Row(i))...)
	}
	dim := seriesDim(list, attr)
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, dimPrefix+dim, frame.Columns); err != nil {
			return err
		}
		var stored []string
		ok, err := getJSON(txn, dimPrefix+snapshotDim, &stored)
		if err != nil {
			return err
		}
		if !ok || !slices.Equal(stored, frame.Index) {
			return fmt.Errorf("series %s is not indexed by the saved snapshots", seriesVar(list, attr))
		}
		return setJSON(txn, varPrefix+seriesVar(list, attr), variable{
			List: list, Attr: attr, Dims: []string{snapshotDim, dim}, Data: data,
		})
	})
	if err != nil {
		return ioErr("write "+seriesVar(list, attr), err)
	}
	return nil
}

// RemoveStatic deletes the entity dimension and static variables of list.
func (s *Store) RemoveStatic(_ context.Context, list string) error {
	if err := s.db.Update(func(txn *badger.Txn) error { return deleteStatic(txn, list) }); err != nil {
		return ioErr("remove "+list, err)
	}
	return nil
}

// RemoveSeries deletes one varying variable and its entity dimension.
func (s *Store) RemoveSeries(_ context.Context, list, attr string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(varPrefix + seriesVar(list, attr))); err != nil {
			return err
		}
		return txn.Delete([]byte(dimPrefix + seriesDim(list, attr)))
	})
	if err != nil {
		return ioErr("remove "+seriesVar(list, attr), err)
	}
	return nil
}

// Finish syncs the value log of a persistent database.
func (s *Store) Finish(context.Context) error {
	if s.db.Opts().InMemory {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return ioErr("sync", err)
	}
	return nil
}
