// Package csvdir persists a network as a directory of CSV tables on a blob
// sink: network.csv, snapshots.csv, one <list>.csv per component type and one
// <list>-<attr>.csv per persisted varying attribute.
package csvdir

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"gridstore/internal/backend/core"
	blobcore "gridstore/internal/blob/core"
	"gridstore/pkg/domain"
)

const (
	networkFile   = "network"
	snapshotsFile = "snapshots"
	extension     = ".csv"
	contentType   = "text/csv"
	driverName    = string(core.DriverCSV)

	// kindsColumn lists the non-text network attributes as name:kind pairs
	// so that text cells like "007" or "true" survive a round trip.
	kindsColumn = "_kinds"
)

// Config wires a Backend to its sink.
type Config struct {
	Sink blobcore.Store
	// Prefix is prepended to every key; empty writes at the sink root.
	Prefix  string
	Options core.Options
	Logger  *zap.Logger
}

// Backend reads and writes the directory layout. One value serves both as
// importer and exporter.
type Backend struct {
	sink   blobcore.Store
	prefix string
	opts   core.Options
	enc    encoding.Encoding
	log    *zap.Logger
}

var (
	_ core.Importer = (*Backend)(nil)
	_ core.Exporter = (*Backend)(nil)
)

// New validates cfg and resolves the configured text encoding.
func New(cfg Config) (*Backend, error) {
	if cfg.Sink == nil {
		return nil, errors.New("csvdir: sink required")
	}
	enc, err := lookupEncoding(cfg.Options.Encoding)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		sink:   cfg.Sink,
		prefix: strings.Trim(cfg.Prefix, "/"),
		opts:   cfg.Options,
		enc:    enc,
		log:    log.With(zap.String("backend", driverName)),
	}, nil
}

// lookupEncoding resolves WHATWG and IANA names. UTF-8 needs no transform
// and resolves to nil.
func lookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		enc, err = ianaindex.IANA.Encoding(name)
	}
	if err != nil || enc == nil {
		return nil, fmt.Errorf("csvdir: unsupported encoding %q", name)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}

func (b *Backend) key(name string) string {
	if b.prefix == "" {
		return name + extension
	}
	return path.Join(b.prefix, name+extension)
}

// keyPrefix is the key prefix shared by every series file of list.
func (b *Backend) keyPrefix(list string) string {
	return strings.TrimSuffix(b.key(list+"-"), extension)
}

func seriesName(list, attr string) string { return list + "-" + attr }

func (b *Backend) ioErr(op string, err error) error {
	return &domain.BackendIOError{Driver: driverName, Op: op, Err: err}
}

// Close is a no-op; the sink owns no per-session resources.
func (b *Backend) Close() error { return nil }

// ---- reading ----

func (b *Backend) read(ctx context.Context, name string) ([][]string, error) {
	_, rc, err := b.sink.Get(ctx, b.key(name))
	if errors.Is(err, blobcore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, b.ioErr("read "+name, err)
	}
	defer func() { _ = rc.Close() }()
	var r io.Reader = rc
	if b.enc != nil {
		r = transform.NewReader(rc, b.enc.NewDecoder())
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, b.ioErr("parse "+name, err)
	}
	if len(records) == 0 {
		return [][]string{{}}, nil
	}
	return records, nil
}

func (b *Backend) readFrame(ctx context.Context, name string) (*core.Frame, error) {
	records, err := b.read(ctx, name)
	if err != nil || records == nil {
		return nil, err
	}
	header := records[0]
	if len(header) == 0 {
		return core.NewFrame("", nil), nil
	}
	body := records[1:]
	index := make([]string, len(body))
	for i, rec := range body {
		if len(rec) != len(header) {
			return nil, b.ioErr("parse "+name, fmt.Errorf("row %d has %d fields, header has %d", i+2, len(rec), len(header)))
		}
		index[i] = rec[0]
	}
	frame := core.NewFrame(header[0], index)
	for j := 1; j < len(header); j++ {
		col := make([]domain.Value, len(body))
		for i, rec := range body {
			col[i] = textValue(rec[j])
		}
		if err := frame.AddColumn(header[j], col); err != nil {
			return nil, b.ioErr("parse "+name, err)
		}
	}
	return frame, nil
}

// textValue keeps cells as text for schema coercion; empty cells are null.
func textValue(cell string) domain.Value {
	if cell == "" {
		return domain.Null()
	}
	return domain.String(cell)
}

// inferScalar types the cells of a network record written without a
// kinds column, which carries no type information.
func inferScalar(cell string) domain.Value {
	switch {
	case cell == "":
		return domain.Null()
	case strings.EqualFold(cell, "true"):
		return domain.Bool(true)
	case strings.EqualFold(cell, "false"):
		return domain.Bool(false)
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return domain.Float(f)
	}
	return domain.String(cell)
}

// typedScalar parses cell as kind; cells missing from the kinds column are text.
func typedScalar(cell string, kind domain.Kind) (domain.Value, error) {
	if cell == "" {
		return domain.Null(), nil
	}
	switch kind {
	case domain.KindFloat:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.Float(f), nil
	case domain.KindBool:
		v, err := strconv.ParseBool(cell)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.Bool(v), nil
	default:
		return domain.String(cell), nil
	}
}

func parseKinds(cell string) (map[string]domain.Kind, error) {
	kinds := make(map[string]domain.Kind)
	for pair := range strings.SplitSeq(cell, ";") {
		if pair == "" {
			continue
		}
		name, kind, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("malformed kind entry %q", pair)
		}
		switch kind {
		case domain.KindFloat.String():
			kinds[name] = domain.KindFloat
		case domain.KindBool.String():
			kinds[name] = domain.KindBool
		default:
			return nil, fmt.Errorf("unknown kind %q for %s", kind, name)
		}
	}
	return kinds, nil
}

func formatKinds(attrs map[string]domain.Value, names []string) string {
	var pairs []string
	for _, n := range names {
		switch k := attrs[n].Kind(); k {
		case domain.KindFloat, domain.KindBool:
			pairs = append(pairs, n+":"+k.String())
		}
	}
	return strings.Join(pairs, ";")
}

// Attributes reads network.csv. Columns listed in its kinds column are typed
// accordingly and the rest stay text; older files without one are inferred.
// A missing file yields a nil map.
func (b *Backend) Attributes(ctx context.Context) (map[string]domain.Value, error) {
	records, err := b.read(ctx, networkFile)
	if err != nil || records == nil {
		return nil, err
	}
	out := make(map[string]domain.Value, len(records[0]))
	if len(records) < 2 {
		return out, nil
	}
	header, row := records[0], records[1]
	var kinds map[string]domain.Kind
	if j := slices.Index(header, kindsColumn); j >= 0 && j < len(row) {
		if kinds, err = parseKinds(row[j]); err != nil {
			return nil, b.ioErr("parse "+networkFile, err)
		}
	}
	for j, name := range header {
		if j >= len(row) || name == kindsColumn {
			continue
		}
		if kinds == nil {
			out[name] = inferScalar(row[j])
			continue
		}
		kind, ok := kinds[name]
		if !ok {
			kind = domain.KindString
		}
		v, err := typedScalar(row[j], kind)
		if err != nil {
			return nil, b.ioErr("parse "+networkFile, fmt.Errorf("attribute %s: %w", name, err))
		}
		out[name] = v
	}
	return out, nil
}

// Snapshots reads snapshots.csv, or returns nil when it is absent.
func (b *Backend) Snapshots(ctx context.Context) (*core.Frame, error) {
	return b.readFrame(ctx, snapshotsFile)
}

// Static reads <list>.csv with cells left as text; nil when absent.
func (b *Backend) Static(ctx context.Context, list string) (*core.Frame, error) {
	return b.readFrame(ctx, list)
}

// Series yields every <list>-<attr>.csv in key order; nested keys are skipped.
func (b *Backend) Series(ctx context.Context, list string) iter.Seq2[core.SeriesFrame, error] {
	return func(yield func(core.SeriesFrame, error) bool) {
		prefix := b.keyPrefix(list)
		infos, err := b.sink.List(ctx, prefix)
		if err != nil {
			yield(core.SeriesFrame{}, b.ioErr("list "+list, err))
			return
		}
		for _, info := range infos {
			if !strings.HasSuffix(info.Key, extension) {
				continue
			}
			attr := strings.TrimSuffix(strings.TrimPrefix(info.Key, prefix), extension)
			if attr == "" || strings.Contains(attr, "/") {
				continue
			}
			frame, err := b.readFrame(ctx, seriesName(list, attr))
			if err != nil {
				yield(core.SeriesFrame{}, err)
				return
			}
			if frame == nil {
				continue
			}
			if !yield(core.SeriesFrame{Attribute: attr, Frame: frame}, nil) {
				return
			}
		}
	}
}

// ---- writing ----

func (b *Backend) format(v domain.Value) string {
	return b.opts.Truncate(v).String()
}

func (b *Backend) write(ctx context.Context, name string, records [][]string) error {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var tw io.WriteCloser
	if b.enc != nil {
		tw = transform.NewWriter(&buf, b.enc.NewEncoder())
		w = tw
	}
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		return b.ioErr("encode "+name, err)
	}
	if tw != nil {
		if err := tw.Close(); err != nil {
			return b.ioErr("encode "+name, err)
		}
	}
	if _, err := b.sink.Put(ctx, b.key(name), &buf, blobcore.PutOptions{ContentType: contentType}); err != nil {
		return b.ioErr("write "+name, err)
	}
	return nil
}

func (b *Backend) frameRecords(f *core.Frame) [][]string {
	header := append([]string{f.IndexName}, f.Columns...)
	records := make([][]string, 0, f.Len()+1)
	records = append(records, header)
	for i, id := range f.Index {
		rec := make([]string, 0, len(header))
		rec = append(rec, id)
		for _, v := range f.Row(i) {
			rec = append(rec, b.format(v))
		}
		records = append(records, rec)
	}
	return records
}

// SaveAttributes writes network.csv as one header row and one value row,
// followed by the kinds column that types the non-text values on read.
func (b *Backend) SaveAttributes(ctx context.Context, attrs map[string]domain.Value) error {
	names := slices.Sorted(maps.Keys(attrs))
	names = slices.DeleteFunc(names, func(n string) bool { return n == kindsColumn })
	row := make([]string, len(names), len(names)+1)
	for i, n := range names {
		row[i] = b.format(attrs[n])
	}
	header := append(slices.Clone(names), kindsColumn)
	row = append(row, formatKinds(attrs, names))
	return b.write(ctx, networkFile, [][]string{header, row})
}

// SaveSnapshots writes snapshots.csv.
func (b *Backend) SaveSnapshots(ctx context.Context, snapshots *core.Frame) error {
	return b.write(ctx, snapshotsFile, b.frameRecords(snapshots))
}

// SaveStatic writes <list>.csv.
func (b *Backend) SaveStatic(ctx context.Context, list string, frame *core.Frame) error {
	return b.write(ctx, list, b.frameRecords(frame))
}

// SaveSeries writes <list>-<attr>.csv.
func (b *Backend) SaveSeries(ctx context.Context, list, attr string, frame *core.Frame) error {
	return b.write(ctx, seriesName(list, attr), b.frameRecords(frame))
}

func (b *Backend) remove(ctx context.Context, name string) (bool, error) {
	ok, err := b.sink.Delete(ctx, b.key(name))
	if err != nil {
		return false, b.ioErr("remove "+name, err)
	}
	return ok, nil
}

// RemoveStatic deletes <list>.csv together with every <list>-<attr>.csv.
func (b *Backend) RemoveStatic(ctx context.Context, list string) error {
	if ok, err := b.remove(ctx, list); err != nil {
		return err
	} else if ok {
		b.log.Debug("removed stale static table", zap.String("component", list))
	}
	infos, err := b.sink.List(ctx, b.keyPrefix(list))
	if err != nil {
		return b.ioErr("list "+list, err)
	}
	var removed []string
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, extension) {
			continue
		}
		if _, err := b.sink.Delete(ctx, info.Key); err != nil {
			return b.ioErr("remove "+info.Key, err)
		}
		removed = append(removed, info.Key)
	}
	if len(removed) > 0 {
		b.log.Info("removed stale series files",
			zap.String("component", list),
			zap.Strings("files", removed),
			zap.String("kind", string(domain.StaleDataWarning)))
	}
	return nil
}

// RemoveSeries deletes <list>-<attr>.csv if present.
func (b *Backend) RemoveSeries(ctx context.Context, list, attr string) error {
	ok, err := b.remove(ctx, seriesName(list, attr))
	if err != nil {
		return err
	}
	if ok {
		b.log.Debug("removed stale series table", zap.String("component", list), zap.String("attribute", attr))
	}
	return nil
}

// Finish is a no-op; every table is written as soon as it is saved.
func (b *Backend) Finish(context.Context) error { return nil }
