// Package core defines the contract every storage backend implements to
// persist and reload a component store: tabular frames, the importer and
// exporter sessions, and the enumerated backend options.
package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"gridstore/pkg/domain"
)

// Driver identifies a concrete backend implementation.
type Driver string

const (
	// DriverCSV writes a directory of CSV tables onto a blob sink.
	DriverCSV Driver = "csv"
	// DriverSQLite writes the hierarchical node layout into a single SQLite file.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres writes the hierarchical node layout into a Postgres table.
	DriverPostgres Driver = "postgres"
	// DriverBadger writes the coordinate/array layout into a BadgerDB directory.
	DriverBadger Driver = "badger"
)

// Option names as used in configuration files and capability tables.
const (
	OptionEncoding              = "encoding"
	OptionCompressionLevel      = "compression_level"
	OptionFloatTruncationDigits = "float_truncation_digits"
	OptionIncludeStandardTypes  = "include_standard_types"
)

// Options is the enumerated per-backend option set. Backends ignore options
// they do not honour; the capability registry records which ones apply.
type Options struct {
	// Encoding names a text encoding (IANA or x/text name) for text backends.
	Encoding string `yaml:"encoding" json:"encoding,omitempty"`
	// CompressionLevel is the zstd level for payloads; 0 disables compression.
	CompressionLevel int `yaml:"compression_level" json:"compression_level" validate:"gte=0,lte=22"`
	// FloatTruncationDigits rounds floats to N decimals on write; nil keeps
	// full precision.
	FloatTruncationDigits *int `yaml:"float_truncation_digits" json:"float_truncation_digits,omitempty" validate:"omitempty,gte=0,lte=15"`
	// IncludeStandardTypes exports library-provided template entities.
	IncludeStandardTypes bool `yaml:"include_standard_types" json:"include_standard_types"`
}

// DefaultOptions returns the options used when a configuration omits them.
func DefaultOptions() Options {
	return Options{CompressionLevel: 4}
}

// Digits returns a truncation setting of n decimals.
func Digits(n int) *int { return &n }

// Truncate applies FloatTruncationDigits to v. Non-float values and an unset
// option leave v unchanged.
func (o Options) Truncate(v domain.Value) domain.Value {
	if o.FloatTruncationDigits == nil {
		return v
	}
	return v.Round(*o.FloatTruncationDigits)
}

// Frame is a labelled table: an index (entity ids or snapshot names) and
// ordered columns stored column-major.
type Frame struct {
	IndexName string
	Index     []string
	Columns   []string
	Cells     [][]domain.Value
}

// NewFrame creates a frame over index with no columns.
func NewFrame(indexName string, index []string) *Frame {
	return &Frame{IndexName: indexName, Index: slices.Clone(index)}
}

// Len reports the number of index entries.
func (f *Frame) Len() int { return len(f.Index) }

// AddColumn appends a column aligned with the index.
func (f *Frame) AddColumn(name string, values []domain.Value) error {
	if len(values) != len(f.Index) {
		return fmt.Errorf("frame column %s has %d values for %d index entries", name, len(values), len(f.Index))
	}
	if slices.Contains(f.Columns, name) {
		return fmt.Errorf("frame column %s already present", name)
	}
	f.Columns = append(f.Columns, name)
	f.Cells = append(f.Cells, slices.Clone(values))
	return nil
}

// Column returns the column called name.
func (f *Frame) Column(name string) ([]domain.Value, bool) {
	i := slices.Index(f.Columns, name)
	if i < 0 {
		return nil, false
	}
	return f.Cells[i], true
}

// Row returns the cells of index position i across all columns.
func (f *Frame) Row(i int) []domain.Value {
	out := make([]domain.Value, len(f.Columns))
	for j := range f.Columns {
		out[j] = f.Cells[j][i]
	}
	return out
}

// SeriesFrame pairs a varying attribute with its snapshot × entity frame.
type SeriesFrame struct {
	Attribute string
	Frame     *Frame
}

// SnapshotIndexName and WeightingsColumn describe the snapshots frame.
const (
	SnapshotIndexName = "name"
	WeightingsColumn  = "weightings"
)

// Importer reads a persisted network. Absent tables are reported as a nil
// frame with a nil error.
type Importer interface {
	Attributes(ctx context.Context) (map[string]domain.Value, error)
	Snapshots(ctx context.Context) (*Frame, error)
	Static(ctx context.Context, list string) (*Frame, error)
	// Series yields one frame per persisted varying attribute of list.
	// Iteration stops at the first error.
	Series(ctx context.Context, list string) iter.Seq2[SeriesFrame, error]
	Close() error
}

// Exporter writes a network. Read-only adapters implement the removals as
// no-ops.
type Exporter interface {
	SaveAttributes(ctx context.Context, attrs map[string]domain.Value) error
	SaveSnapshots(ctx context.Context, snapshots *Frame) error
	SaveStatic(ctx context.Context, list string, frame *Frame) error
	SaveSeries(ctx context.Context, list, attr string, frame *Frame) error
	RemoveStatic(ctx context.Context, list string) error
	RemoveSeries(ctx context.Context, list, attr string) error
	// Finish flushes buffered state; called once after every write succeeded.
	Finish(ctx context.Context) error
	Close() error
}

// VersionAware is implemented by importers whose layout depends on the
// format version found in the network attributes.
type VersionAware interface {
	SetFormatVersion(version string)
}

// ErrReadOnly is returned by exporters that cannot write to their target.
var ErrReadOnly = errors.New("backend is read-only")
