// Package results assembles the per-checkpoint surprisal table as an Arrow
// record and writes it as CSV.
package results

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const (
	ColExample       = "Example"
	ColSource        = "Source File"
	ColTarget        = "Target Index"
	ColWithMarker    = "Sentences with Marker"
	ColWithoutMarker = "Sentences without Marker"
)

func MarkerColumn(ckpt int) string {
	return "Marker Token Surprisals (ckpt " + strconv.Itoa(ckpt) + ")"
}

func NoMarkerColumn(ckpt int) string {
	return "No Marker Token Surprisals (ckpt " + strconv.Itoa(ckpt) + ")"
}

// Row holds the fixed columns of one sampled example.
type Row struct {
	Source        string
	Target        int
	WithMarker    string
	WithoutMarker string
}

type checkpointColumns struct {
	ckpt     int
	marker   []float64
	noMarker []float64
}

// Table keeps rows in sample order; checkpoint columns are appended in
// ascending checkpoint order and never reorder rows.
type Table struct {
	mem  memory.Allocator
	rows []Row
	cols []checkpointColumns
	meta map[string]string
}

func NewTable(rows []Row) *Table {
	return &Table{mem: memory.NewGoAllocator(), rows: rows, meta: map[string]string{}}
}

func (t *Table) Len() int { return len(t.rows) }

// Checkpoints returns the checkpoints added so far, in column order.
func (t *Table) Checkpoints() []int {
	out := make([]int, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.ckpt
	}
	return out
}

// SetMeta attaches a key/value pair to the schema metadata.
func (t *Table) SetMeta(key, value string) {
	t.meta[key] = value
}

// AddCheckpoint appends the two surprisal columns of ckpt. Each slice must
// have one value per row and ckpt must exceed every checkpoint already added.
func (t *Table) AddCheckpoint(ckpt int, marker, noMarker []float64) error {
	if len(marker) != len(t.rows) || len(noMarker) != len(t.rows) {
		return fmt.Errorf("checkpoint %d: got %d/%d values for %d rows", ckpt, len(marker), len(noMarker), len(t.rows))
	}
	if n := len(t.cols); n > 0 && ckpt <= t.cols[n-1].ckpt {
		return fmt.Errorf("checkpoint %d added after %d", ckpt, t.cols[n-1].ckpt)
	}
	t.cols = append(t.cols, checkpointColumns{ckpt: ckpt, marker: marker, noMarker: noMarker})
	return nil
}

// Column returns the marker and no-marker values recorded for ckpt.
func (t *Table) Column(ckpt int) (marker, noMarker []float64, ok bool) {
	for _, c := range t.cols {
		if c.ckpt == ckpt {
			return c.marker, c.noMarker, true
		}
	}
	return nil, nil, false
}

func (t *Table) Schema() *arrow.Schema {
	fields := []arrow.Field{
		{Name: ColExample, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColSource, Type: arrow.BinaryTypes.String},
		{Name: ColTarget, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColWithMarker, Type: arrow.BinaryTypes.String},
		{Name: ColWithoutMarker, Type: arrow.BinaryTypes.String},
	}
	for _, c := range t.cols {
		fields = append(fields,
			arrow.Field{Name: MarkerColumn(c.ckpt), Type: arrow.PrimitiveTypes.Float64},
			arrow.Field{Name: NoMarkerColumn(c.ckpt), Type: arrow.PrimitiveTypes.Float64},
		)
	}

	keys := make([]string, 0, len(t.meta))
	for k := range t.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = t.meta[k]
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema(fields, &md)
}

// Record builds the whole table as a single Arrow record. The caller
// releases it.
func (t *Table) Record() arrow.Record {
	schema := t.Schema()
	n := len(t.rows)

	example := array.NewInt64Builder(t.mem)
	source := array.NewStringBuilder(t.mem)
	target := array.NewInt64Builder(t.mem)
	with := array.NewStringBuilder(t.mem)
	without := array.NewStringBuilder(t.mem)
	defer example.Release()
	defer source.Release()
	defer target.Release()
	defer with.Release()
	defer without.Release()

	for i, r := range t.rows {
		example.Append(int64(i))
		source.Append(r.Source)
		target.Append(int64(r.Target))
		with.Append(r.WithMarker)
		without.Append(r.WithoutMarker)
	}

	arrs := []arrow.Array{example.NewArray(), source.NewArray(), target.NewArray(), with.NewArray(), without.NewArray()}
	fb := array.NewFloat64Builder(t.mem)
	defer fb.Release()
	for _, c := range t.cols {
		fb.AppendValues(c.marker, nil)
		arrs = append(arrs, fb.NewArray())
		fb.AppendValues(c.noMarker, nil)
		arrs = append(arrs, fb.NewArray())
	}

	rec := array.NewRecord(schema, arrs, int64(n))
	for _, a := range arrs {
		a.Release()
	}
	return rec
}

// WriteCSV writes the table with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	rec := t.Record()
	defer rec.Release()
	return WriteRecordCSV(w, rec)
}

// WriteFile writes the CSV to path atomically, creating parent directories.
// A failed write leaves no file at path.
func (t *Table) WriteFile(path string) error {
	rec := t.Record()
	defer rec.Release()
	return WriteRecordFile(path, rec)
}

// WriteRecordCSV writes any record, such as one received over Flight, as CSV
// with a header row.
func WriteRecordCSV(w io.Writer, rec arrow.Record) error {
	cw := csv.NewWriter(w, rec.Schema(), csv.WithHeader(true))
	if err := cw.Write(rec); err != nil {
		return err
	}
	if err := cw.Flush(); err != nil {
		return err
	}
	return cw.Error()
}

// WriteRecordFile is WriteRecordCSV to path through a temporary file in the
// same directory.
func WriteRecordFile(path string, rec arrow.Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteRecordCSV(tmp, rec); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
