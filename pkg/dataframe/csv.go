package dataframe

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// LazyRead dispatches on a SourceDescriptor. Only scheme "mem" (an
// in-process named frame registry) and scheme "file" with format "csv" are
// implemented; every other scheme in spec.md §6.1 (Parquet, Excel, Delta,
// Iceberg, cloud-blob prefixes) is an external collaborator this engine
// does not implement (§1 Non-goals) and returns an error naming the scheme.
func LazyRead(desc SourceDescriptor, registry *MemRegistry) (*LazyFrame, error) {
	switch desc.Scheme {
	case "mem":
		f, ok := registry.Get(desc.Path)
		if !ok {
			return nil, fmt.Errorf("dataframe: no in-memory frame registered at %q", desc.Path)
		}
		return Lit(f), nil
	case "file":
		if desc.Format != "csv" && desc.Format != "" {
			return nil, fmt.Errorf("dataframe: unsupported file format %q (only csv is wired)", desc.Format)
		}
		f, err := readCSV(desc.Path)
		if err != nil {
			return nil, err
		}
		return Lit(f), nil
	default:
		return nil, fmt.Errorf("dataframe: unsupported source scheme %q", desc.Scheme)
	}
}

// Write dispatches a SinkDescriptor. The adapter always collects before
// writing (§10 Open Question decision: standardized on collect-then-write
// since the in-memory implementation has no native lazy sink).
func Write(lf *LazyFrame, desc SinkDescriptor, registry *MemRegistry) error {
	f, err := Collect(lf, false)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	switch desc.Scheme {
	case "mem":
		registry.Put(desc.Path, f)
		return nil
	case "file":
		if desc.Format != "csv" && desc.Format != "" {
			return fmt.Errorf("dataframe: unsupported file format %q (only csv is wired)", desc.Format)
		}
		return writeCSV(desc.Path, f, desc.Mode)
	default:
		return fmt.Errorf("dataframe: unsupported sink scheme %q", desc.Scheme)
	}
}

func readCSV(path string) (*Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataframe: open %s: %w", path, err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataframe: parse csv %s: %w", path, err)
	}
	if len(records) == 0 {
		return NewFrame(nil, nil), nil
	}

	header := records[0]
	schema := make(Schema, len(header))
	for i, h := range header {
		schema[i] = ColumnDef{Name: h, DType: DTypeString}
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = inferScalar(rec[i])
			}
		}
		rows = append(rows, row)
	}

	return NewFrame(inferSchema(schema, rows), rows), nil
}

func writeCSV(path string, f *Frame, mode string) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if mode == "append" {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	fh, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("dataframe: open %s: %w", path, err)
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	defer w.Flush()

	writeHeader := mode != "append"
	if writeHeader {
		if err := w.Write(f.Schema.Names()); err != nil {
			return err
		}
	}

	for _, row := range f.Rows {
		record := make([]string, len(f.Schema))
		for i, col := range f.Schema {
			record[i] = fmt.Sprint(row[col.Name])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	return nil
}

// inferScalar does a best-effort string->scalar conversion for CSV cells.
func inferScalar(s string) any {
	if s == "" {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		return fl
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// inferSchema upgrades a string-typed header schema to the dtype observed
// across rows, so downstream nodes see int64/float64/bool instead of string
// for every column.
func inferSchema(base Schema, rows []Row) Schema {
	out := make(Schema, len(base))
	copy(out, base)
	for i, col := range out {
		dtype := DType("")
		for _, row := range rows {
			v, ok := row[col.Name]
			if !ok {
				continue
			}
			var t DType
			switch v.(type) {
			case int64:
				t = DTypeInt64
			case float64:
				t = DTypeFloat64
			case bool:
				t = DTypeBool
			default:
				t = DTypeString
			}
			if dtype == "" {
				dtype = t
			} else if dtype != t {
				dtype = DTypeString
				break
			}
		}
		if dtype == "" {
			dtype = DTypeString
		}
		out[i].DType = dtype
	}
	return out
}

// MemRegistry is a process-local table of named in-memory frames, used by
// the "mem" source/sink scheme for manual_input nodes and for tests that
// never touch the filesystem.
type MemRegistry struct {
	frames map[string]*Frame
}

// NewMemRegistry returns an empty registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{frames: make(map[string]*Frame)}
}

// Put stores a frame under name, overwriting any existing entry.
func (r *MemRegistry) Put(name string, f *Frame) {
	r.frames[name] = f
}

// Get returns the frame stored under name, if any.
func (r *MemRegistry) Get(name string) (*Frame, bool) {
	f, ok := r.frames[name]
	return f, ok
}
