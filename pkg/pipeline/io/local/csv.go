package local

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/palantir/compute-module-string-case/pkg/pipeline/record"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/schema"
)

// SchemaFromHeader infers a schema from a CSV header row: every column is a
// nullable STRING field. Column names keep their case; surrounding
// whitespace is trimmed.
func SchemaFromHeader(header []string) (schema.Schema, error) {
	fields := make([]schema.Field, 0, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, col := range header {
		name := strings.TrimSpace(col)
		if name == "" {
			return schema.Schema{}, fmt.Errorf("column %d has an empty name", i+1)
		}
		if _, dup := seen[name]; dup {
			return schema.Schema{}, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
		fields = append(fields, schema.Field{Name: name, Type: schema.TypeString, Nullable: true})
	}
	if len(fields) == 0 {
		return schema.Schema{}, fmt.Errorf("header has no columns")
	}
	return schema.Schema{Fields: fields}, nil
}

// ReadRecords reads a CSV with a header row and returns the inferred schema
// plus one record per data row. Rows shorter than the header leave trailing
// fields unset (nil); longer rows are an error.
func ReadRecords(r io.Reader) (schema.Schema, []record.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return schema.Schema{}, nil, fmt.Errorf("read header: %w", err)
	}
	s, err := SchemaFromHeader(header)
	if err != nil {
		return schema.Schema{}, nil, err
	}

	var records []record.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return schema.Schema{}, nil, fmt.Errorf("read row: %w", err)
		}
		if len(row) > len(s.Fields) {
			return schema.Schema{}, nil, fmt.Errorf("row has %d columns, header has %d", len(row), len(s.Fields))
		}

		b := record.NewBuilder(s)
		for i, f := range s.Fields {
			if i >= len(row) {
				break
			}
			if err := b.Set(f.Name, row[i]); err != nil {
				return schema.Schema{}, nil, err
			}
		}
		records = append(records, b.Build())
	}
	return s, records, nil
}

// WriteRecords writes records as CSV with the schema's field order as the
// header. Unset and nil values write as empty cells.
func WriteRecords(w io.Writer, s schema.Schema, records []record.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.Names()); err != nil {
		return err
	}
	for _, rec := range records {
		row := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			row[i] = cellValue(rec.Value(f.Name))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// cellValue is output formatting; the per-field case-transform rules do not
// apply here.
func cellValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
