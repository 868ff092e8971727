package schema

import (
	"strings"
)

// DatasetMode captures behavior-relevant output semantics.
type DatasetMode string

const (
	DatasetModeBatch  DatasetMode = "batch"
	DatasetModeStream DatasetMode = "stream"
)

// TypeString is the canonical string field type name.
const TypeString = "STRING"

// Field captures the minimal behavior-relevant schema fields.
type Field struct {
	Name     string
	Type     string
	Nullable bool
}

// IsString reports whether the field's declared type, ignoring nullability,
// is the string type.
func (f Field) IsString() bool {
	return strings.EqualFold(strings.TrimSpace(f.Type), TypeString)
}

// Schema is an ordered name/type contract for record fields. Field names are
// case-sensitive and unique within a schema.
type Schema struct {
	Fields []Field
}

// FieldNamed returns the field with the given name.
func (s Schema) FieldNamed(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns the field names in schema-declared order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// DatasetContract is the logical schema contract used by pipeline execution.
type DatasetContract struct {
	Mode   DatasetMode
	Schema Schema
}

func NormalizeMode(raw string) DatasetMode {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "stream", "streaming":
		return DatasetModeStream
	default:
		return DatasetModeBatch
	}
}
