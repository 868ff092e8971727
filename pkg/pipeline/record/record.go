package record

import (
	"fmt"

	"github.com/palantir/compute-module-string-case/pkg/pipeline/schema"
)

// Record is one structured record flowing through a pipeline stage: an
// ordered set of named field values bound to a schema. Records are immutable
// once built; produce modified copies through a Builder.
type Record struct {
	schema schema.Schema
	values map[string]any
}

// Schema returns the record's schema.
func (r Record) Schema() schema.Schema {
	return r.schema
}

// Get returns the value for the named field and whether the field exists in
// the record's schema. Unset fields report (nil, true).
func (r Record) Get(name string) (any, bool) {
	if _, ok := r.schema.FieldNamed(name); !ok {
		return nil, false
	}
	return r.values[name], true
}

// Value returns the value for the named field, nil when absent.
func (r Record) Value(name string) any {
	v, _ := r.Get(name)
	return v
}

// Builder assembles a Record against a fixed schema. Set rejects field names
// that are not part of the schema.
type Builder struct {
	schema schema.Schema
	values map[string]any
}

// NewBuilder returns a builder for the given schema.
func NewBuilder(s schema.Schema) *Builder {
	return &Builder{
		schema: s,
		values: make(map[string]any, len(s.Fields)),
	}
}

// Set assigns the named field's value.
func (b *Builder) Set(name string, value any) error {
	if _, ok := b.schema.FieldNamed(name); !ok {
		return fmt.Errorf("field %q is not in the schema", name)
	}
	b.values[name] = value
	return nil
}

// Build returns the assembled record. The builder can be reused afterwards
// without aliasing the returned record's values.
func (b *Builder) Build() Record {
	values := make(map[string]any, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return Record{schema: b.schema, values: values}
}

// New builds a record directly from a schema and a value map. Values for
// names outside the schema are rejected.
func New(s schema.Schema, values map[string]any) (Record, error) {
	b := NewBuilder(s)
	for name, v := range values {
		if err := b.Set(name, v); err != nil {
			return Record{}, err
		}
	}
	return b.Build(), nil
}
