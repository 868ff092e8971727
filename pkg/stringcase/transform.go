// Package stringcase implements a field-level case-transformation pipeline
// stage: configured string fields are uppercased or lowercased, every other
// field passes through unchanged, and the record schema is never altered.
package stringcase

import (
	"fmt"
	"strings"

	"github.com/palantir/compute-module-string-case/pkg/pipeline/core"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/record"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/schema"
)

// Transformer applies the configured case transform to one record at a time.
// It is immutable after construction and safe for concurrent use across
// independent records.
type Transformer struct {
	upperFields []string
	lowerFields []string

	upperSet map[string]struct{}
	lowerSet map[string]struct{}
}

// New constructs a transformer from the raw stage configuration. The field
// lists are parsed once here, never per record.
func New(cfg Config) *Transformer {
	upper := ParseFieldList(cfg.UpperFields)
	lower := ParseFieldList(cfg.LowerFields)
	return &Transformer{
		upperFields: upper,
		lowerFields: lower,
		upperSet:    toSet(upper),
		lowerSet:    toSet(lower),
	}
}

// UpperFields returns the parsed uppercase field names, sorted.
func (t *Transformer) UpperFields() []string {
	return append([]string(nil), t.upperFields...)
}

// LowerFields returns the parsed lowercase field names, sorted.
func (t *Transformer) LowerFields() []string {
	return append([]string(nil), t.lowerFields...)
}

// ValidateSchema checks every configured field against a statically-known
// input schema: the field must exist and must be of type STRING after
// unwrapping nullability. A nil schema means the schema is dynamic or
// unknown until runtime; validation is skipped cleanly and violations
// surface per record as a *TransformError instead.
func (t *Transformer) ValidateSchema(s *schema.Schema) error {
	if s == nil {
		return nil
	}
	for _, name := range t.upperFields {
		if err := validateFieldIsString(*s, name); err != nil {
			return err
		}
	}
	for _, name := range t.lowerFields {
		if err := validateFieldIsString(*s, name); err != nil {
			return err
		}
	}
	return nil
}

func validateFieldIsString(s schema.Schema, name string) error {
	f, ok := s.FieldNamed(name)
	if !ok {
		return &ConfigError{Field: name, Reason: "does not exist in the input schema"}
	}
	if !f.IsString() {
		return &ConfigError{
			Field:  name,
			Reason: fmt.Sprintf("is of illegal type %s, must be of type %s", f.Type, schema.TypeString),
		}
	}
	return nil
}

// Transform produces exactly one output record with the same schema as the
// input. Every configured field must be present in the record's schema;
// remaining fields are visited in schema-declared order, and a field named
// in both sets is uppercased (the uppercase set is checked first).
func (t *Transformer) Transform(rec record.Record) (record.Record, error) {
	if err := t.requireConfiguredFields(rec.Schema()); err != nil {
		return record.Record{}, err
	}
	b := record.NewBuilder(rec.Schema())
	for _, f := range rec.Schema().Fields {
		out, err := t.fieldValue(f.Name, rec.Value(f.Name))
		if err != nil {
			return record.Record{}, err
		}
		if err := b.Set(f.Name, out); err != nil {
			return record.Record{}, err
		}
	}
	return b.Build(), nil
}

// TransformTo transforms one record and hands the result to the emitter.
func (t *Transformer) TransformTo(rec record.Record, em core.Emitter[record.Record]) error {
	out, err := t.Transform(rec)
	if err != nil {
		return err
	}
	return em.Emit(out)
}

// TransformMap is the schemaless form used on dynamic-schema paths (stream
// records, inline compute-module jobs). Every configured field must be
// present in the map; unconfigured keys pass through untouched.
func (t *Transformer) TransformMap(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	for _, name := range t.upperFields {
		v, ok := in[name]
		if !ok {
			return nil, &TransformError{Field: name, Reason: "does not exist in the record"}
		}
		s, err := textValue(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = strings.ToUpper(s)
	}
	for _, name := range t.lowerFields {
		if _, upper := t.upperSet[name]; upper {
			// Uppercase wins when a field is configured in both sets.
			continue
		}
		v, ok := in[name]
		if !ok {
			return nil, &TransformError{Field: name, Reason: "does not exist in the record"}
		}
		s, err := textValue(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = strings.ToLower(s)
	}
	return out, nil
}

// requireConfiguredFields fails the record when a configured field is not
// part of its schema. On dynamic-schema paths this is the only place the
// miss can surface, since static validation was skipped.
func (t *Transformer) requireConfiguredFields(s schema.Schema) error {
	for _, name := range t.upperFields {
		if _, ok := s.FieldNamed(name); !ok {
			return &TransformError{Field: name, Reason: "does not exist in the record"}
		}
	}
	for _, name := range t.lowerFields {
		if _, ok := s.FieldNamed(name); !ok {
			return &TransformError{Field: name, Reason: "does not exist in the record"}
		}
	}
	return nil
}

func (t *Transformer) fieldValue(name string, v any) (any, error) {
	if _, ok := t.upperSet[name]; ok {
		s, err := textValue(name, v)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	}
	if _, ok := t.lowerSet[name]; ok {
		s, err := textValue(name, v)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	}
	return v, nil
}

// textValue converts a configured field's value to its text form. A nil
// value and values that are not text are per-record failures rather than
// silent coercions.
func textValue(field string, v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", &TransformError{Field: field, Reason: "value is null"}
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", &TransformError{Field: field, Reason: fmt.Sprintf("value of type %T is not text", v)}
	}
}
