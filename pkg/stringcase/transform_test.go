package stringcase_test

import (
	"errors"
	"testing"

	"github.com/palantir/compute-module-string-case/pkg/pipeline/core"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/record"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/schema"
	"github.com/palantir/compute-module-string-case/pkg/stringcase"
)

func testSchema() schema.Schema {
	return schema.Schema{Fields: []schema.Field{
		{Name: "name", Type: "STRING"},
		{Name: "City", Type: "STRING", Nullable: true},
		{Name: "age", Type: "INTEGER"},
	}}
}

func mustRecord(t *testing.T, s schema.Schema, values map[string]any) record.Record {
	t.Helper()
	rec, err := record.New(s, values)
	if err != nil {
		t.Fatalf("build record: %v", err)
	}
	return rec
}

func TestTransformUppercasesConfiguredField(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "name"})
	in := mustRecord(t, testSchema(), map[string]any{"name": "alice", "City": "Paris", "age": 30})

	out, err := tr.Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got := out.Value("name"); got != "ALICE" {
		t.Fatalf("name=%v want=ALICE", got)
	}
	if got := out.Value("City"); got != "Paris" {
		t.Fatalf("unconfigured field changed: City=%v", got)
	}
	if got := out.Value("age"); got != 30 {
		t.Fatalf("unconfigured field changed: age=%v", got)
	}
}

func TestTransformLowercasesConfiguredField(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{LowerFields: "City"})
	in := mustRecord(t, testSchema(), map[string]any{"name": "alice", "City": "PARIS", "age": 1})

	out, err := tr.Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got := out.Value("City"); got != "paris" {
		t.Fatalf("City=%v want=paris", got)
	}
}

func TestTransformUppercaseWinsOnOverlap(t *testing.T) {
	t.Parallel()

	s := schema.Schema{Fields: []schema.Field{{Name: "x", Type: "STRING"}}}
	tr := stringcase.New(stringcase.Config{UpperFields: "x", LowerFields: "x"})
	in := mustRecord(t, s, map[string]any{"x": "MiXeD"})

	out, err := tr.Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got := out.Value("x"); got != "MIXED" {
		t.Fatalf("x=%v want=MIXED", got)
	}
}

func TestTransformKeepsSchemaAndOrder(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "name"})
	in := mustRecord(t, testSchema(), map[string]any{"name": "alice"})

	out, err := tr.Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	inNames := in.Schema().Names()
	outNames := out.Schema().Names()
	if len(inNames) != len(outNames) {
		t.Fatalf("schema size changed: %v vs %v", inNames, outNames)
	}
	for i := range inNames {
		if inNames[i] != outNames[i] {
			t.Fatalf("schema order changed: %v vs %v", inNames, outNames)
		}
	}
}

func TestTransformPassThroughWhenUnconfigured(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{})
	in := mustRecord(t, testSchema(), map[string]any{"name": "alice", "City": nil, "age": 30})

	out, err := tr.Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	for _, name := range in.Schema().Names() {
		if out.Value(name) != in.Value(name) {
			t.Fatalf("field %q changed: %v vs %v", name, out.Value(name), in.Value(name))
		}
	}
}

func TestTransformNilValuePassesThroughUnconfigured(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "name"})
	in := mustRecord(t, testSchema(), map[string]any{"name": "alice", "City": nil})

	out, err := tr.Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if v, ok := out.Get("City"); !ok || v != nil {
		t.Fatalf("nil value must pass through: v=%v ok=%t", v, ok)
	}
}

func TestTransformFailsOnNilConfiguredValue(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{LowerFields: "City"})
	in := mustRecord(t, testSchema(), map[string]any{"City": nil})

	_, err := tr.Transform(in)
	var terr *stringcase.TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v want *TransformError", err)
	}
	if terr.Field != "City" {
		t.Fatalf("Field=%q want=City", terr.Field)
	}
}

func TestTransformFailsOnConfiguredFieldMissingFromSchema(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "name"})
	s := schema.Schema{Fields: []schema.Field{{Name: "city", Type: "STRING"}}}
	in := mustRecord(t, s, map[string]any{"city": "paris"})

	_, err := tr.Transform(in)
	var terr *stringcase.TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v want *TransformError", err)
	}
	if terr.Field != "name" {
		t.Fatalf("Field=%q want=name", terr.Field)
	}
}

func TestTransformFailsOnNonTextValue(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "age"})
	in := mustRecord(t, testSchema(), map[string]any{"age": 30})

	_, err := tr.Transform(in)
	var terr *stringcase.TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v want *TransformError", err)
	}
}

func TestTransformUnicodeCaseMapping(t *testing.T) {
	t.Parallel()

	s := schema.Schema{Fields: []schema.Field{{Name: "city", Type: "STRING"}}}
	tr := stringcase.New(stringcase.Config{UpperFields: "city"})
	in := mustRecord(t, s, map[string]any{"city": "münchen"})

	out, err := tr.Transform(in)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got := out.Value("city"); got != "MÜNCHEN" {
		t.Fatalf("city=%v want=MÜNCHEN", got)
	}
}

func TestTransformToEmitsExactlyOne(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "name"})
	in := mustRecord(t, testSchema(), map[string]any{"name": "alice"})

	var emitted []record.Record
	em := core.EmitFunc[record.Record](func(out record.Record) error {
		emitted = append(emitted, out)
		return nil
	})
	if err := tr.TransformTo(in, em); err != nil {
		t.Fatalf("TransformTo: %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("emitted=%d want=1", len(emitted))
	}
	if got := emitted[0].Value("name"); got != "ALICE" {
		t.Fatalf("name=%v want=ALICE", got)
	}
}

func TestTransformToDoesNotEmitOnError(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "name"})
	in := mustRecord(t, testSchema(), map[string]any{"name": nil})

	calls := 0
	em := core.EmitFunc[record.Record](func(record.Record) error {
		calls++
		return nil
	})
	if err := tr.TransformTo(in, em); err == nil {
		t.Fatalf("expected error for nil configured value")
	}
	if calls != 0 {
		t.Fatalf("emitter called %d times on failure", calls)
	}
}

func TestValidateSchema(t *testing.T) {
	t.Parallel()

	s := testSchema()
	tests := []struct {
		name    string
		cfg     stringcase.Config
		in      *schema.Schema
		wantErr bool
		field   string
	}{
		{name: "nil schema skips", cfg: stringcase.Config{UpperFields: "missing"}, in: nil},
		{name: "valid string field", cfg: stringcase.Config{UpperFields: "name"}, in: &s},
		{name: "nullable string passes", cfg: stringcase.Config{LowerFields: "City"}, in: &s},
		{name: "missing field", cfg: stringcase.Config{UpperFields: "missing"}, in: &s, wantErr: true, field: "missing"},
		{name: "integer field", cfg: stringcase.Config{LowerFields: "age"}, in: &s, wantErr: true, field: "age"},
		{name: "empty config", cfg: stringcase.Config{}, in: &s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := stringcase.New(tt.cfg).ValidateSchema(tt.in)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidateSchema: %v", err)
				}
				return
			}
			var cerr *stringcase.ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("err=%v want *ConfigError", err)
			}
			if cerr.Field != tt.field {
				t.Fatalf("Field=%q want=%q", cerr.Field, tt.field)
			}
		})
	}
}

func TestTransformMap(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "name", LowerFields: "city"})

	out, err := tr.TransformMap(map[string]any{"name": "alice", "city": "PARIS", "age": 30})
	if err != nil {
		t.Fatalf("TransformMap: %v", err)
	}
	if out["name"] != "ALICE" || out["city"] != "paris" || out["age"] != 30 {
		t.Fatalf("unexpected output: %#v", out)
	}
}

func TestTransformMapMissingConfiguredField(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "name"})

	_, err := tr.TransformMap(map[string]any{"city": "PARIS"})
	var terr *stringcase.TransformError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v want *TransformError", err)
	}
	if terr.Field != "name" {
		t.Fatalf("Field=%q want=name", terr.Field)
	}
}

func TestTransformMapOverlapUppercaseWins(t *testing.T) {
	t.Parallel()

	tr := stringcase.New(stringcase.Config{UpperFields: "x", LowerFields: "x"})

	out, err := tr.TransformMap(map[string]any{"x": "MiXeD"})
	if err != nil {
		t.Fatalf("TransformMap: %v", err)
	}
	if out["x"] != "MIXED" {
		t.Fatalf("x=%v want=MIXED", out["x"])
	}
}
