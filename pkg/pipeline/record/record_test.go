package record_test

import (
	"testing"

	"github.com/palantir/compute-module-string-case/pkg/pipeline/record"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/schema"
)

func personSchema() schema.Schema {
	return schema.Schema{Fields: []schema.Field{
		{Name: "name", Type: "STRING"},
		{Name: "age", Type: "INTEGER"},
	}}
}

func TestBuilderRejectsUnknownField(t *testing.T) {
	b := record.NewBuilder(personSchema())
	if err := b.Set("name", "alice"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := b.Set("city", "paris"); err == nil {
		t.Fatalf("expected error for field outside the schema")
	}
}

func TestBuildIsACopy(t *testing.T) {
	b := record.NewBuilder(personSchema())
	if err := b.Set("name", "alice"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	rec := b.Build()

	// Mutating the builder afterwards must not leak into the built record.
	if err := b.Set("name", "bob"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if got := rec.Value("name"); got != "alice" {
		t.Fatalf("record value changed after build: %v", got)
	}
}

func TestGetDistinguishesUnsetFromUnknown(t *testing.T) {
	rec := record.NewBuilder(personSchema()).Build()

	if v, ok := rec.Get("age"); !ok || v != nil {
		t.Fatalf("unset schema field: v=%v ok=%t", v, ok)
	}
	if _, ok := rec.Get("city"); ok {
		t.Fatalf("field outside the schema must report ok=false")
	}
}

func TestNewFromValueMap(t *testing.T) {
	rec, err := record.New(personSchema(), map[string]any{"name": "alice", "age": 30})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rec.Value("name") != "alice" || rec.Value("age") != 30 {
		t.Fatalf("unexpected values: %v %v", rec.Value("name"), rec.Value("age"))
	}

	if _, err := record.New(personSchema(), map[string]any{"city": "paris"}); err == nil {
		t.Fatalf("expected error for value outside the schema")
	}
}
