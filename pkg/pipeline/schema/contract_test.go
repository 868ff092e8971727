package schema_test

import (
	"testing"

	"github.com/palantir/compute-module-string-case/pkg/pipeline/schema"
)

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want schema.DatasetMode
	}{
		{name: "batch default", in: "", want: schema.DatasetModeBatch},
		{name: "batch explicit", in: "batch", want: schema.DatasetModeBatch},
		{name: "stream", in: "stream", want: schema.DatasetModeStream},
		{name: "streaming", in: "Streaming", want: schema.DatasetModeStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := schema.NormalizeMode(tt.in); got != tt.want {
				t.Fatalf("NormalizeMode(%q)=%q want=%q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFieldIsString(t *testing.T) {
	tests := []struct {
		name string
		in   schema.Field
		want bool
	}{
		{name: "canonical", in: schema.Field{Name: "a", Type: "STRING"}, want: true},
		{name: "lowercase type", in: schema.Field{Name: "a", Type: "string"}, want: true},
		{name: "nullable string", in: schema.Field{Name: "a", Type: "STRING", Nullable: true}, want: true},
		{name: "integer", in: schema.Field{Name: "a", Type: "INTEGER"}, want: false},
		{name: "empty", in: schema.Field{Name: "a"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.IsString(); got != tt.want {
				t.Fatalf("IsString(%#v)=%t want=%t", tt.in, got, tt.want)
			}
		})
	}
}

func TestFieldNamed(t *testing.T) {
	s := schema.Schema{Fields: []schema.Field{
		{Name: "name", Type: "STRING"},
		{Name: "age", Type: "INTEGER"},
	}}

	f, ok := s.FieldNamed("age")
	if !ok || f.Type != "INTEGER" {
		t.Fatalf("FieldNamed(age)=%#v ok=%t", f, ok)
	}
	if _, ok := s.FieldNamed("Age"); ok {
		t.Fatalf("field lookup must be case-sensitive")
	}
	if got := s.Names(); len(got) != 2 || got[0] != "name" || got[1] != "age" {
		t.Fatalf("Names()=%v", got)
	}
}
