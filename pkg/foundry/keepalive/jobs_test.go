package keepalive_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/palantir/compute-module-string-case/pkg/foundry/keepalive"
	"github.com/palantir/compute-module-string-case/pkg/stringcase"
)

func TestTransformHandler(t *testing.T) {
	handler := keepalive.NewTransformHandler(stringcase.New(stringcase.Config{
		UpperFields: "name",
		LowerFields: "city",
	}))

	job := keepalive.Job{
		JobID:     "job-1",
		QueryType: keepalive.QueryTypeTransform,
		Query:     json.RawMessage(`{"records":[{"name":"alice","city":"PARIS","age":30}]}`),
	}
	out, err := handler(context.Background(), job)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var result struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("records=%d want=1", len(result.Records))
	}
	rec := result.Records[0]
	if rec["name"] != "ALICE" || rec["city"] != "paris" {
		t.Fatalf("unexpected record: %#v", rec)
	}
	// JSON numbers decode as float64; the value itself must be untouched.
	if rec["age"] != float64(30) {
		t.Fatalf("age=%v", rec["age"])
	}
}

func TestTransformHandlerRejectsUnknownQueryType(t *testing.T) {
	handler := keepalive.NewTransformHandler(stringcase.New(stringcase.Config{}))

	_, err := handler(context.Background(), keepalive.Job{
		JobID:     "job-2",
		QueryType: "somethingElseV1",
		Query:     json.RawMessage(`{}`),
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported query type") {
		t.Fatalf("err=%v", err)
	}
}

func TestTransformHandlerFailsTheJobOnBadRecord(t *testing.T) {
	handler := keepalive.NewTransformHandler(stringcase.New(stringcase.Config{UpperFields: "name"}))

	_, err := handler(context.Background(), keepalive.Job{
		JobID:     "job-3",
		QueryType: keepalive.QueryTypeTransform,
		Query:     json.RawMessage(`{"records":[{"city":"PARIS"}]}`),
	})
	if err == nil {
		t.Fatalf("expected error for record missing a configured field")
	}
}
