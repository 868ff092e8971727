package app

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/palantir/compute-module-string-case/internal/mockfoundry"
	"github.com/palantir/compute-module-string-case/pkg/foundry"
	"github.com/palantir/compute-module-string-case/pkg/stringcase"
)

const (
	testInputRID  = "ri.foundry.main.dataset.input-1111"
	testOutputRID = "ri.foundry.main.dataset.output-2222"
	testStreamRID = "ri.foundry.main.dataset.stream-3333"
	testToken     = "dummy-token"
)

func testEnv(baseURL string) foundry.Env {
	return foundry.Env{
		Services: foundry.Services{
			APIGateway:  baseURL + "/api",
			StreamProxy: baseURL + "/stream-proxy/api",
		},
		Token: testToken,
		Aliases: map[string]foundry.DatasetRef{
			"input":         {RID: testInputRID, Branch: "master"},
			"output":        {RID: testOutputRID, Branch: "master"},
			"output-stream": {RID: testStreamRID, Branch: "master"},
		},
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func testOptions() Options {
	return Options{
		Workers:        4,
		MaxRetries:     2,
		RequestTimeout: 5 * time.Second,
		FailFast:       true,
	}
}

func TestRunFoundryDatasetOutput(t *testing.T) {
	inputDir := t.TempDir()
	uploadDir := t.TempDir()
	writeTestFile(t, filepath.Join(inputDir, testInputRID+".csv"),
		"name,City,age\nalice,PARIS,30\nbob,London,41\n")
	writeTestFile(t, filepath.Join(inputDir, testInputRID+".schema.json"), `{
		"schema": {
			"fieldSchemaList": [
				{"name": "name", "type": "STRING", "nullable": false},
				{"name": "City", "type": "STRING", "nullable": true},
				{"name": "age", "type": "INTEGER", "nullable": false}
			]
		}
	}`)

	mock := mockfoundry.New(inputDir, uploadDir)
	mock.RequireBearerToken(testToken)
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	cfg := stringcase.Config{UpperFields: "name", LowerFields: "City"}
	err := RunFoundry(context.Background(), testEnv(srv.URL), "input", "output", "", "dataset", cfg, testOptions())
	if err != nil {
		t.Fatalf("RunFoundry: %v", err)
	}

	uploads := mock.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("got %d uploads, want 1", len(uploads))
	}
	up := uploads[0]
	if up.DatasetRID != testOutputRID {
		t.Fatalf("uploaded to dataset %q, want %q", up.DatasetRID, testOutputRID)
	}
	if up.FilePath != "transformed.csv" {
		t.Fatalf("uploaded file path %q, want transformed.csv", up.FilePath)
	}

	want := "name,City,age\nALICE,paris,30\nBOB,london,41\n"
	if got := string(up.Bytes); got != want {
		t.Fatalf("uploaded CSV mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}

	// The upload must land inside a committed transaction.
	committed := false
	for _, c := range mock.Calls() {
		if c.Method == "POST" && strings.HasSuffix(c.Path, "/commit") {
			committed = true
		}
	}
	if !committed {
		t.Fatalf("transaction was never committed; calls: %v", mock.Calls())
	}
}

func TestRunFoundryStreamOutput(t *testing.T) {
	inputDir := t.TempDir()
	uploadDir := t.TempDir()
	writeTestFile(t, filepath.Join(inputDir, testInputRID+".csv"),
		"name,City\nalice,PARIS\nbob,London\n")

	mock := mockfoundry.New(inputDir, uploadDir)
	mock.RequireBearerToken(testToken)
	mock.EnableStream(testStreamRID)
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	cfg := stringcase.Config{UpperFields: "name"}
	err := RunFoundry(context.Background(), testEnv(srv.URL), "input", "output-stream", "", "auto", cfg, testOptions())
	if err != nil {
		t.Fatalf("RunFoundry: %v", err)
	}

	records := mock.StreamRecords(testStreamRID)
	if len(records) != 2 {
		t.Fatalf("got %d stream records, want 2", len(records))
	}
	byName := make(map[string]map[string]any, len(records))
	for _, rec := range records {
		name, _ := rec["name"].(string)
		byName[name] = rec
	}
	if _, ok := byName["ALICE"]; !ok {
		t.Fatalf("missing uppercased record for alice: %v", records)
	}
	if got := byName["ALICE"]["City"]; got != "PARIS" {
		t.Fatalf("unconfigured field changed: got %v, want PARIS", got)
	}
	if _, ok := byName["BOB"]; !ok {
		t.Fatalf("missing uppercased record for bob: %v", records)
	}

	if uploads := mock.Uploads(); len(uploads) != 0 {
		t.Fatalf("stream output must not upload dataset files, got %d uploads", len(uploads))
	}
}

func TestRunFoundryStaticValidationRejectsNonStringField(t *testing.T) {
	inputDir := t.TempDir()
	uploadDir := t.TempDir()
	writeTestFile(t, filepath.Join(inputDir, testInputRID+".csv"),
		"name,age\nalice,30\n")
	writeTestFile(t, filepath.Join(inputDir, testInputRID+".schema.json"), `{
		"schema": {
			"fieldSchemaList": [
				{"name": "name", "type": "STRING", "nullable": false},
				{"name": "age", "type": "INTEGER", "nullable": false}
			]
		}
	}`)

	mock := mockfoundry.New(inputDir, uploadDir)
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	cfg := stringcase.Config{UpperFields: "age"}
	err := RunFoundry(context.Background(), testEnv(srv.URL), "input", "output", "", "dataset", cfg, testOptions())
	if err == nil {
		t.Fatal("expected configuration error for non-string configured field")
	}
	var cfgErr *stringcase.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %T (%v), want *stringcase.ConfigError", err, err)
	}
	if cfgErr.Field != "age" {
		t.Fatalf("got field %q, want age", cfgErr.Field)
	}

	// Validation failures must abort before any record is processed.
	if uploads := mock.Uploads(); len(uploads) != 0 {
		t.Fatalf("no uploads expected after validation failure, got %d", len(uploads))
	}
	for _, c := range mock.Calls() {
		if strings.Contains(c.Path, "readTable") {
			t.Fatalf("input was read after validation failure; calls: %v", mock.Calls())
		}
	}
}

func TestRunFoundryDynamicSchemaSkipsValidation(t *testing.T) {
	inputDir := t.TempDir()
	uploadDir := t.TempDir()
	// No .schema.json: schema is not known until runtime.
	writeTestFile(t, filepath.Join(inputDir, testInputRID+".csv"),
		"name\nalice\n")

	mock := mockfoundry.New(inputDir, uploadDir)
	srv := httptest.NewServer(mock.Handler())
	defer srv.Close()

	cfg := stringcase.Config{UpperFields: "name"}
	err := RunFoundry(context.Background(), testEnv(srv.URL), "input", "output", "out.csv", "dataset", cfg, testOptions())
	if err != nil {
		t.Fatalf("RunFoundry: %v", err)
	}

	uploads := mock.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("got %d uploads, want 1", len(uploads))
	}
	if uploads[0].FilePath != "out.csv" {
		t.Fatalf("uploaded file path %q, want out.csv", uploads[0].FilePath)
	}
	if got, want := string(uploads[0].Bytes), "name\nALICE\n"; got != want {
		t.Fatalf("uploaded CSV mismatch: got %q, want %q", got, want)
	}
}

func TestRunFoundryMissingAlias(t *testing.T) {
	env := testEnv("http://127.0.0.1:1")
	cfg := stringcase.Config{UpperFields: "name"}
	err := RunFoundry(context.Background(), env, "nope", "output", "", "dataset", cfg, testOptions())
	if err == nil || !strings.Contains(err.Error(), "RESOURCE_ALIAS_MAP") {
		t.Fatalf("got %v, want missing alias error", err)
	}
}

func TestRunLocal(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	writeTestFile(t, in, "name,City\nalice,PARIS\nbob,London\n")

	cfg := stringcase.Config{UpperFields: "name", LowerFields: "City"}
	if err := RunLocal(context.Background(), in, out, cfg, testOptions()); err != nil {
		t.Fatalf("RunLocal: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "name,City\nALICE,paris\nBOB,london\n"
	if !bytes.Equal(got, []byte(want)) {
		t.Fatalf("output mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRunLocalRejectsUnknownConfiguredField(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	writeTestFile(t, in, "name\nalice\n")

	cfg := stringcase.Config{UpperFields: "missing"}
	err := RunLocal(context.Background(), in, filepath.Join(dir, "out.csv"), cfg, testOptions())
	var cfgErr *stringcase.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %T (%v), want *stringcase.ConfigError", err, err)
	}
}
