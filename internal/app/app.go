// Package app wires the string-case stage into its two hosts: a local CSV
// harness and the Foundry pipeline-mode dataset surface.
package app

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/palantir/compute-module-string-case/pkg/foundry"
	foundryio "github.com/palantir/compute-module-string-case/pkg/pipeline/io/foundry"
	localio "github.com/palantir/compute-module-string-case/pkg/pipeline/io/local"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/record"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/redact"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/schema"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/worker"
	"github.com/palantir/compute-module-string-case/pkg/stringcase"
)

// Options is the host-runtime execution policy for one run.
type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64

	// FailFast aborts the whole run on the first record that fails to
	// transform. Otherwise failed records are dropped from the output and
	// logged; the transform itself never produces partial records.
	FailFast bool
}

func (o Options) workerOptions() worker.Options {
	policy := worker.FailurePolicyPartialOutput
	if o.FailFast {
		policy = worker.FailurePolicyFailFast
	}
	return worker.Options{
		Workers:           o.Workers,
		MaxRetries:        o.MaxRetries,
		RequestTimeout:    o.RequestTimeout,
		RateLimitRPS:      o.RateLimitRPS,
		FailurePolicy:     policy,
		BackoffInitial:    200 * time.Millisecond,
		BackoffMax:        2 * time.Second,
		BackoffJitterFrac: 0.2,
	}
}

// RunLocal reads a local input CSV, applies the case transform and writes a
// local output CSV with the same columns. The CSV header is a statically
// known schema (every column nullable STRING), so configuration is validated
// before any record is processed.
func RunLocal(ctx context.Context, inputPath, outputPath string, cfg stringcase.Config, opts Options) error {
	inF, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = inF.Close()
	}()

	s, records, err := localio.ReadRecords(inF)
	if err != nil {
		return err
	}

	tr := stringcase.New(cfg)
	if err := tr.ValidateSchema(&s); err != nil {
		return err
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	out, err := transformAll(ctx, records, tr, opts, logger, "local")
	if err != nil {
		return err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = outF.Close()
	}()

	if err := localio.WriteRecords(outF, s, out); err != nil {
		return err
	}
	return outF.Close()
}

// RunFoundry runs the pipeline-mode orchestration against the dataset API
// surface: validate configuration against the declared input schema when one
// exists, transform every input record, and write the result to the output
// dataset or stream.
func RunFoundry(
	ctx context.Context,
	env foundry.Env,
	inputAlias string,
	outputAlias string,
	outputFilename string,
	outputWriteMode string,
	cfg stringcase.Config,
	opts Options,
) error {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	logf := func(format string, args ...any) {
		prefix := make([]any, 0, len(args)+1)
		prefix = append(prefix, runID)
		prefix = append(prefix, args...)
		logger.Printf("run=%s "+format, prefix...)
	}
	runStart := time.Now()

	inputRef, ok := env.Aliases[inputAlias]
	if !ok {
		return fmt.Errorf("missing alias %q in RESOURCE_ALIAS_MAP", inputAlias)
	}
	outputRef, ok := env.Aliases[outputAlias]
	if !ok {
		return fmt.Errorf("missing alias %q in RESOURCE_ALIAS_MAP", outputAlias)
	}
	if outputFilename == "" {
		outputFilename = "transformed.csv"
	}

	tr := stringcase.New(cfg)
	logf(
		"foundry run start: input=%s@%s output=%s@%s writeMode=%s upperFields=%v lowerFields=%v workers=%d failFast=%t",
		inputRef.RID,
		branchOrMaster(inputRef.Branch),
		outputRef.RID,
		branchOrMaster(outputRef.Branch),
		outputWriteMode,
		tr.UpperFields(),
		tr.LowerFields(),
		opts.Workers,
		opts.FailFast,
	)

	client, err := foundry.NewClient(env.Services.APIGateway, env.Services.StreamProxy, env.Token, env.DefaultCAPath)
	if err != nil {
		return err
	}

	// Static validation runs once per deployment, and only when the input
	// schema is declared ahead of time. Dynamic datasets skip it; violations
	// then surface per record.
	declared, err := foundryio.FetchInputSchema(ctx, client, inputRef)
	if err != nil {
		return err
	}
	if declared == nil {
		logf("input schema not known until runtime; skipping static validation")
	} else {
		if err := tr.ValidateSchema(declared); err != nil {
			return err
		}
		logf("validated %d configured fields against declared input schema (%d fields)",
			len(tr.UpperFields())+len(tr.LowerFields()), len(declared.Fields))
	}

	readStart := time.Now()
	s, records, err := foundryio.ReadInputRecords(ctx, client, inputRef)
	if err != nil {
		return err
	}
	logf("loaded %d records from input dataset in %s", len(records), time.Since(readStart).Round(time.Millisecond))

	modeStart := time.Now()
	isStream, err := foundryio.ResolveOutputMode(ctx, client, outputRef, outputWriteMode)
	if err != nil {
		return err
	}
	mode := "dataset"
	if isStream {
		mode = "stream"
	}
	logf("resolved output mode=%s in %s", mode, time.Since(modeStart).Round(time.Millisecond))

	transformStart := time.Now()
	if isStream {
		published := 0
		onResult := func(res worker.Result[record.Record, record.Record]) error {
			if res.Err != nil {
				if opts.FailFast {
					return res.Err
				}
				logf("record failed: %s", redact.Secrets(res.Err.Error()))
				return nil
			}
			if err := foundryio.PublishJSONRecord(ctx, client, outputRef, recordToStreamMap(s, res.Output)); err != nil {
				return err
			}
			published++
			logf("stream record published: published=%d/%d", published, len(records))
			return nil
		}
		_, err := worker.ProcessAllWithCallback(ctx, records, process(tr), onResult, opts.workerOptions())
		if err != nil {
			return err
		}
		logf(
			"foundry run complete: published=%d/%d transformDuration=%s totalDuration=%s",
			published,
			len(records),
			time.Since(transformStart).Round(time.Millisecond),
			time.Since(runStart).Round(time.Millisecond),
		)
		return nil
	}

	out, err := transformAll(ctx, records, tr, opts, logger, runID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := localio.WriteRecords(&buf, s, out); err != nil {
		return err
	}

	writeStart := time.Now()
	if err := foundryio.UploadDatasetCSV(ctx, client, outputRef, outputFilename, buf.Bytes()); err != nil {
		return err
	}
	logf(
		"foundry run complete: wrote %d records writeDuration=%s totalDuration=%s",
		len(out),
		time.Since(writeStart).Round(time.Millisecond),
		time.Since(runStart).Round(time.Millisecond),
	)
	return nil
}

func process(tr *stringcase.Transformer) func(context.Context, record.Record) (record.Record, error) {
	return func(_ context.Context, rec record.Record) (record.Record, error) {
		return tr.Transform(rec)
	}
}

// transformAll runs the transformer over all records with the host's
// concurrency policy. Failed records are dropped and logged unless FailFast
// aborts the run; output preserves input order.
func transformAll(
	ctx context.Context,
	records []record.Record,
	tr *stringcase.Transformer,
	opts Options,
	logger *log.Logger,
	runID string,
) ([]record.Record, error) {
	results, err := worker.ProcessAll(ctx, records, process(tr), opts.workerOptions())
	if err != nil {
		return nil, err
	}

	out := make([]record.Record, 0, len(results))
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			logger.Printf("run=%s record failed: %s", runID, redact.Secrets(res.Err.Error()))
			continue
		}
		out = append(out, res.Output)
	}
	logger.Printf("run=%s transformed=%d failed=%d", runID, len(out), failed)
	return out, nil
}

func recordToStreamMap(s schema.Schema, rec record.Record) map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = rec.Value(f.Name)
	}
	return out
}

func branchOrMaster(branch string) string {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return "master"
	}
	return branch
}
