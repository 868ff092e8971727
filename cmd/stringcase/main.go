package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/palantir/compute-module-string-case/internal/app"
	"github.com/palantir/compute-module-string-case/internal/version"
	"github.com/palantir/compute-module-string-case/pkg/foundry"
	"github.com/palantir/compute-module-string-case/pkg/foundry/keepalive"
	"github.com/palantir/compute-module-string-case/pkg/pipeline/redact"
	"github.com/palantir/compute-module-string-case/pkg/stringcase"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "version", "--version":
		fmt.Println(version.Current)
		return
	case "local":
		os.Exit(runLocal(ctx, os.Args[2:]))
	case "foundry":
		os.Exit(runFoundry(ctx, os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runLocal(ctx context.Context, args []string) int {
	appEnv, err := loadAppOptionsFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	cfgEnv := loadCaseConfigFromEnv()

	fs := flag.NewFlagSet("local", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var inputPath string
	var outputPath string
	var upperFields string
	var lowerFields string
	var workers int
	var maxRetries int
	var requestTimeout time.Duration
	var rateLimitRPS float64
	var failFast bool

	fs.StringVar(&inputPath, "input", "", "Input CSV file path")
	fs.StringVar(&outputPath, "output", "", "Output CSV file path")
	fs.StringVar(&upperFields, "upper-fields", cfgEnv.UpperFields, "Comma-separated fields to uppercase (env: UPPER_FIELDS)")
	fs.StringVar(&lowerFields, "lower-fields", cfgEnv.LowerFields, "Comma-separated fields to lowercase (env: LOWER_FIELDS)")
	fs.IntVar(&workers, "workers", appEnv.Workers, "Number of concurrent transform workers (env: WORKERS)")
	fs.IntVar(&maxRetries, "max-retries", appEnv.MaxRetries, "Max retries per record for transient failures (env: MAX_RETRIES)")
	fs.DurationVar(&requestTimeout, "request-timeout", appEnv.RequestTimeout, "Per-record processing timeout (env: REQUEST_TIMEOUT)")
	fs.Float64Var(&rateLimitRPS, "rate-limit-rps", appEnv.RateLimitRPS, "Global record rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.BoolVar(&failFast, "fail-fast", appEnv.FailFast, "Abort on first record error instead of dropping the record (env: FAIL_FAST)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inputPath == "" || outputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "local requires --input and --output")
		return 2
	}

	cfg := stringcase.Config{UpperFields: upperFields, LowerFields: lowerFields}
	if err := app.RunLocal(ctx, inputPath, outputPath, cfg, app.Options{
		Workers:        workers,
		MaxRetries:     maxRetries,
		RequestTimeout: requestTimeout,
		RateLimitRPS:   rateLimitRPS,
		FailFast:       failFast,
	}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "local run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func runFoundry(ctx context.Context, args []string) int {
	appEnv, err := loadAppOptionsFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	cfgEnv := loadCaseConfigFromEnv()

	fs := flag.NewFlagSet("foundry", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	inputAlias := fs.String("input-alias", "input", "Alias name for the input dataset in RESOURCE_ALIAS_MAP")
	outputAlias := fs.String("output-alias", "output", "Alias name for the output dataset in RESOURCE_ALIAS_MAP")
	outputFilename := fs.String("output-filename", "transformed.csv", "Filename to upload into the output dataset transaction")
	outputWriteMode := fs.String("output-write-mode", "auto", "Output write mode: auto, dataset or stream (env: OUTPUT_WRITE_MODE)")
	upperFields := fs.String("upper-fields", cfgEnv.UpperFields, "Comma-separated fields to uppercase (env: UPPER_FIELDS)")
	lowerFields := fs.String("lower-fields", cfgEnv.LowerFields, "Comma-separated fields to lowercase (env: LOWER_FIELDS)")
	workers := fs.Int("workers", appEnv.Workers, "Number of concurrent transform workers (env: WORKERS)")
	maxRetries := fs.Int("max-retries", appEnv.MaxRetries, "Max retries per record for transient failures (env: MAX_RETRIES)")
	requestTimeout := fs.Duration("request-timeout", appEnv.RequestTimeout, "Per-record processing timeout (env: REQUEST_TIMEOUT)")
	rateLimitRPS := fs.Float64("rate-limit-rps", appEnv.RateLimitRPS, "Global record rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	failFast := fs.Bool("fail-fast", appEnv.FailFast, "Abort on first record error instead of dropping the record (env: FAIL_FAST)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if v := strings.TrimSpace(os.Getenv("OUTPUT_WRITE_MODE")); v != "" && *outputWriteMode == "auto" {
		*outputWriteMode = v
	}

	cfg := stringcase.Config{UpperFields: *upperFields, LowerFields: *lowerFields}

	// Functions-mode: when the runtime injects job polling endpoints, serve
	// transform jobs instead of running the one-shot pipeline.
	kaCfg, enabled, err := keepalive.LoadConfigFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "compute module config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	if enabled {
		tr := stringcase.New(cfg)
		if err := keepalive.RunLoop(ctx, kaCfg, keepalive.NewTransformHandler(tr)); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "compute module loop failed: %s\n", redact.Secrets(err.Error()))
			return 1
		}
		return 0
	}

	env, err := foundry.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "foundry env error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	if err := app.RunFoundry(ctx, env, *inputAlias, *outputAlias, *outputFilename, *outputWriteMode, cfg, app.Options{
		Workers:        *workers,
		MaxRetries:     *maxRetries,
		RequestTimeout: *requestTimeout,
		RateLimitRPS:   *rateLimitRPS,
		FailFast:       *failFast,
	}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "foundry run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `stringcase: field-level case transform Compute Module (local + Foundry modes)

Usage:
  stringcase <command> [flags]

Commands:
  local    Run against a local input CSV
  foundry  Run in Foundry/pipeline mode (uses BUILD2_TOKEN + RESOURCE_ALIAS_MAP)
  version  Print the binary version

Examples:
  stringcase local --input people.csv --output transformed.csv --upper-fields name --lower-fields city

Environment (transform):
  UPPER_FIELDS  Comma-separated fields to uppercase
  LOWER_FIELDS  Comma-separated fields to lowercase

Environment (foundry):
  FOUNDRY_URL                  Foundry base URL (e.g. https://<stack>.palantirfoundry.com)
  FOUNDRY_SERVICE_DISCOVERY_V2 Service discovery YAML file path (preferred over FOUNDRY_URL)
  BUILD2_TOKEN                 File path containing a bearer token
  RESOURCE_ALIAS_MAP           File path containing alias -> {rid, branch} JSON
  DEFAULT_CA_PATH              Optional PEM bundle to trust for TLS
  OUTPUT_WRITE_MODE            auto (default), dataset or stream

Environment (functions-mode):
  GET_JOB_URI, POST_RESULT_URI, MODULE_AUTH_TOKEN
  When set, "foundry" polls for transform jobs instead of running once.

`)
}

func loadCaseConfigFromEnv() stringcase.Config {
	return stringcase.Config{
		UpperFields: strings.TrimSpace(os.Getenv("UPPER_FIELDS")),
		LowerFields: strings.TrimSpace(os.Getenv("LOWER_FIELDS")),
	}
}

func loadAppOptionsFromEnv() (app.Options, error) {
	workers, err := envInt("WORKERS", 10)
	if err != nil {
		return app.Options{}, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 3)
	if err != nil {
		return app.Options{}, err
	}
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return app.Options{}, err
	}
	failFast, err := envBool("FAIL_FAST")
	if err != nil {
		return app.Options{}, err
	}
	rateLimitRPS, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		return app.Options{}, err
	}

	return app.Options{
		Workers:        workers,
		MaxRetries:     maxRetries,
		RequestTimeout: requestTimeout,
		RateLimitRPS:   rateLimitRPS,
		FailFast:       failFast,
	}, nil
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return false, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
