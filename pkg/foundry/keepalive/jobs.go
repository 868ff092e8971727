package keepalive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/palantir/compute-module-string-case/pkg/stringcase"
)

// QueryTypeTransform is the interactive query type answered by this module.
const QueryTypeTransform = "stringCaseTransformV1"

// transformQueryV1 carries inline records submitted through the compute-module
// job endpoints. Records here are schemaless, so static validation does not
// apply; violations surface per record.
type transformQueryV1 struct {
	Records []map[string]any `json:"records"`
}

type transformResultV1 struct {
	Records []map[string]any `json:"records"`
}

// NewTransformHandler returns a job handler that answers transform queries
// with the case-transformed records as JSON.
func NewTransformHandler(tr *stringcase.Transformer) func(context.Context, Job) ([]byte, error) {
	return func(_ context.Context, job Job) ([]byte, error) {
		queryType := strings.TrimSpace(job.QueryType)
		if queryType != "" && queryType != QueryTypeTransform {
			return nil, fmt.Errorf("unsupported query type %q (expected %s)", queryType, QueryTypeTransform)
		}

		var q transformQueryV1
		if err := json.Unmarshal(job.Query, &q); err != nil {
			return nil, fmt.Errorf("parse %s query: %w", QueryTypeTransform, err)
		}

		out := make([]map[string]any, 0, len(q.Records))
		for i, rec := range q.Records {
			transformed, err := tr.TransformMap(rec)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, transformed)
		}
		return json.Marshal(transformResultV1{Records: out})
	}
}
