package stringcase

import (
	"fmt"
	"strings"
)

// ConfigError reports an invalid stage configuration found during static
// schema validation. It is fatal for deployment: no record is processed
// after one is raised.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid stage configuration"
	}
	parts := []string{"invalid stage configuration"}
	if strings.TrimSpace(e.Field) != "" {
		parts = append(parts, fmt.Sprintf("field=%q", e.Field))
	}
	if strings.TrimSpace(e.Reason) != "" {
		parts = append(parts, e.Reason)
	}
	return strings.Join(parts, ": ")
}

// TransformError reports a per-record failure: a configured field was not
// usable as text at transform time. It propagates to the host runtime;
// whether it aborts the run or only the record is host policy.
type TransformError struct {
	Field  string
	Reason string
}

func (e *TransformError) Error() string {
	if e == nil {
		return "transform failed"
	}
	parts := []string{"transform failed"}
	if strings.TrimSpace(e.Field) != "" {
		parts = append(parts, fmt.Sprintf("field=%q", e.Field))
	}
	if strings.TrimSpace(e.Reason) != "" {
		parts = append(parts, e.Reason)
	}
	return strings.Join(parts, ": ")
}
