package stringcase

import (
	"sort"
	"strings"
)

// Config holds the raw stage configuration: two optional comma-separated
// lists of field names. Field names are case-sensitive.
type Config struct {
	// UpperFields is a comma-separated list of fields to uppercase. Each
	// field must be of type STRING.
	UpperFields string
	// LowerFields is a comma-separated list of fields to lowercase. Each
	// field must be of type STRING.
	LowerFields string
}

// ParseFieldList parses a comma-separated field list into a sorted,
// deduplicated slice of names. Empty and whitespace-only input yields nil;
// whitespace around each name is trimmed.
func ParseFieldList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	set := make(map[string]struct{})
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		set[tok] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
