package agents

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)```")

// ExtractJSON pulls a JSON document out of assistant text, tolerating
// surrounding prose and code fences. Near-JSON (trailing commas, single
// quotes, cut-off strings) is run through jsonrepair before giving up.
func ExtractJSON(text string) (string, error) {
	for _, candidate := range candidates(text) {
		if isDocument(candidate) && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
		repaired, err := jsonrepair.JSONRepair(candidate)
		if err == nil && isDocument(repaired) && json.Valid([]byte(repaired)) {
			return repaired, nil
		}
	}
	return "", fmt.Errorf("no JSON document found")
}

// isDocument accepts only objects and arrays; repairing prose into a
// bare JSON string must not count as a parse.
func isDocument(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func candidates(text string) []string {
	var out []string
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if c := strings.TrimSpace(m[1]); c != "" {
			out = append(out, c)
		}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		out = append(out, trimmed)
	}

	// Outermost braces, for JSON embedded in prose.
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			out = append(out, text[start:end+1])
		}
	}
	return out
}
