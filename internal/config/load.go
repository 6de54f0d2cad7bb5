package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadFile reads a YAML configuration tree from disk, expanding ${VAR}
// references in string scalars against the process environment.
func LoadFile(path string) (Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses a YAML document into a Tree with ${VAR} expansion.
func LoadBytes(data []byte) (Tree, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if raw == nil {
		return Tree{}, nil
	}
	expanded, _ := expandValue(raw).(map[string]any)
	return Tree(expanded), nil
}

// Dump serializes a tree back to YAML. Key order is not preserved; values
// and nesting are.
func Dump(t Tree) ([]byte, error) {
	return yaml.Marshal(map[string]any(t))
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvRefs(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}

func expandEnvRefs(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		// Unset references are left intact so they are visible in logs
		// rather than silently collapsing to empty strings.
		return ref
	})
}
