package config

import (
	"fmt"
	"strings"
)

// Tree is an immutable-by-convention configuration tree: string-keyed
// mappings of scalars, nested mappings, and lists. All accessors copy on
// write; nothing here mutates a tree in place.
type Tree map[string]any

// Error is a configuration error carrying the offending path.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error at %q: %s", e.Path, e.Message)
}

// NewError creates a configuration error for a path.
func NewError(path, format string, args ...any) *Error {
	return &Error{Path: path, Message: fmt.Sprintf(format, args...)}
}

// Get resolves a dot-separated path against the tree. The second return
// distinguishes "absent" from an explicit null value stored at the path.
func (t Tree) Get(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = map[string]any(t)
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		next, ok := m[key]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// GetString returns the string at path, or def when absent or not a string.
func (t Tree) GetString(path, def string) string {
	if v, ok := t.Get(path); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// GetInt returns the integer at path, accepting the numeric types the YAML
// decoder produces.
func (t Tree) GetInt(path string, def int) int {
	if v, ok := t.Get(path); ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

// GetFloat returns the float at path, or def.
func (t Tree) GetFloat(path string, def float64) float64 {
	if v, ok := t.Get(path); ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return def
}

// GetBool returns the boolean at path, or def.
func (t Tree) GetBool(path string, def bool) bool {
	if v, ok := t.Get(path); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// GetTree returns the subtree at path. Absent paths yield (nil, nil); a
// present non-mapping value is a config error carrying the path.
func (t Tree) GetTree(path string) (Tree, error) {
	v, ok := t.Get(path)
	if !ok {
		return nil, nil
	}
	m, ok := asMap(v)
	if !ok {
		return nil, NewError(path, "expected a mapping, found %T", v)
	}
	return Tree(m), nil
}

// GetList returns the list at path, or nil when absent.
func (t Tree) GetList(path string) []any {
	if v, ok := t.Get(path); ok {
		if l, ok := v.([]any); ok {
			return l
		}
	}
	return nil
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	return Tree(copyMap(t))
}

// Merge deep-merges overlay onto base and returns a new tree; neither input
// is modified. Mappings merge recursively; scalars, lists and explicit
// nulls are leaves, and the overlay's leaf replaces the base's
// wholesale. A key absent from the overlay leaves the base value untouched.
func Merge(base, overlay Tree) Tree {
	if base == nil && overlay == nil {
		return Tree{}
	}
	result := copyMap(base)
	for key, overlayVal := range overlay {
		baseVal, exists := result[key]
		if !exists {
			result[key] = copyValue(overlayVal)
			continue
		}
		baseMap, baseIsMap := asMap(baseVal)
		overlayMap, overlayIsMap := asMap(overlayVal)
		if baseIsMap && overlayIsMap {
			result[key] = map[string]any(Merge(Tree(baseMap), Tree(overlayMap)))
			continue
		}
		result[key] = copyValue(overlayVal)
	}
	return Tree(result)
}

// MergeAll folds overlays onto base from lowest to highest precedence.
func MergeAll(base Tree, overlays ...Tree) Tree {
	result := base
	for _, o := range overlays {
		if o == nil {
			continue
		}
		result = Merge(result, o)
	}
	if result == nil {
		return Tree{}
	}
	return result
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Tree:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case Tree:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
