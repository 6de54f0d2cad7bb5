package scanner

import (
	"path"
	"strings"
)

const sectionPrefix = "=== "
const sectionSuffix = " ==="

// ParseManifest splits a manifest stream into {path -> content}. Lines of
// the form "=== <path> ===" open a section; everything until the next
// marker belongs to that file. Text before the first marker is ignored.
func ParseManifest(raw string) map[string]string {
	files := make(map[string]string)

	var current string
	var content strings.Builder
	flush := func() {
		if current != "" {
			files[current] = content.String()
		}
		content.Reset()
	}

	for _, line := range strings.Split(raw, "\n") {
		if path, ok := sectionHeader(line); ok {
			flush()
			current = path
			continue
		}
		if current == "" {
			continue
		}
		if content.Len() > 0 {
			content.WriteByte('\n')
		}
		content.WriteString(line)
	}
	flush()

	// Trailing newline from section framing is not file content.
	for path, body := range files {
		files[path] = strings.TrimSuffix(body, "\n")
	}
	return files
}

func sectionHeader(line string) (string, bool) {
	trimmed := strings.TrimRight(line, "\r")
	if !strings.HasPrefix(trimmed, sectionPrefix) || !strings.HasSuffix(trimmed, sectionSuffix) {
		return "", false
	}
	path := strings.TrimSuffix(strings.TrimPrefix(trimmed, sectionPrefix), sectionSuffix)
	path = strings.TrimSpace(path)
	if path == "" {
		return "", false
	}
	return path, true
}

// excluded reports whether rel matches any exclusion glob. Globs support
// "**" for any number of path segments and "*" within one segment.
func excluded(rel string, exclusions []string) bool {
	rel = strings.ReplaceAll(rel, "\\", "/")
	for _, pattern := range exclusions {
		if matchGlob(strings.ReplaceAll(pattern, "\\", "/"), rel) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		// ** matches zero or more leading segments.
		for skip := 0; skip <= len(path); skip++ {
			if matchSegments(pattern[1:], path[skip:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if !matchSegment(pattern[0], path[0]) {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}

func matchSegment(pattern, segment string) bool {
	matched, err := path.Match(pattern, segment)
	return err == nil && matched
}
