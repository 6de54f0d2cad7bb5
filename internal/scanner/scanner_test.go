package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseManifest(t *testing.T) {
	raw := "=== src/main.go ===\npackage main\n\nfunc main() {}\n=== README.md ===\n# Title\n"

	files := ParseManifest(raw)
	require.Len(t, files, 2)
	assert.Equal(t, "package main\n\nfunc main() {}", files["src/main.go"])
	assert.Equal(t, "# Title", files["README.md"])
}

func TestParseManifestIgnoresPreamble(t *testing.T) {
	raw := "scanner v1\ntotal 1 file\n=== a.txt ===\nhello\n"
	files := ParseManifest(raw)
	require.Len(t, files, 1)
	assert.Equal(t, "hello", files["a.txt"])
}

func TestParseManifestEmpty(t *testing.T) {
	assert.Empty(t, ParseManifest(""))
	assert.Empty(t, ParseManifest("no markers here\n"))
}

func TestExclusionGlobs(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/__pycache__/**", "src/__pycache__/mod.pyc", true},
		{"**/__pycache__/**", "src/app/main.py", false},
		{"**/.git/**", ".git/objects/aa/bb", true},
		{"*.log", "debug.log", true},
		{"*.log", "logs/debug.log", false},
		{"**/*.log", "logs/debug.log", true},
		{"vendor/**", "vendor/x/y.go", true},
		{"vendor/**", "cmd/vendor.go", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, excluded(tc.path, []string{tc.pattern}),
			"pattern %q against %q", tc.pattern, tc.path)
	}
}

func TestScanBuiltinWalker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "__pycache__"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.py"), []byte("print('hi')\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "__pycache__", "main.pyc"), []byte{0x00, 0x01}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# readme"), 0o644))

	s := New(zaptest.NewLogger(t))
	result, err := s.Scan(context.Background(), dir, Config{
		Exclusions: []string{"**/__pycache__/**"},
	})
	require.NoError(t, err)

	assert.Equal(t, "print('hi')", result.Files["src/main.py"])
	assert.Equal(t, "# readme", result.Files["README.md"])
	assert.NotContains(t, result.Raw, "main.pyc")
	require.Len(t, result.Files, 2)
}

func TestScanInputPathsLimitScope(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "b.md"), []byte("# b"), 0o644))

	s := New(zaptest.NewLogger(t))
	result, err := s.Scan(context.Background(), dir, Config{InputPaths: []string{"src"}})
	require.NoError(t, err)

	assert.Contains(t, result.Files, "src/a.go")
	assert.NotContains(t, result.Files, "docs/b.md")
}

func TestScanRoundTripThroughManifest(t *testing.T) {
	dir := t.TempDir()
	content := "line one\nline two\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte(content), 0o644))

	s := New(zaptest.NewLogger(t))
	result, err := s.Scan(context.Background(), dir, Config{})
	require.NoError(t, err)

	reparsed := ParseManifest(result.Raw)
	assert.Equal(t, result.Files, reparsed)
}
