// Package scanner produces the textual project manifest the discovery
// agent consumes: per-file sections delimited by "=== <path> ===" markers.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Config selects what to scan. When ScriptPath is set the scan shells out
// to that command; otherwise the built-in walker runs.
type Config struct {
	ScriptPath string
	InputPaths []string
	Exclusions []string
}

// Result is the parsed manifest plus the raw stream it came from.
type Result struct {
	Files map[string]string
	Raw   string
}

type Scanner struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan walks or shells out, returning the manifest for projectPath.
func (s *Scanner) Scan(ctx context.Context, projectPath string, cfg Config) (*Result, error) {
	var raw string
	var err error
	if cfg.ScriptPath != "" {
		raw, err = s.runExternal(ctx, projectPath, cfg)
	} else {
		raw, err = s.walk(projectPath, cfg)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Files: ParseManifest(raw), Raw: raw}, nil
}

// runExternal invokes the configured scanner command. Argument layout:
// -x <comma-joined exclusions>, -o for stdout, then the input paths.
func (s *Scanner) runExternal(ctx context.Context, projectPath string, cfg Config) (string, error) {
	args := []string{}
	if len(cfg.Exclusions) > 0 {
		args = append(args, "-x", strings.Join(cfg.Exclusions, ","))
	}
	args = append(args, "-o")
	for _, p := range s.resolveInputs(projectPath, cfg) {
		args = append(args, p)
	}

	cmd := exec.CommandContext(ctx, cfg.ScriptPath, args...)
	cmd.Dir = projectPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug("Running project scanner",
		zap.String("script", cfg.ScriptPath),
		zap.Strings("args", args),
	)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("scanner command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// walk is the built-in scanner: a file walk honoring exclusion globs,
// emitting the same manifest format the external command produces.
func (s *Scanner) walk(projectPath string, cfg Config) (string, error) {
	var paths []string
	for _, root := range s.resolveInputs(projectPath, cfg) {
		info, err := os.Stat(root)
		if err != nil {
			return "", fmt.Errorf("scan %s: %w", root, err)
		}
		if !info.IsDir() {
			paths = append(paths, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, relErr := filepath.Rel(projectPath, path)
			if relErr != nil {
				rel = path
			}
			if d.IsDir() {
				if excluded(rel, cfg.Exclusions) {
					return filepath.SkipDir
				}
				return nil
			}
			if excluded(rel, cfg.Exclusions) {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Strings(paths)

	var out strings.Builder
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Skipping unreadable file", zap.String("path", path), zap.Error(err))
			continue
		}
		if isBinary(data) {
			continue
		}
		rel, err := filepath.Rel(projectPath, path)
		if err != nil {
			rel = path
		}
		out.WriteString("=== " + filepath.ToSlash(rel) + " ===\n")
		out.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			out.WriteByte('\n')
		}
	}
	return out.String(), nil
}

func (s *Scanner) resolveInputs(projectPath string, cfg Config) []string {
	if len(cfg.InputPaths) == 0 {
		return []string{projectPath}
	}
	resolved := make([]string, 0, len(cfg.InputPaths))
	for _, p := range cfg.InputPaths {
		if filepath.IsAbs(p) {
			resolved = append(resolved, p)
			continue
		}
		resolved = append(resolved, filepath.Join(projectPath, p))
	}
	return resolved
}

func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
