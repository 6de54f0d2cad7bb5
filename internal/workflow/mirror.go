package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/lineage"
	"github.com/c4h-ai/orchestrator/internal/models"
)

// Mirror writes the durable per-run layout:
//
//	<root>/<yymmdd_hhmm>_<workflow_id>/
//	  config/effective_config.json
//	  events/<step>_<agent_kind>.json
//	  result.json
type Mirror struct {
	logger *zap.Logger
	root   string
	now    func() time.Time

	// dirs tracks prepared runs; the retention sweep calls Forget so the
	// map does not grow for the life of the process.
	mu   sync.RWMutex
	dirs map[string]string
}

func NewMirror(logger *zap.Logger, root string) *Mirror {
	return &Mirror{
		logger: logger,
		root:   root,
		now:    time.Now,
		dirs:   make(map[string]string),
	}
}

// Prepare creates the run directory and persists the effective
// configuration once, at workflow start. It returns the storage path.
func (m *Mirror) Prepare(workflowID string, effective config.Tree) (string, error) {
	stamp := m.now().UTC().Format("060102_1504")
	dir := filepath.Join(m.root, stamp+"_"+workflowID)
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "events"), 0o755); err != nil {
		return "", fmt.Errorf("create events dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, "config", "effective_config.json"), effective); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.dirs[workflowID] = dir
	m.mu.Unlock()
	m.logger.Debug("prepared workflow storage", zap.String("workflow_id", workflowID), zap.String("dir", dir))
	return dir, nil
}

// WriteResult persists the terminal record as result.json.
func (m *Mirror) WriteResult(rec *models.WorkflowRecord) error {
	m.mu.RLock()
	dir, ok := m.dirs[rec.WorkflowID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow %s has no prepared storage dir", rec.WorkflowID)
	}
	return writeJSON(filepath.Join(dir, "result.json"), rec)
}

// Forget releases the run's tracking entry. The entry stays live past
// WriteResult because lineage sinks drain asynchronously; the retention
// sweep calls this once the record itself is gone.
func (m *Mirror) Forget(workflowID string) {
	m.mu.Lock()
	delete(m.dirs, workflowID)
	m.mu.Unlock()
}

// Sink adapts the mirror into a lineage sink, so event documents also
// land under the run's storage directory.
func (m *Mirror) Sink() lineage.Sink { return &mirrorSink{mirror: m} }

type mirrorSink struct {
	mirror *Mirror
}

func (s *mirrorSink) Name() string { return "mirror" }

// Record writes the event under the run's events dir. Runs the mirror
// never prepared (unit tests, replays) are skipped without error.
func (s *mirrorSink) Record(_ context.Context, event *lineage.Event) error {
	s.mirror.mu.RLock()
	dir, ok := s.mirror.dirs[event.WorkflowRunID]
	s.mirror.mu.RUnlock()
	if !ok {
		return nil
	}
	name := fmt.Sprintf("%d_%s.json", event.Step, sanitizeName(event.AgentKind))
	return writeJSON(filepath.Join(dir, "events", name), event)
}

// writeJSON publishes a self-contained document atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sanitizeName(kind string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, kind)
}
