package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileSink writes one JSON document per event under
// <root>/<workflow_run_id>/events/<step>_<agent_kind>.json.
type FileSink struct {
	root string
}

func NewFileSink(root string) *FileSink {
	return &FileSink{root: root}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Record(_ context.Context, event *Event) error {
	dir := filepath.Join(s.root, event.WorkflowRunID, "events")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}

	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	name := fmt.Sprintf("%d_%s.json", event.Step, sanitizeKind(event.AgentKind))
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// WorkflowEvents reads every recorded event for a run, ordered by step.
func (s *FileSink) WorkflowEvents(workflowRunID string) ([]*Event, error) {
	dir := filepath.Join(s.root, workflowRunID, "events")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read events dir: %w", err)
	}

	events := make([]*Event, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read event %s: %w", entry.Name(), err)
		}
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("parse event %s: %w", entry.Name(), err)
		}
		events = append(events, &event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Step < events[j].Step })
	return events, nil
}

func sanitizeKind(kind string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, kind)
}
