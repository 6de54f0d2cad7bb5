package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/models"
	"github.com/c4h-ai/orchestrator/internal/skills"
)

// Coder applies the solution's change set through the merge skill and
// asset writer. The aggregate succeeds when at least one change applied.
type Coder struct {
	deps          Deps
	view          *config.AgentView
	merger        *skills.Merger
	createBackups bool
}

func NewCoder(deps Deps) (*Coder, error) {
	view, err := config.ResolveAgentView(deps.Config, KindCoder)
	if err != nil {
		return nil, err
	}

	c := &Coder{
		deps:          deps,
		view:          view,
		createBackups: view.Options.GetBool("backup_enabled", true),
	}

	c.merger = deps.Merger
	if c.merger == nil {
		opts := []skills.MergerOption{}
		if view.Options.GetString("merge_mode", "") == "llm" {
			template, perr := view.Prompt("merge")
			if perr != nil {
				return nil, fmt.Errorf("coder: merge_mode=llm requires a merge prompt: %w", perr)
			}
			if perr := RequirePlaceholders(template, "original", "diff"); perr != nil {
				return nil, fmt.Errorf("coder merge template: %w", perr)
			}
			opts = append(opts, skills.WithLLMMerge(c.llmMergeFunc(template)))
		}
		c.merger = skills.NewMerger(deps.Logger, opts...)
	}
	return c, nil
}

func (c *Coder) Kind() string { return KindCoder }

func (c *Coder) Process(ctx context.Context, wctx Context) models.AgentResult {
	started := time.Now()
	handle := issue(c.deps)

	changes, err := coerceChanges(wctx.InputData())
	inputSnapshot := map[string]any{"change_count": len(changes)}
	if err != nil {
		result := fail("input_error", models.Messages{}, models.Metrics{}, nil, err.Error())
		emit(c.deps, handle, KindCoder, started, inputSnapshot, nil, result.Metrics, result.Error)
		return result
	}

	// An empty change list is a valid outcome (a fallback team re-running
	// the coder after an upstream stage produced nothing): vacuous success.
	if len(changes) == 0 {
		data := map[string]any{"changes": []map[string]any{}}
		metrics := models.Metrics{DurationMS: time.Since(started).Milliseconds()}
		emit(c.deps, handle, KindCoder, started, inputSnapshot, data, metrics, "")
		return models.AgentResult{Success: true, Data: data, Metrics: metrics}
	}

	projectPath := wctx.String("project_path")
	entries := make([]map[string]any, 0, len(changes))
	anySucceeded := false
	var firstError string

	for _, change := range changes {
		entry := c.applyChange(ctx, handle.EventID, projectPath, change)
		entries = append(entries, entry)
		if ok, _ := entry["success"].(bool); ok {
			anySucceeded = true
		} else if firstError == "" {
			firstError, _ = entry["error"].(string)
		}
	}

	metrics := models.Metrics{DurationMS: time.Since(started).Milliseconds()}
	data := map[string]any{"changes": entries}

	if !anySucceeded {
		msg := "merge_error: no changes applied"
		if firstError != "" {
			// Per-change errors already carry their taxonomy token.
			msg = firstError
		}
		result := models.AgentResult{Success: false, Data: data, Error: msg, Metrics: metrics}
		emit(c.deps, handle, KindCoder, started, inputSnapshot, data, metrics, result.Error)
		return result
	}

	emit(c.deps, handle, KindCoder, started, inputSnapshot, data, metrics, "")
	return models.AgentResult{
		Success: true,
		Data:    data,
		Metrics: metrics,
	}
}

// applyChange merges and persists one change, recording a skill-level
// lineage event parented to the coder's own event.
func (c *Coder) applyChange(ctx context.Context, parentEventID, projectPath string, change models.FileChange) map[string]any {
	started := time.Now()
	path := change.FilePath
	if !filepath.IsAbs(path) && projectPath != "" {
		path = filepath.Join(projectPath, path)
	}
	entry := map[string]any{"file": change.FilePath, "success": false}

	var writeRes skills.WriteResult
	switch change.Type {
	case models.ChangeDelete:
		writeRes = c.deps.Writer.Delete(path, c.createBackups)

	default:
		original, readErr := readOriginal(path)
		if readErr != nil {
			entry["error"] = "io_error: " + readErr.Error()
			c.emitSkillEvent(parentEventID, started, change, entry)
			return entry
		}
		merged := c.merger.Merge(ctx, original, change)
		if !merged.Success {
			entry["error"] = "merge_error: " + merged.Error
			c.emitSkillEvent(parentEventID, started, change, entry)
			return entry
		}
		writeRes = c.deps.Writer.Write(path, merged.Content, c.createBackups)
	}

	if !writeRes.Success {
		entry["error"] = "io_error: " + writeRes.Error
	} else {
		entry["success"] = true
		if writeRes.BackupPath != "" {
			entry["backup_path"] = writeRes.BackupPath
		}
	}
	c.emitSkillEvent(parentEventID, started, change, entry)
	return entry
}

func (c *Coder) emitSkillEvent(parentEventID string, started time.Time, change models.FileChange, entry map[string]any) {
	if c.deps.Lineage == nil || c.deps.Recorder == nil {
		return
	}
	handle := c.deps.Lineage.IssueChild(parentEventID)
	errMsg, _ := entry["error"].(string)
	emit(c.deps, handle, "merge", started,
		map[string]any{"file": change.FilePath, "type": change.Type},
		entry, models.Metrics{DurationMS: time.Since(started).Milliseconds()}, errMsg)
}

// llmMergeFunc adapts the coder's model configuration into the merge
// skill's fallback hook.
func (c *Coder) llmMergeFunc(template string) skills.LLMMergeFunc {
	return func(ctx context.Context, original, diff string) (string, error) {
		user := Render(template, map[string]string{
			"original": original,
			"diff":     diff,
		})
		system, _ := c.view.Prompt("system")
		completion, err := c.deps.Adapter.Complete(ctx, c.view, system, user)
		if err != nil {
			return "", err
		}
		if completion.Truncated {
			return "", fmt.Errorf("merge response truncated")
		}
		c.deps.Logger.Debug("LLM merge completed", zap.Int("continuations", completion.Continuations))
		return completion.Content, nil
	}
}

func readOriginal(path string) (*string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	content := string(data)
	return &content, nil
}

// coerceChanges extracts the change list from input_data. Changes arrive
// typed from the solution designer, or as raw maps when replayed from a
// stored workflow. A missing or empty list yields zero changes.
func coerceChanges(input map[string]any) ([]models.FileChange, error) {
	if input == nil {
		return nil, fmt.Errorf("input_data missing from context")
	}
	raw, ok := input["changes"]
	if !ok {
		return nil, nil
	}

	switch v := raw.(type) {
	case []models.FileChange:
		return v, nil
	case []any:
		changes := make([]models.FileChange, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("change %d is not a mapping", i)
			}
			change := models.FileChange{
				FilePath:    stringField(m, "file_path"),
				Type:        stringField(m, "type"),
				Description: stringField(m, "description"),
				Content:     stringField(m, "content"),
				Diff:        stringField(m, "diff"),
			}
			if err := change.Validate(); err != nil {
				return nil, fmt.Errorf("change %d: %w", i, err)
			}
			changes = append(changes, change)
		}
		return changes, nil
	default:
		return nil, fmt.Errorf("input_data.changes has unexpected type %T", raw)
	}
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
