// Package skills holds the coder's collaborators: the merge skill that
// turns a FileChange into new file content, and the asset writer that
// persists it with backups.
package skills

import (
	"context"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/models"
)

// MergeResult is the merge skill outcome.
type MergeResult struct {
	Content string
	Success bool
	Error   string
}

// LLMMergeFunc reconciles a diff against the original content using a
// model call. Wired in when the coder config enables llm merge mode.
type LLMMergeFunc func(ctx context.Context, original, diff string) (string, error)

// Merger applies a FileChange to original content. Full content replaces
// wholesale; diffs go through patch application, falling back to the LLM
// merge when configured.
type Merger struct {
	logger   *zap.Logger
	dmp      *diffmatchpatch.DiffMatchPatch
	llmMerge LLMMergeFunc
}

// MergerOption configures a Merger.
type MergerOption func(*Merger)

func WithLLMMerge(fn LLMMergeFunc) MergerOption {
	return func(m *Merger) { m.llmMerge = fn }
}

func NewMerger(logger *zap.Logger, opts ...MergerOption) *Merger {
	m := &Merger{
		logger: logger,
		dmp:    diffmatchpatch.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge produces the new content for one change. original is nil for
// creates. Failures come back as success=false results, never panics.
func (m *Merger) Merge(ctx context.Context, original *string, change models.FileChange) MergeResult {
	if err := change.Validate(); err != nil {
		return MergeResult{Error: err.Error()}
	}

	switch change.Type {
	case models.ChangeDelete:
		return MergeResult{Error: "delete changes are not merged"}

	case models.ChangeCreate:
		if original != nil {
			return MergeResult{Error: fmt.Sprintf("create change for existing file %s", change.FilePath)}
		}
		if change.Content != "" {
			return MergeResult{Content: change.Content, Success: true}
		}
		return m.applyDiff(ctx, "", change)

	case models.ChangeModify:
		if original == nil {
			return MergeResult{Error: fmt.Sprintf("modify change for missing file %s", change.FilePath)}
		}
		if change.Content != "" {
			return MergeResult{Content: change.Content, Success: true}
		}
		return m.applyDiff(ctx, *original, change)
	}
	return MergeResult{Error: "unknown change type " + change.Type}
}

func (m *Merger) applyDiff(ctx context.Context, original string, change models.FileChange) MergeResult {
	patches, err := m.dmp.PatchFromText(change.Diff)
	if err == nil && len(patches) > 0 {
		merged, applied := m.dmp.PatchApply(patches, original)
		if allApplied(applied) {
			return MergeResult{Content: merged, Success: true}
		}
		err = fmt.Errorf("patch did not apply cleanly to %s", change.FilePath)
	} else if err == nil {
		err = fmt.Errorf("empty patch for %s", change.FilePath)
	}

	if m.llmMerge == nil {
		return MergeResult{Error: fmt.Sprintf("merge failed: %v", err)}
	}

	m.logger.Debug("Patch application failed, falling back to llm merge",
		zap.String("file", change.FilePath),
		zap.Error(err),
	)
	merged, llmErr := m.llmMerge(ctx, original, change.Diff)
	if llmErr != nil {
		return MergeResult{Error: fmt.Sprintf("merge failed: %v; llm merge: %v", err, llmErr)}
	}
	return MergeResult{Content: merged, Success: true}
}

func allApplied(applied []bool) bool {
	for _, ok := range applied {
		if !ok {
			return false
		}
	}
	return len(applied) > 0
}
