package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/models"
)

// SolutionDesigner asks the model for a change set and validates the
// JSON it returns.
type SolutionDesigner struct {
	deps     Deps
	view     *config.AgentView
	system   string
	template string
}

func NewSolutionDesigner(deps Deps) (*SolutionDesigner, error) {
	view, err := config.ResolveAgentView(deps.Config, KindSolutionDesigner)
	if err != nil {
		return nil, err
	}
	system, err := view.Prompt("system")
	if err != nil {
		return nil, fmt.Errorf("solution_designer: %w", err)
	}
	template, err := view.Prompt("solution")
	if err != nil {
		return nil, fmt.Errorf("solution_designer: %w", err)
	}
	if err := RequirePlaceholders(template, "source_code", "intent"); err != nil {
		return nil, fmt.Errorf("solution_designer solution template: %w", err)
	}
	return &SolutionDesigner{deps: deps, view: view, system: system, template: template}, nil
}

func (s *SolutionDesigner) Kind() string { return KindSolutionDesigner }

func (s *SolutionDesigner) Process(ctx context.Context, wctx Context) models.AgentResult {
	started := time.Now()
	handle := issue(s.deps)

	sourceCode := discoveryOutput(wctx)
	intent := wctx.IntentDescription()

	inputSnapshot := map[string]any{
		"intent":          intent,
		"source_code_len": len(sourceCode),
	}

	if sourceCode == "" {
		result := fail("input_error", models.Messages{}, models.Metrics{}, nil, "discovery output missing from input_data")
		emit(s.deps, handle, KindSolutionDesigner, started, inputSnapshot, nil, result.Metrics, result.Error)
		return result
	}
	if intent == "" {
		result := fail("input_error", models.Messages{}, models.Metrics{}, nil, "intent.description missing from context")
		emit(s.deps, handle, KindSolutionDesigner, started, inputSnapshot, nil, result.Metrics, result.Error)
		return result
	}

	user := Render(s.template, map[string]string{
		"source_code": sourceCode,
		"intent":      intent,
	})
	msgs := models.Messages{System: s.system, User: user}

	completion, err := s.deps.Adapter.Complete(ctx, s.view, s.system, user)
	if err != nil {
		result := fail(llmErrorKind(err), msgs, models.Metrics{DurationMS: time.Since(started).Milliseconds()}, nil, err.Error())
		emit(s.deps, handle, KindSolutionDesigner, started, inputSnapshot, nil, result.Metrics, result.Error)
		return result
	}

	msgs.Assistant = completion.Content
	metrics := metricsFromLLM(completion)
	rawData := map[string]any{"raw_output": completion.Content}

	if completion.Truncated {
		result := fail("parse_error", msgs, metrics, rawData, "response truncated after continuation budget")
		emit(s.deps, handle, KindSolutionDesigner, started, inputSnapshot, rawData, metrics, result.Error)
		return result
	}

	changes, perr := parseChanges(completion.Content)
	if perr != nil {
		s.deps.Logger.Warn("Solution response failed to parse", zap.Error(perr))
		result := fail("parse_error", msgs, metrics, rawData, perr.Error())
		emit(s.deps, handle, KindSolutionDesigner, started, inputSnapshot, rawData, metrics, result.Error)
		return result
	}

	data := map[string]any{"changes": changes}
	emit(s.deps, handle, KindSolutionDesigner, started, inputSnapshot,
		map[string]any{"change_count": len(changes)}, metrics, "")

	return models.AgentResult{
		Success:  true,
		Data:     data,
		Messages: msgs,
		Metrics:  metrics,
	}
}

// discoveryOutput finds the scanner manifest: nested discovery_data from
// a prior team, or flat raw_output when sharing a team.
func discoveryOutput(wctx Context) string {
	input := wctx.InputData()
	if input == nil {
		return ""
	}
	if nested, ok := input["discovery_data"].(map[string]any); ok {
		if raw, ok := nested["raw_output"].(string); ok {
			return raw
		}
	}
	if raw, ok := input["raw_output"].(string); ok {
		return raw
	}
	return ""
}

func parseChanges(content string) ([]models.FileChange, error) {
	doc, err := ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Changes []models.FileChange `json:"changes"`
	}
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	if len(payload.Changes) == 0 {
		return nil, fmt.Errorf("no changes in response")
	}
	for i := range payload.Changes {
		if err := payload.Changes[i].Validate(); err != nil {
			return nil, fmt.Errorf("change %d (%s): %w", i, payload.Changes[i].FilePath, err)
		}
	}
	return payload.Changes, nil
}

// llmErrorKind maps adapter errors onto the taxonomy.
func llmErrorKind(err error) string {
	if llmRetriable(err) {
		return "llm_transient"
	}
	return "llm_permanent"
}
