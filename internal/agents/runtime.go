package agents

import (
	"time"

	"github.com/c4h-ai/orchestrator/internal/lineage"
	"github.com/c4h-ai/orchestrator/internal/llm"
	"github.com/c4h-ai/orchestrator/internal/models"
)

// fail builds the uniform failure result. Error strings start with the
// taxonomy token (input_error, parse_error, ...) so routing predicates
// and operators can match on it.
func fail(kind string, msgs models.Messages, metrics models.Metrics, data map[string]any, errMsg string) models.AgentResult {
	return models.AgentResult{
		Success:  false,
		Data:     data,
		Error:    kind + ": " + errMsg,
		Messages: msgs,
		Metrics:  metrics,
	}
}

func metricsFromLLM(result *llm.Result) models.Metrics {
	return models.Metrics{
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		DurationMS:       result.Duration.Milliseconds(),
		Continuations:    result.Continuations,
	}
}

// emit records one lineage event. Recording never fails the agent.
func emit(deps Deps, handle lineage.Handle, agentKind string, started time.Time,
	input, output map[string]any, metrics models.Metrics, errMsg string) {
	if deps.Recorder == nil || deps.Lineage == nil {
		return
	}
	deps.Recorder.Record(&lineage.Event{
		EventID:        handle.EventID,
		WorkflowRunID:  deps.Lineage.WorkflowRunID(),
		ParentID:       handle.ParentID,
		AgentKind:      agentKind,
		Step:           handle.Step,
		StartedAt:      started.UTC(),
		FinishedAt:     time.Now().UTC(),
		InputSnapshot:  input,
		OutputSnapshot: output,
		Metrics: lineage.Metrics{
			PromptTokens:     metrics.PromptTokens,
			CompletionTokens: metrics.CompletionTokens,
			TotalTokens:      metrics.TotalTokens,
			DurationMS:       metrics.DurationMS,
			Continuations:    metrics.Continuations,
		},
		Error: errMsg,
	})
}

func llmRetriable(err error) bool {
	return llm.Retriable(err)
}

// issue reserves a lineage handle, tolerating absent lineage wiring in
// unit tests.
func issue(deps Deps) lineage.Handle {
	if deps.Lineage == nil {
		return lineage.Handle{}
	}
	return deps.Lineage.Issue()
}
