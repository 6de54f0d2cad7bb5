package lineage

import "time"

// Metrics carries the per-invocation accounting copied into each event.
type Metrics struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	DurationMS       int64 `json:"duration_ms"`
	Continuations    int   `json:"continuations"`
}

// Event is one append-only lineage record. ParentID links events into a
// forest rooted at the workflow root; (WorkflowRunID, Step) is unique.
type Event struct {
	EventID        string         `json:"event_id"`
	WorkflowRunID  string         `json:"workflow_run_id"`
	ParentID       string         `json:"parent_id,omitempty"`
	AgentKind      string         `json:"agent_kind"`
	Step           int            `json:"step"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	InputSnapshot  map[string]any `json:"input_snapshot,omitempty"`
	OutputSnapshot map[string]any `json:"output_snapshot,omitempty"`
	Metrics        Metrics        `json:"metrics"`
	Error          string         `json:"error,omitempty"`
}
