// Package models holds the domain types shared across the agent, skill,
// orchestration and API layers.
package models

import "time"

// Workflow statuses. These are the only values the API emits.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Change types a solution can request.
const (
	ChangeCreate = "create"
	ChangeModify = "modify"
	ChangeDelete = "delete"
)

// FileChange is one requested edit. Create and modify changes must carry
// content or a diff.
type FileChange struct {
	FilePath    string `json:"file_path"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	Diff        string `json:"diff,omitempty"`
}

// Validate checks the FileChange invariants.
func (c *FileChange) Validate() error {
	if c.FilePath == "" {
		return &ValidationError{Field: "file_path", Message: "file_path is required"}
	}
	switch c.Type {
	case ChangeCreate, ChangeModify:
		if c.Content == "" && c.Diff == "" {
			return &ValidationError{Field: "content", Message: "create/modify changes need content or diff"}
		}
	case ChangeDelete:
	default:
		return &ValidationError{Field: "type", Message: "unknown change type " + c.Type}
	}
	return nil
}

// ValidationError reports a malformed domain object.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Messages captures the conversation an agent ran.
type Messages struct {
	System    string `json:"system,omitempty"`
	User      string `json:"user,omitempty"`
	Assistant string `json:"assistant,omitempty"`
}

// Metrics is the per-invocation accounting attached to agent results and
// lineage events.
type Metrics struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	DurationMS       int64 `json:"duration_ms"`
	Continuations    int   `json:"continuations"`
}

// AgentResult is the uniform agent outcome. Success=false implies a
// non-empty Error; Success=true implies Data is well-formed for the kind.
type AgentResult struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Messages Messages       `json:"messages"`
	Metrics  Metrics        `json:"metrics"`
}

// TaskResult is one task execution inside a team.
type TaskResult struct {
	TaskName  string      `json:"task_name"`
	AgentKind string      `json:"agent_kind"`
	Attempts  int         `json:"attempts"`
	Result    AgentResult `json:"result"`
}

// TeamResult summarizes one team execution. Data is the union of the
// successful tasks' output data.
type TeamResult struct {
	TeamID      string         `json:"team_id"`
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	TaskResults []TaskResult   `json:"task_results"`
	NextTeam    string         `json:"next_team,omitempty"`
}

// WorkflowRecord tracks one workflow from submission to completion. It is
// created on submission and mutated only by the orchestrator that owns it.
type WorkflowRecord struct {
	WorkflowID    string                `json:"workflow_id"`
	Status        string                `json:"status"`
	StoragePath   string                `json:"storage_path"`
	Error         string                `json:"error,omitempty"`
	ExecutionPath []string              `json:"execution_path"`
	TeamResults   map[string]TeamResult `json:"team_results"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at,omitempty"`
}

// Clone returns a deep enough copy for readers: slices and maps are
// copied so a committed snapshot never changes under the caller.
func (r *WorkflowRecord) Clone() *WorkflowRecord {
	clone := *r
	clone.ExecutionPath = append([]string(nil), r.ExecutionPath...)
	if r.TeamResults != nil {
		clone.TeamResults = make(map[string]TeamResult, len(r.TeamResults))
		for k, v := range r.TeamResults {
			clone.TeamResults[k] = v
		}
	}
	return &clone
}
