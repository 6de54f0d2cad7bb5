// Package orchestration drives the team graph for one workflow: team
// construction from configuration, sequential task execution with
// retries, routing between teams, and the workflow driver loop.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/agents"
	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/lineage"
	"github.com/c4h-ai/orchestrator/internal/metrics"
	"github.com/c4h-ai/orchestrator/internal/models"
	"github.com/c4h-ai/orchestrator/internal/tracing"
)

// TaskSpec is one task slot in a team, resolved from configuration.
type TaskSpec struct {
	Name             string
	AgentKind        string
	RequiresApproval bool
	MaxRetries       int
	RetryDelay       time.Duration

	// Overlay is merged over the workflow's effective configuration for
	// this task only. Paths mirror the top-level schema, so a fallback
	// task can pin llm_config.agents.coder.temperature to 0.
	Overlay config.Tree
}

// Team runs its tasks strictly in order and routes to the next team.
type Team struct {
	ID      string
	Name    string
	Tasks   []TaskSpec
	Routing Routing

	// StopOnFailure aborts the remaining task list once a task has
	// exhausted its retries. Defaults to true.
	StopOnFailure bool
}

// TeamDeps is the execution environment shared by every team of one
// workflow. Agent carries the workflow-scoped collaborators; its Config
// is the effective tree task overlays merge onto.
type TeamDeps struct {
	Logger   *zap.Logger
	Registry *agents.Registry
	Agent    agents.Deps
	Sleep    func(time.Duration)
}

// Execute runs the task list against wctx, which it mutates: each
// successful task's data lands in input_data, both flat and under
// "<agent_kind>_data", so downstream agents can read the latest output
// or address a specific upstream stage. Callers owning the original
// context pass a clone.
func (t *Team) Execute(ctx context.Context, deps TeamDeps, wctx agents.Context) models.TeamResult {
	ctx, span := tracing.StartTeamSpan(ctx, t.ID)
	defer span.End()

	logger := deps.Logger.With(zap.String("team_id", t.ID))
	wctx["team_id"] = t.ID

	result := models.TeamResult{
		TeamID:  t.ID,
		Success: true,
		Data:    map[string]any{},
	}

	for _, spec := range t.Tasks {
		if ctx.Err() != nil {
			result.Success = false
			result.Error = "workflow canceled"
			break
		}
		if spec.RequiresApproval {
			// No interactive operator in automated runs; the gate
			// auto-approves and the decision is visible in the log.
			logger.Info("approval gate auto-approved", zap.String("task", spec.Name))
		}

		task := t.runTask(ctx, deps, logger, spec, wctx)
		result.TaskResults = append(result.TaskResults, task)

		if task.Result.Success {
			mergeTaskData(wctx, spec.AgentKind, task.Result.Data, result.Data)
			appendSequence(wctx, spec.AgentKind, deps.Agent.Lineage)
			continue
		}

		result.Success = false
		if result.Error == "" {
			result.Error = task.Result.Error
		}
		if t.StopOnFailure {
			logger.Warn("task failed, stopping team",
				zap.String("task", spec.Name),
				zap.String("error", task.Result.Error))
			break
		}
	}

	scope := map[string]any{
		"data":    result.Data,
		"context": map[string]any(wctx),
	}
	if next := t.Routing.Next(logger, result.TaskResults, scope); next != nil {
		result.NextTeam = *next
	}

	status := "success"
	if !result.Success {
		status = "error"
	}
	metrics.TeamExecutions.WithLabelValues(t.ID, status).Inc()
	return result
}

// runTask executes one task with per-task retries. Every attempt is a
// fresh agent invocation; lineage parent-links each retry to the prior
// attempt through the sibling chain.
func (t *Team) runTask(ctx context.Context, deps TeamDeps, logger *zap.Logger, spec TaskSpec, wctx agents.Context) models.TaskResult {
	task := models.TaskResult{TaskName: spec.Name, AgentKind: spec.AgentKind}

	agentDeps := deps.Agent
	if len(spec.Overlay) > 0 {
		agentDeps.Config = config.Merge(agentDeps.Config, spec.Overlay)
	}
	agent, err := deps.Registry.Build(spec.AgentKind, agentDeps)
	if err != nil {
		task.Attempts = 1
		task.Result = models.AgentResult{
			Success: false,
			Error:   "config_error: " + err.Error(),
		}
		return task
	}

	for attempt := 0; ; attempt++ {
		started := time.Now()
		attemptCtx, span := tracing.StartAgentSpan(ctx, spec.AgentKind)
		task.Result = agent.Process(attemptCtx, wctx)
		span.End()
		task.Attempts++

		status := "success"
		if !task.Result.Success {
			status = "error"
		}
		metrics.AgentExecutions.WithLabelValues(spec.AgentKind, status).Inc()
		metrics.AgentExecutionDuration.WithLabelValues(spec.AgentKind).
			Observe(float64(time.Since(started).Milliseconds()))

		if task.Result.Success || attempt >= spec.MaxRetries || ctx.Err() != nil {
			return task
		}

		metrics.TaskRetries.WithLabelValues(spec.AgentKind).Inc()
		logger.Warn("task failed, retrying",
			zap.String("task", spec.Name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", spec.MaxRetries),
			zap.String("error", task.Result.Error))
		if spec.RetryDelay > 0 && deps.Sleep != nil {
			deps.Sleep(spec.RetryDelay)
		}
	}
}

func mergeTaskData(wctx agents.Context, kind string, data, teamData map[string]any) {
	if data == nil {
		return
	}
	input := wctx.InputData()
	if input == nil {
		input = map[string]any{}
		wctx["input_data"] = input
	}
	for k, v := range data {
		input[k] = v
		teamData[k] = v
	}
	input[kind+"_data"] = data
	teamData[kind+"_data"] = data
}

// appendSequence records the completed invocation in the context's
// agent_sequence, tying the stage to its lineage event.
func appendSequence(wctx agents.Context, kind string, lin *lineage.Context) {
	entry := map[string]any{"agent_kind": kind}
	if lin != nil {
		if h, ok := lin.LastIssued(); ok {
			entry["execution_id"] = h.EventID
			entry["step"] = h.Step
			wctx["step"] = h.Step
		}
	}
	seq, _ := wctx["agent_sequence"].([]any)
	wctx["agent_sequence"] = append(seq, entry)
}

// ParseTeams builds the team graph from orchestration.teams.
func ParseTeams(cfg config.Tree) (map[string]*Team, error) {
	teamsTree, err := cfg.GetTree("orchestration.teams")
	if err != nil {
		return nil, err
	}
	if len(teamsTree) == 0 {
		return nil, config.NewError("orchestration.teams", "no teams configured")
	}

	teams := make(map[string]*Team, len(teamsTree))
	for id := range teamsTree {
		tree, err := teamsTree.GetTree(id)
		if err != nil {
			return nil, err
		}
		team, err := parseTeam(id, tree)
		if err != nil {
			return nil, err
		}
		teams[id] = team
	}
	return teams, nil
}

func parseTeam(id string, tree config.Tree) (*Team, error) {
	path := "orchestration.teams." + id
	team := &Team{
		ID:            id,
		Name:          tree.GetString("display_name", id),
		StopOnFailure: tree.GetBool("stop_on_failure", true),
	}

	rawTasks := tree.GetList("tasks")
	if len(rawTasks) == 0 {
		return nil, config.NewError(path+".tasks", "a team needs at least one task")
	}
	for i, raw := range rawTasks {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, config.NewError(fmt.Sprintf("%s.tasks[%d]", path, i), "expected a mapping, found %T", raw)
		}
		taskTree := config.Tree(m)
		spec := TaskSpec{
			Name:             taskTree.GetString("task_name", ""),
			AgentKind:        taskTree.GetString("agent_kind", ""),
			RequiresApproval: taskTree.GetBool("requires_approval", false),
			MaxRetries:       taskTree.GetInt("max_retries", 0),
			RetryDelay:       time.Duration(taskTree.GetInt("retry_delay_seconds", 0)) * time.Second,
		}
		if spec.AgentKind == "" {
			return nil, config.NewError(fmt.Sprintf("%s.tasks[%d].agent_kind", path, i), "agent_kind is required")
		}
		if spec.Name == "" {
			spec.Name = spec.AgentKind
		}
		overlay, err := taskTree.GetTree("config")
		if err != nil {
			return nil, err
		}
		spec.Overlay = overlay
		team.Tasks = append(team.Tasks, spec)
	}

	routing, err := parseRouting(path, tree)
	if err != nil {
		return nil, err
	}
	team.Routing = routing
	return team, nil
}

func parseRouting(teamPath string, tree config.Tree) (Routing, error) {
	var routing Routing
	routingTree, err := tree.GetTree("routing")
	if err != nil {
		return routing, err
	}
	if routingTree == nil {
		return routing, nil
	}

	for i, raw := range routingTree.GetList("rules") {
		m, ok := raw.(map[string]any)
		if !ok {
			return routing, config.NewError(
				fmt.Sprintf("%s.routing.rules[%d]", teamPath, i), "expected a mapping, found %T", raw)
		}
		rule := Rule{Condition: config.Tree(m).GetString("condition", "")}
		if rule.Condition == "" {
			return routing, config.NewError(
				fmt.Sprintf("%s.routing.rules[%d].condition", teamPath, i), "condition is required")
		}
		if next, ok := m["next_team"].(string); ok && next != "" {
			rule.NextTeam = &next
		}
		routing.Rules = append(routing.Rules, rule)
	}

	if def, ok := routingTree.Get("default"); ok {
		if s, ok := def.(string); ok && s != "" {
			routing.Default = &s
		}
	}
	return routing, nil
}
