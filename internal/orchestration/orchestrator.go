package orchestration

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/agents"
	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/lineage"
	"github.com/c4h-ai/orchestrator/internal/llm"
	"github.com/c4h-ai/orchestrator/internal/metrics"
	"github.com/c4h-ai/orchestrator/internal/models"
	"github.com/c4h-ai/orchestrator/internal/scanner"
	"github.com/c4h-ai/orchestrator/internal/skills"
	"github.com/c4h-ai/orchestrator/internal/tracing"
	"github.com/c4h-ai/orchestrator/internal/workflow"
)

const defaultMaxTeams = 10

// Request is one workflow submission.
type Request struct {
	ProjectPath  string
	Intent       map[string]any
	SystemConfig config.Tree
	AppConfig    config.Tree
}

// Options wires an orchestrator. Defaults supplies the server-level
// configuration snapshot the overlays merge onto.
type Options struct {
	Logger      *zap.Logger
	Registry    *agents.Registry
	Adapter     *llm.Adapter
	Scanner     *scanner.Scanner
	Recorder    *lineage.Recorder
	Store       *workflow.Store
	Mirror      *workflow.Mirror
	Index       *workflow.Index
	Cache       *workflow.Cache
	Defaults    func() config.Tree
	BackupsRoot string

	// Sleep is the retry delay hook, replaceable in tests.
	Sleep func(time.Duration)
}

// Orchestrator owns workflow execution: initialization, the team driver
// loop, and terminal status bookkeeping. One orchestrator serves many
// concurrent workflows; each workflow runs sequentially end to end.
type Orchestrator struct {
	opts Options
}

func New(opts Options) *Orchestrator {
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Defaults == nil {
		opts.Defaults = func() config.Tree { return config.Tree{} }
	}
	return &Orchestrator{opts: opts}
}

// Plan is an initialized workflow: resolved configuration, parsed team
// graph, and the initial context.
type Plan struct {
	WorkflowID string
	Effective  config.Tree
	Teams      map[string]*Team
	Entry      string
	Context    agents.Context
}

// InitializeWorkflow merges the configuration overlays, assigns the run
// id, and preflights the team graph. The returned plan always carries a
// workflow id, even when initialization fails.
func (o *Orchestrator) InitializeWorkflow(req Request) (*Plan, error) {
	plan := &Plan{WorkflowID: "wf_" + uuid.NewString()}

	if req.ProjectPath == "" {
		return plan, fmt.Errorf("config_error: project_path is required")
	}

	plan.Effective = config.MergeAll(o.opts.Defaults(), req.SystemConfig, req.AppConfig)

	teams, err := ParseTeams(plan.Effective)
	if err != nil {
		return plan, fmt.Errorf("config_error: %w", err)
	}
	plan.Teams = teams

	plan.Entry = plan.Effective.GetString("orchestration.entry_team", "discovery")
	if err := o.preflight(plan); err != nil {
		return plan, err
	}

	plan.Context = agents.Context{
		"workflow_run_id": plan.WorkflowID,
		"project_path":    req.ProjectPath,
		"intent":          req.Intent,
		"input_data":      map[string]any{},
	}
	return plan, nil
}

// preflight rejects configurations that cannot run: a missing entry
// team, unregistered agent kinds, agents whose own initialization fails
// (missing prompts, bad templates), or provider secrets whose
// environment variables are unset. Secrets are checked by name only;
// their contents are never read into the workflow.
func (o *Orchestrator) preflight(plan *Plan) error {
	if _, ok := plan.Teams[plan.Entry]; !ok {
		return fmt.Errorf("config_error: entry team %q is not configured", plan.Entry)
	}

	kinds := map[string]bool{}
	for _, team := range plan.Teams {
		for _, task := range team.Tasks {
			kinds[task.AgentKind] = true
		}
	}
	for kind := range kinds {
		if !o.opts.Registry.Has(kind) {
			return fmt.Errorf("config_error: agent kind %q is not registered", kind)
		}
		// Construction runs each factory's own config validation, so a
		// missing prompt template fails here instead of mid-workflow.
		if _, err := o.opts.Registry.Build(kind, agents.Deps{
			Logger: o.opts.Logger,
			Config: plan.Effective,
		}); err != nil {
			return fmt.Errorf("config_error: %w", err)
		}
		view, err := config.ResolveAgentView(plan.Effective, kind)
		if err != nil {
			return fmt.Errorf("config_error: %w", err)
		}
		if view.APIKeyEnv != "" {
			if _, ok := os.LookupEnv(view.APIKeyEnv); !ok {
				return fmt.Errorf("config_error: provider %q secret %s is not set", view.Provider, view.APIKeyEnv)
			}
		}
	}
	return nil
}

// Run executes a workflow synchronously and returns its terminal record.
func (o *Orchestrator) Run(ctx context.Context, req Request) *models.WorkflowRecord {
	plan, rec, err := o.begin(req)
	if err != nil {
		return rec
	}
	o.finish(ctx, plan, rec)
	return rec.Clone()
}

// Start begins a workflow, commits its pending record, and executes it
// on its own goroutine. The returned snapshot is what the submission
// endpoint answers with.
func (o *Orchestrator) Start(req Request) *models.WorkflowRecord {
	plan, rec, err := o.begin(req)
	if err != nil {
		return rec
	}
	snapshot := rec.Clone()
	go o.finish(context.Background(), plan, rec)
	return snapshot
}

// begin initializes the workflow and commits its first record. On a
// config error the returned record is already terminal.
func (o *Orchestrator) begin(req Request) (*Plan, *models.WorkflowRecord, error) {
	started := time.Now().UTC()
	metrics.WorkflowsStarted.Inc()

	plan, err := o.InitializeWorkflow(req)
	rec := &models.WorkflowRecord{
		WorkflowID:  plan.WorkflowID,
		Status:      models.StatusPending,
		StartedAt:   started,
		TeamResults: map[string]models.TeamResult{},
	}
	if err != nil {
		o.opts.Logger.Error("workflow rejected", zap.String("workflow_id", plan.WorkflowID), zap.Error(err))
		rec.Status = models.StatusError
		rec.Error = err.Error()
		rec.FinishedAt = time.Now().UTC()
		o.commit(rec)
		return nil, rec, err
	}

	if o.opts.Mirror != nil {
		path, merr := o.opts.Mirror.Prepare(plan.WorkflowID, plan.Effective)
		if merr != nil {
			o.opts.Logger.Warn("workflow storage unavailable", zap.String("workflow_id", plan.WorkflowID), zap.Error(merr))
		} else {
			rec.StoragePath = path
		}
	}
	if o.opts.Store != nil {
		o.opts.Store.Put(rec)
	}
	return plan, rec, nil
}

// finish drives the workflow to a terminal status and commits it.
func (o *Orchestrator) finish(ctx context.Context, plan *Plan, rec *models.WorkflowRecord) {
	o.execute(ctx, plan, rec)
	rec.FinishedAt = time.Now().UTC()

	o.opts.Logger.Info("workflow finished",
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("status", rec.Status),
		zap.Strings("execution_path", rec.ExecutionPath),
		zap.Duration("duration", rec.FinishedAt.Sub(rec.StartedAt)))

	o.commit(rec)
}

func (o *Orchestrator) commit(rec *models.WorkflowRecord) {
	if o.opts.Store != nil {
		o.opts.Store.Put(rec)
	}
	if o.opts.Mirror != nil && rec.StoragePath != "" {
		if err := o.opts.Mirror.WriteResult(rec); err != nil {
			o.opts.Logger.Warn("result not mirrored", zap.String("workflow_id", rec.WorkflowID), zap.Error(err))
		}
	}

	// Index and cache are best-effort secondaries; the store and the
	// mirror stay authoritative.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if o.opts.Index != nil {
		if err := o.opts.Index.Save(ctx, rec); err != nil {
			o.opts.Logger.Warn("workflow not indexed", zap.String("workflow_id", rec.WorkflowID), zap.Error(err))
		}
	}
	if o.opts.Cache != nil {
		o.opts.Cache.Store(ctx, rec)
	}

	metrics.WorkflowsCompleted.WithLabelValues(rec.Status).Inc()
	metrics.WorkflowDuration.Observe(time.Since(rec.StartedAt).Seconds())
}

// execute is the driver loop: run the current team, append it to the
// execution path, follow its routing. The loop ends when routing yields
// no next team, when the team cap is reached, or on cancellation.
func (o *Orchestrator) execute(ctx context.Context, plan *Plan, rec *models.WorkflowRecord) {
	ctx, span := tracing.StartWorkflowSpan(ctx, plan.WorkflowID)
	defer span.End()

	eff := plan.Effective
	maxTeams := eff.GetInt("orchestration.max_teams", defaultMaxTeams)
	retryTeams := eff.GetBool("orchestration.error_handling.retry_teams", false)
	teamRetries := eff.GetInt("orchestration.error_handling.max_retries", 1)

	logger := o.opts.Logger.With(zap.String("workflow_id", plan.WorkflowID))
	lin := lineage.NewContext(plan.WorkflowID)
	agentDeps := agents.Deps{
		Logger:   logger,
		Config:   eff,
		Adapter:  o.opts.Adapter,
		Scanner:  o.opts.Scanner,
		Recorder: o.opts.Recorder,
		Lineage:  lin,
		Writer:   skills.NewAssetWriter(logger, o.opts.BackupsRoot, plan.Context.String("project_path")),
	}
	teamDeps := TeamDeps{
		Logger:   logger,
		Registry: o.opts.Registry,
		Agent:    agentDeps,
		Sleep:    o.opts.Sleep,
	}

	wctx := plan.Context
	current := plan.Entry
	firstError := ""
	var last models.TeamResult
	routedEnd := false

	for current != "" {
		if ctx.Err() != nil {
			rec.Status = models.StatusError
			rec.Error = "workflow canceled"
			return
		}
		if len(rec.ExecutionPath) >= maxTeams {
			logger.Error("team-cap exceeded", zap.Int("max_teams", maxTeams))
			rec.Status = models.StatusError
			rec.Error = "team-cap exceeded"
			return
		}

		team, ok := plan.Teams[current]
		if !ok {
			rec.Status = models.StatusError
			rec.Error = fmt.Sprintf("config_error: routing names unknown team %q", current)
			return
		}

		// Team retries restart from the context as it stood before the
		// first attempt.
		input := wctx.Clone()
		derived := wctx.Clone()
		result := team.Execute(ctx, teamDeps, derived)
		rec.ExecutionPath = append(rec.ExecutionPath, current)

		for attempt := 1; !result.Success && retryTeams && attempt <= teamRetries &&
			len(rec.ExecutionPath) < maxTeams; attempt++ {
			metrics.TeamRetries.Inc()
			logger.Warn("team failed, retrying",
				zap.String("team_id", current),
				zap.Int("attempt", attempt),
				zap.String("error", result.Error))
			derived = input.Clone()
			result = team.Execute(ctx, teamDeps, derived)
			rec.ExecutionPath = append(rec.ExecutionPath, current)
		}

		rec.TeamResults[current] = result
		if !result.Success && firstError == "" {
			firstError = result.Error
		}
		last = result
		wctx = derived
		current = result.NextTeam
		if current == "" {
			routedEnd = true
		}
	}

	if routedEnd && last.Success {
		rec.Status = models.StatusSuccess
		return
	}
	rec.Status = models.StatusError
	if firstError != "" {
		rec.Error = firstError
	} else {
		rec.Error = last.Error
	}
}
