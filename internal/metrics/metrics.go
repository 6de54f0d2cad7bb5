package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "c4h_workflows_started_total",
			Help: "Total number of workflows started",
		},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_workflows_completed_total",
			Help: "Total number of workflows completed",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "c4h_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Team metrics
	TeamExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_team_executions_total",
			Help: "Total number of team executions",
		},
		[]string{"team_id", "status"},
	)

	TeamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "c4h_team_retries_total",
			Help: "Total number of team-level retries",
		},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent_kind", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "c4h_agent_execution_duration_ms",
			Help:    "Agent execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 120000},
		},
		[]string{"agent_kind"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_task_retries_total",
			Help: "Total number of per-task retries",
		},
		[]string{"agent_kind"},
	)

	// LLM metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_llm_calls_total",
			Help: "Total number of LLM provider round trips",
		},
		[]string{"provider", "status"},
	)

	LLMContinuations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_llm_continuations_total",
			Help: "Total number of continuation hops issued for truncated responses",
		},
		[]string{"provider"},
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_llm_retries_total",
			Help: "Total number of LLM call retries after transient errors",
		},
		[]string{"provider", "kind"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_llm_tokens_total",
			Help: "Total tokens consumed, by provider and direction",
		},
		[]string{"provider", "direction"},
	)

	// Lineage metrics
	LineageEventsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c4h_lineage_events_written_total",
			Help: "Total number of lineage events persisted",
		},
		[]string{"backend"},
	)

	LineageEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "c4h_lineage_events_dropped_total",
			Help: "Total number of lineage events dropped after exhausting retries",
		},
	)
)
