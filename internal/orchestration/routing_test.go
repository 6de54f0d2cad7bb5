package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/c4h-ai/orchestrator/internal/models"
)

func taskOutcomes(successes ...bool) []models.TaskResult {
	tasks := make([]models.TaskResult, len(successes))
	for i, ok := range successes {
		tasks[i] = models.TaskResult{Result: models.AgentResult{Success: ok}}
	}
	return tasks
}

func TestEvalConditionPredicates(t *testing.T) {
	cases := []struct {
		condition string
		successes []bool
		want      bool
	}{
		{"all_success", []bool{true, true}, true},
		{"all_success", []bool{true, false}, false},
		{"any_failure", []bool{true, false}, true},
		{"any_failure", []bool{true, true}, false},
		{"any_success", []bool{false, true}, true},
		{"all_failure", []bool{false, false}, true},
		{"all_failure", []bool{false, true}, false},
		{"not all_success", []bool{true, false}, true},
		{"all_success and any_failure", []bool{true, false}, false},
		{"all_success or any_failure", []bool{true, false}, true},
	}
	for _, tc := range cases {
		got, err := evalCondition(tc.condition, routeEnv{tasks: taskOutcomes(tc.successes...)})
		require.NoError(t, err, tc.condition)
		assert.Equal(t, tc.want, got, tc.condition)
	}
}

func TestEvalConditionPaths(t *testing.T) {
	scope := map[string]any{
		"data": map[string]any{
			"changes": []any{map[string]any{"file": "a.go"}},
			"typed":   []models.FileChange{{FilePath: "b.go"}},
			"count":   3,
			"empty":   []any{},
			"flag":    true,
			"name":    "x",
		},
	}
	cases := []struct {
		condition string
		want      bool
	}{
		{"data.changes.length > 0", true},
		{"data.changes.length > 1", false},
		{"data.typed.length == 1", true},
		{"data.empty.length == 0", true},
		{"data.count >= 3", true},
		{"data.count != 3", false},
		{"data.flag", true},
		{"data.name", true},
		{"data.missing", false},
		{"data.empty", false},
		{"data.flag and data.changes.length > 0", true},
		{"not data.flag", false},
		{"(data.missing or data.flag) and data.count < 10", true},
	}
	for _, tc := range cases {
		got, err := evalCondition(tc.condition, routeEnv{scope: scope})
		require.NoError(t, err, tc.condition)
		assert.Equal(t, tc.want, got, tc.condition)
	}
}

func TestEvalConditionErrors(t *testing.T) {
	scope := map[string]any{"data": map[string]any{"name": "x"}}
	for _, condition := range []string{
		"",
		"data.missing > 0",
		"data.name > 0",
		"data.name >",
		"data.name > abc",
		"(all_success",
		"all_success extra",
		"data.name = 1",
	} {
		_, err := evalCondition(condition, routeEnv{scope: scope})
		assert.Error(t, err, condition)
	}
}

func TestRoutingFirstMatchWins(t *testing.T) {
	next := func(s string) *string { return &s }
	routing := Routing{
		Rules: []Rule{
			{Condition: "any_failure", NextTeam: next("fallback")},
			{Condition: "all_success", NextTeam: next("coder")},
			{Condition: "all_success", NextTeam: next("never")},
		},
		Default: next("default_team"),
	}
	logger := zaptest.NewLogger(t)

	got := routing.Next(logger, taskOutcomes(true), nil)
	require.NotNil(t, got)
	assert.Equal(t, "coder", *got)

	got = routing.Next(logger, taskOutcomes(false), nil)
	require.NotNil(t, got)
	assert.Equal(t, "fallback", *got)
}

func TestRoutingEvalErrorFallsThrough(t *testing.T) {
	next := func(s string) *string { return &s }
	routing := Routing{
		Rules: []Rule{
			{Condition: "data.missing > 0", NextTeam: next("broken")},
			{Condition: "all_success", NextTeam: next("good")},
		},
	}
	got := routing.Next(zaptest.NewLogger(t), taskOutcomes(true), map[string]any{"data": map[string]any{}})
	require.NotNil(t, got)
	assert.Equal(t, "good", *got)
}

func TestRoutingNoMatchUsesDefault(t *testing.T) {
	routing := Routing{Rules: []Rule{{Condition: "any_failure"}}}
	assert.Nil(t, routing.Next(zaptest.NewLogger(t), taskOutcomes(true), nil))

	def := "next"
	routing.Default = &def
	got := routing.Next(zaptest.NewLogger(t), taskOutcomes(true), nil)
	require.NotNil(t, got)
	assert.Equal(t, "next", *got)
}

func TestRoutingMatchedNilNextEndsWorkflow(t *testing.T) {
	def := "elsewhere"
	routing := Routing{
		Rules:   []Rule{{Condition: "any_failure", NextTeam: nil}},
		Default: &def,
	}
	assert.Nil(t, routing.Next(zaptest.NewLogger(t), taskOutcomes(false), nil))
}
