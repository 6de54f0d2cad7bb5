package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/ratecontrol"
)

func testView(provider string) *config.AgentView {
	return &config.AgentView{
		Kind:     "solution_designer",
		Provider: provider,
		Model:    "claude-3-5-sonnet",
		Continuation: config.ContinuationSettings{
			Enabled:     true,
			MaxAttempts: config.DefaultContinuationAttempts,
			TokenBuffer: config.DefaultContinuationBuffer,
		},
	}
}

func uncappedPool(t *testing.T, provider string) *ratecontrol.Pool {
	pool := ratecontrol.NewPool(zaptest.NewLogger(t))
	pool.SetLimit(provider, ratecontrol.Limit{})
	return pool
}

func TestCompleteStitchesContinuations(t *testing.T) {
	scripted := NewScripted("anthropic",
		ScriptedStep{Response: &Response{
			Content:      `{"changes": [{"file_path": "a.go",`,
			FinishReason: FinishLength,
			Usage:        Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		}},
		ScriptedStep{Response: &Response{
			Content:      ` "type": "modify"}]}`,
			FinishReason: FinishStop,
			Usage:        Usage{PromptTokens: 160, CompletionTokens: 12, TotalTokens: 172},
		}},
	)

	adapter := NewAdapter(zaptest.NewLogger(t), uncappedPool(t, "anthropic"),
		WithProvider("anthropic", scripted))

	result, err := adapter.Complete(context.Background(), testView("anthropic"), "design changes", "refactor it")
	require.NoError(t, err)

	assert.Equal(t, `{"changes": [{"file_path": "a.go", "type": "modify"}]}`, result.Content)
	assert.Equal(t, FinishStop, result.FinishReason)
	assert.False(t, result.Truncated)
	assert.Equal(t, 1, result.Continuations)

	// Usage is summed across both hops.
	assert.Equal(t, 260, result.Usage.PromptTokens)
	assert.Equal(t, 62, result.Usage.CompletionTokens)
	assert.Equal(t, 322, result.Usage.TotalTokens)

	// The second hop carries the partial assistant message and the
	// continuation instruction as the terminal user message.
	require.Len(t, scripted.Requests, 2)
	second := scripted.Requests[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, RoleAssistant, second.Messages[1].Role)
	assert.Equal(t, `{"changes": [{"file_path": "a.go",`, second.Messages[1].Content)
	assert.Equal(t, RoleUser, second.Messages[2].Role)
	assert.Equal(t, continuationPrompt, second.Messages[2].Content)
}

func TestCompleteTruncatesWhenBudgetExhausted(t *testing.T) {
	scripted := NewScripted("anthropic",
		ScriptedStep{Response: &Response{Content: "partial", FinishReason: FinishLength}},
	)

	view := testView("anthropic")
	view.Continuation.MaxAttempts = 0

	adapter := NewAdapter(zaptest.NewLogger(t), uncappedPool(t, "anthropic"),
		WithProvider("anthropic", scripted))

	result, err := adapter.Complete(context.Background(), view, "", "go")
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Equal(t, FinishLength, result.FinishReason)
	assert.Equal(t, "partial", result.Content)
	assert.Equal(t, 0, result.Continuations)
	require.Len(t, scripted.Requests, 1)
}

func TestCompleteDisabledContinuationTruncates(t *testing.T) {
	scripted := NewScripted("anthropic",
		ScriptedStep{Response: &Response{Content: "partial", FinishReason: FinishLength}},
	)

	view := testView("anthropic")
	view.Continuation.Enabled = false

	adapter := NewAdapter(zaptest.NewLogger(t), uncappedPool(t, "anthropic"),
		WithProvider("anthropic", scripted))

	result, err := adapter.Complete(context.Background(), view, "", "go")
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	require.Len(t, scripted.Requests, 1)
}

func TestCompleteBacksOffOnRateLimit(t *testing.T) {
	rateLimited := &Error{Provider: "anthropic", Kind: KindRateLimit, Status: 429, Message: "slow down"}
	scripted := NewScripted("anthropic",
		ScriptedStep{Err: rateLimited},
		ScriptedStep{Err: rateLimited},
		ScriptedStep{Err: rateLimited},
		ScriptedStep{Response: &Response{Content: "done", FinishReason: FinishStop}},
	)

	var slept []time.Duration
	adapter := NewAdapter(zaptest.NewLogger(t), uncappedPool(t, "anthropic"),
		WithProvider("anthropic", scripted),
		WithRetryPolicy(RetryPolicy{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 80 * time.Millisecond}),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)

	result, err := adapter.Complete(context.Background(), testView("anthropic"), "", "go")
	require.NoError(t, err)
	assert.Equal(t, "done", result.Content)

	// Exponential backoff: 1x, 2x, 4x the initial delay.
	require.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, slept)
	require.Len(t, scripted.Requests, 4)
}

func TestCompletePermanentErrorFailsFast(t *testing.T) {
	scripted := NewScripted("openai",
		ScriptedStep{Err: &Error{Provider: "openai", Kind: KindInvalidRequest, Status: 400, Message: "bad model"}},
	)

	var slept []time.Duration
	adapter := NewAdapter(zaptest.NewLogger(t), uncappedPool(t, "openai"),
		WithProvider("openai", scripted),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)

	view := testView("openai")
	view.Provider = "openai"
	_, err := adapter.Complete(context.Background(), view, "", "go")
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindInvalidRequest, perr.Kind)
	assert.Empty(t, slept, "permanent errors must not back off")
	require.Len(t, scripted.Requests, 1)
}

func TestCompleteMissingAPIKey(t *testing.T) {
	scripted := NewScripted("anthropic")

	view := testView("anthropic")
	view.APIKeyEnv = "C4H_TEST_KEY_THAT_IS_NEVER_SET"

	adapter := NewAdapter(zaptest.NewLogger(t), uncappedPool(t, "anthropic"),
		WithProvider("anthropic", scripted))

	_, err := adapter.Complete(context.Background(), view, "", "go")
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindAuth, perr.Kind)
	assert.Empty(t, scripted.Requests, "no provider call without a key")
}

func TestBackoffDelayCaps(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: 30 * time.Second}

	assert.Equal(t, time.Second, backoffDelay(policy, 0))
	assert.Equal(t, 2*time.Second, backoffDelay(policy, 1))
	assert.Equal(t, 16*time.Second, backoffDelay(policy, 4))
	assert.Equal(t, 30*time.Second, backoffDelay(policy, 5))
	assert.Equal(t, 30*time.Second, backoffDelay(policy, 20))
}
