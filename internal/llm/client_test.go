package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenAIClientComplete(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"content": "hello"},
				"finish_reason": "length",
			}},
			"usage": map[string]any{
				"prompt_tokens":     10,
				"completion_tokens": 5,
				"total_tokens":      15,
			},
		})
	}))
	defer server.Close()

	client := newOpenAIClient("openai", zaptest.NewLogger(t))
	resp, err := client.Complete(context.Background(), Request{
		Model:     "gpt-4o",
		System:    "be terse",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 256,
		BaseURL:   server.URL,
		APIKey:    "sk-test",
	})
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)

	// System prompt travels as the leading message.
	msgs := gotPayload["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, FinishLength, resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAIClientClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{429, KindRateLimit},
		{500, KindOverloaded},
		{503, KindOverloaded},
		{401, KindAuth},
		{400, KindInvalidRequest},
		{404, KindInvalidRequest},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))

		client := newOpenAIClient("openai", zaptest.NewLogger(t))
		_, err := client.Complete(context.Background(), Request{
			Model:    "gpt-4o",
			Messages: []Message{{Role: RoleUser, Content: "hi"}},
			BaseURL:  server.URL,
		})
		server.Close()

		var perr *Error
		require.ErrorAs(t, err, &perr, "status %d", tc.status)
		assert.Equal(t, tc.kind, perr.Kind, "status %d", tc.status)
		assert.Equal(t, tc.status, perr.Status)
	}
}

func TestAnthropicClientComplete(t *testing.T) {
	var gotVersion, gotKey string
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "stitch me"}},
			"stop_reason": "max_tokens",
			"usage":       map[string]any{"input_tokens": 20, "output_tokens": 8},
		})
	}))
	defer server.Close()

	client := newAnthropicClient("anthropic", zaptest.NewLogger(t))
	resp, err := client.Complete(context.Background(), Request{
		Model:    "claude-3-5-sonnet",
		System:   "be terse",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		BaseURL:  server.URL,
		APIKey:   "ak-test",
	})
	require.NoError(t, err)

	assert.Equal(t, anthropicVersion, gotVersion)
	assert.Equal(t, "ak-test", gotKey)
	assert.Equal(t, "be terse", gotPayload["system"])
	// max_tokens is mandatory on this API; unset caps get the default.
	assert.Equal(t, float64(anthropicDefaultMaxTokens), gotPayload["max_tokens"])

	assert.Equal(t, "stitch me", resp.Content)
	assert.Equal(t, FinishLength, resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.PromptTokens)
	assert.Equal(t, 8, resp.Usage.CompletionTokens)
	assert.Equal(t, 28, resp.Usage.TotalTokens)
}

func TestClassifyTransportTimeout(t *testing.T) {
	err := classifyTransport("openai", context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, err.Kind)
	assert.True(t, err.Retriable())
}

func TestRetriableKinds(t *testing.T) {
	assert.True(t, Retriable(&Error{Kind: KindRateLimit}))
	assert.True(t, Retriable(&Error{Kind: KindOverloaded}))
	assert.True(t, Retriable(&Error{Kind: KindTimeout}))
	assert.False(t, Retriable(&Error{Kind: KindAuth}))
	assert.False(t, Retriable(&Error{Kind: KindInvalidRequest}))
	assert.False(t, Retriable(&Error{Kind: KindContentFilter}))
}
