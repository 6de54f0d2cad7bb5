package llm

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Provider issues one chat completion round trip against a provider API.
// Continuation stitching and retries live above this interface.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// sharedHTTPClient has no client-side timeout; per-call deadlines come
// from the request context.
var sharedHTTPClient = &http.Client{}

// ClientFor returns the wire client for a configured provider name.
// Anthropic speaks its own messages API; every other provider is assumed
// to expose an OpenAI-compatible chat completions endpoint, which is what
// openai, gemini and the local inference servers all serve.
func ClientFor(name string, logger *zap.Logger) Provider {
	if name == "anthropic" {
		return newAnthropicClient(name, logger)
	}
	return newOpenAIClient(name, logger)
}
