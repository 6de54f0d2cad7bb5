package llm

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/circuitbreaker"
	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/metrics"
	"github.com/c4h-ai/orchestrator/internal/ratecontrol"
)

// continuationPrompt is the terminal user message appended when a
// length-truncated response needs another hop.
const continuationPrompt = "Continue exactly from where you left off, maintaining the output format."

// DefaultCallTimeout bounds a single provider round trip. A timed-out
// call classifies as retriable.
const DefaultCallTimeout = 30 * time.Second

// RetryPolicy controls backoff on transient provider errors.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

// Result is a stitched completion: one logical assistant message, with
// usage summed across all continuation hops.
type Result struct {
	Content       string
	FinishReason  FinishReason
	Truncated     bool
	Usage         Usage
	Continuations int
	Duration      time.Duration
}

// Adapter issues completions with continuation stitching, classified
// retry with exponential backoff, per-call timeout, a circuit breaker and
// a rate bucket per provider.
type Adapter struct {
	logger  *zap.Logger
	pool    *ratecontrol.Pool
	retry   RetryPolicy
	timeout time.Duration
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	clients  map[string]Provider
	breakers map[string]*circuitbreaker.Breaker
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRetryPolicy overrides the default backoff policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(a *Adapter) { a.retry = policy }
}

// WithCallTimeout overrides the per-round-trip timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithProvider injects a pre-built client for the named provider. Tests
// use this to substitute scripted providers.
func WithProvider(name string, p Provider) Option {
	return func(a *Adapter) { a.clients[name] = p }
}

// WithSleeper overrides the backoff sleeper.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Adapter) { a.sleep = sleep }
}

func NewAdapter(logger *zap.Logger, pool *ratecontrol.Pool, opts ...Option) *Adapter {
	a := &Adapter{
		logger:   logger,
		pool:     pool,
		retry:    DefaultRetryPolicy(),
		timeout:  DefaultCallTimeout,
		sleep:    sleepWithContext,
		clients:  make(map[string]Provider),
		breakers: make(map[string]*circuitbreaker.Breaker),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Complete runs the full completion pipeline for one agent call: resolve
// the provider client and key, then loop provider round trips until the
// response is complete or the continuation budget runs out.
func (a *Adapter) Complete(ctx context.Context, view *config.AgentView, system, user string) (*Result, error) {
	start := time.Now()

	apiKey, err := a.resolveKey(view)
	if err != nil {
		return nil, err
	}
	client := a.clientFor(view.Provider)

	maxHops := 0
	if view.Continuation.Enabled {
		maxHops = view.Continuation.MaxAttempts
	}

	messages := []Message{{Role: RoleUser, Content: user}}
	result := &Result{}

	for hop := 0; ; hop++ {
		req := Request{
			Model:       view.Model,
			System:      system,
			Messages:    messages,
			Temperature: view.Temperature,
			MaxTokens:   view.MaxTokens,
			BaseURL:     view.BaseURL,
			APIKey:      apiKey,
		}

		estimate := a.estimateRequest(view.Model, req)
		if hop > 0 {
			estimate += view.Continuation.TokenBuffer
		}
		if err := a.pool.Wait(ctx, view.Provider, estimate); err != nil {
			return nil, err
		}

		resp, err := a.completeWithRetry(ctx, view.Provider, client, req)
		if err != nil {
			metrics.LLMCalls.WithLabelValues(view.Provider, "error").Inc()
			return nil, err
		}
		metrics.LLMCalls.WithLabelValues(view.Provider, "ok").Inc()
		metrics.LLMTokensUsed.WithLabelValues(view.Provider, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(view.Provider, "completion").Add(float64(resp.Usage.CompletionTokens))

		result.Content += resp.Content
		result.Usage.add(resp.Usage)
		result.FinishReason = resp.FinishReason

		if resp.FinishReason != FinishLength {
			break
		}
		if result.Continuations >= maxHops {
			result.Truncated = true
			a.logger.Warn("Continuation budget exhausted, returning partial content",
				zap.String("provider", view.Provider),
				zap.String("model", view.Model),
				zap.Int("continuations", result.Continuations),
			)
			break
		}

		result.Continuations++
		metrics.LLMContinuations.WithLabelValues(view.Provider).Inc()
		messages = append(messages,
			Message{Role: RoleAssistant, Content: resp.Content},
			Message{Role: RoleUser, Content: continuationPrompt},
		)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (a *Adapter) resolveKey(view *config.AgentView) (string, error) {
	if view.APIKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(view.APIKeyEnv)
	if key == "" {
		return "", &Error{
			Provider: view.Provider,
			Kind:     KindAuth,
			Message:  "environment variable " + view.APIKeyEnv + " is not set",
		}
	}
	return key, nil
}

func (a *Adapter) estimateRequest(model string, req Request) int {
	parts := make([]string, 0, len(req.Messages)+1)
	if req.System != "" {
		parts = append(parts, req.System)
	}
	for _, m := range req.Messages {
		parts = append(parts, m.Content)
	}
	return ratecontrol.EstimateTokens(model, parts...)
}

func (a *Adapter) completeWithRetry(ctx context.Context, provider string, client Provider, req Request) (*Response, error) {
	breaker := a.breakerFor(provider)

	for attempt := 0; ; attempt++ {
		var resp *Response
		err := breaker.Execute(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			r, callErr := client.Complete(callCtx, req)
			if callErr != nil {
				return callErr
			}
			resp = r
			return nil
		})
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if !Retriable(err) || attempt >= a.retry.MaxRetries {
			return nil, err
		}

		delay := backoffDelay(a.retry, attempt)
		metrics.LLMRetries.WithLabelValues(provider, errorKind(err)).Inc()
		a.logger.Warn("Provider call failed, backing off",
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if sleepErr := a.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

func errorKind(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return string(perr.Kind)
	}
	return string(KindUnknown)
}

func (a *Adapter) clientFor(provider string) Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	if client, ok := a.clients[provider]; ok {
		return client
	}
	client := ClientFor(provider, a.logger)
	a.clients[provider] = client
	return client
}

func (a *Adapter) breakerFor(provider string) *circuitbreaker.Breaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if breaker, ok := a.breakers[provider]; ok {
		return breaker
	}
	cfg := circuitbreaker.DefaultConfig()
	// Only transient availability failures should trip the breaker.
	cfg.IsFailure = Retriable
	breaker := circuitbreaker.New(provider, cfg, a.logger)
	a.breakers[provider] = breaker
	return breaker
}
