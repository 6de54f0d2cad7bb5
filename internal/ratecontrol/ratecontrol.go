package ratecontrol

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limit caps provider traffic. Zero fields mean "no cap on that axis".
type Limit struct {
	RPM int // requests per minute
	TPM int // tokens per minute
}

var builtInProviderLimits = map[string]Limit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"gemini":    {RPM: 40, TPM: 80000},
}

// defaultLimit applies to providers with no built-in entry and no override.
var defaultLimit = Limit{RPM: 45, TPM: 90000}

type bucket struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// Pool holds one request bucket and one token bucket per provider. All
// calls to a provider, continuation hops included, wait on the same pair.
type Pool struct {
	logger *zap.Logger

	mu        sync.Mutex
	overrides map[string]Limit
	buckets   map[string]*bucket
}

func NewPool(logger *zap.Logger) *Pool {
	return &Pool{
		logger:    logger,
		overrides: make(map[string]Limit),
		buckets:   make(map[string]*bucket),
	}
}

// SetLimit overrides the limits for one provider. Replaces any existing
// bucket so new limits take effect immediately.
func (p *Pool) SetLimit(provider string, limit Limit) {
	key := normalize(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[key] = limit
	delete(p.buckets, key)
}

// LimitFor reports the effective limit for a provider.
func (p *Pool) LimitFor(provider string) Limit {
	key := normalize(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limitForLocked(key)
}

func (p *Pool) limitForLocked(key string) Limit {
	if limit, ok := p.overrides[key]; ok {
		return limit
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return limit
	}
	return defaultLimit
}

// Wait blocks until the provider's buckets admit one request carrying
// estimatedTokens tokens, or the context is cancelled.
func (p *Pool) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	b := p.bucketFor(normalize(provider))

	if b.requests != nil {
		if err := b.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if b.tokens != nil && estimatedTokens > 0 {
		n := estimatedTokens
		if burst := b.tokens.Burst(); n > burst {
			// A single oversized request may exceed the burst; admit it at
			// full burst cost rather than deadlocking.
			p.logger.Warn("Token estimate exceeds bucket burst",
				zap.String("provider", provider),
				zap.Int("estimated_tokens", estimatedTokens),
				zap.Int("burst", burst),
			)
			n = burst
		}
		if err := b.tokens.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) bucketFor(key string) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.buckets[key]; ok {
		return b
	}

	limit := p.limitForLocked(key)
	b := &bucket{}
	if limit.RPM > 0 {
		b.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit.RPM)), limit.RPM)
	}
	if limit.TPM > 0 {
		b.tokens = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	p.buckets[key] = b
	return b
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
