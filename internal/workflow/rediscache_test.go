package workflow

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/c4h-ai/orchestrator/internal/models"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	cache := NewCache(zaptest.NewLogger(t), srv.Addr())
	t.Cleanup(func() { cache.Close() })
	return cache, srv
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	rec := record("wf_1", models.StatusSuccess)
	rec.ExecutionPath = []string{"discovery", "coder"}
	cache.Store(ctx, rec)

	got, ok := cache.Load(ctx, "wf_1")
	require.True(t, ok)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, rec.ExecutionPath, got.ExecutionPath)

	_, ok = cache.Load(ctx, "wf_unknown")
	assert.False(t, ok)
}

func TestCacheEntriesExpire(t *testing.T) {
	cache, srv := testCache(t)
	ctx := context.Background()

	cache.Store(ctx, record("wf_1", models.StatusError))
	srv.FastForward(cacheTTL * 2)

	_, ok := cache.Load(ctx, "wf_1")
	assert.False(t, ok)
}

func TestCacheSurvivesBackendLoss(t *testing.T) {
	cache, srv := testCache(t)
	ctx := context.Background()
	srv.Close()

	cache.Store(ctx, record("wf_1", models.StatusSuccess))
	_, ok := cache.Load(ctx, "wf_1")
	assert.False(t, ok)
}
