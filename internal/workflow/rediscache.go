package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/models"
)

const cacheTTL = 24 * time.Hour

// Cache mirrors terminal records into Redis so sibling instances behind
// one load balancer can answer GET lookups for workflows they did not
// run. Cache misses are not errors; the in-memory store and the durable
// mirror remain authoritative.
type Cache struct {
	logger *zap.Logger
	client *redis.Client
}

func NewCache(logger *zap.Logger, addr string) *Cache {
	return &Cache{
		logger: logger,
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func cacheKey(workflowID string) string { return "c4h:workflow:" + workflowID }

// Store writes the record under its id. Failures are logged, never
// surfaced; the cache is best-effort.
func (c *Cache) Store(ctx context.Context, rec *models.WorkflowRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("workflow not cacheable", zap.String("workflow_id", rec.WorkflowID), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(rec.WorkflowID), data, cacheTTL).Err(); err != nil {
		c.logger.Warn("workflow cache write failed", zap.String("workflow_id", rec.WorkflowID), zap.Error(err))
	}
}

// Load reads a cached record, or false on miss or backend trouble.
func (c *Cache) Load(ctx context.Context, workflowID string) (*models.WorkflowRecord, bool) {
	data, err := c.client.Get(ctx, cacheKey(workflowID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("workflow cache read failed", zap.String("workflow_id", workflowID), zap.Error(err))
		}
		return nil, false
	}
	var rec models.WorkflowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("workflow cache entry corrupt", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, false
	}
	return &rec, true
}

func (c *Cache) Close() error { return c.client.Close() }
