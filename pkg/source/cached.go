// Short-lived fetch cache in front of a span source
// Absorbs bursts of identical fetches from polling views
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Cached memoises FetchSpans results for a fixed TTL. Errors are not cached.
type Cached struct {
	next   Source
	cache  *ristretto.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next. maxCost bounds the number of cached spans.
func NewCached(next Source, ttl time.Duration, maxCost int64, logger *zap.Logger) (*Cached, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCost <= 0 {
		maxCost = 100_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating fetch cache: %w", err)
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}, nil
}

func cacheKey(correlationKey, agent string, limit int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", agent, correlationKey, limit)
}

// FetchSpans returns a cached batch when one is live, else fetches and
// stores it. The returned slice must be treated as read-only.
func (c *Cached) FetchSpans(ctx context.Context, correlationKey, agent string, limit int) ([]span.Span, error) {
	key := cacheKey(correlationKey, agent, limit)
	if v, found := c.cache.Get(key); found {
		if spans, ok := v.([]span.Span); ok {
			c.logger.Debug("fetch cache hit", zap.String("agent", agent), zap.Int("spans", len(spans)))
			return spans, nil
		}
	}

	spans, err := c.next.FetchSpans(ctx, correlationKey, agent, limit)
	if err != nil {
		return nil, err
	}
	if !c.cache.SetWithTTL(key, spans, int64(len(spans))+1, c.ttl) {
		c.logger.Debug("fetch cache rejected entry", zap.String("agent", agent))
	}
	c.cache.Wait()
	return spans, nil
}

// Invalidate drops the cached batch for one fetch.
func (c *Cached) Invalidate(correlationKey, agent string, limit int) {
	c.cache.Del(cacheKey(correlationKey, agent, limit))
}

// Close releases the cache's background goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}
