// Package cache provides Redis-backed caches for read-heavy count queries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tireshop/internal/core/id"
	"tireshop/internal/domain/inventorycount"
)

const progressKeyPrefix = "inventory_count:progress:"

// ProgressCache stores count progress in Redis with a TTL.
// Writers invalidate the entry, so the TTL only bounds staleness after a missed invalidation.
type ProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ inventorycount.ProgressCache = (*ProgressCache)(nil)

// NewProgressCache creates a progress cache.
func NewProgressCache(client *redis.Client, ttl time.Duration) *ProgressCache {
	return &ProgressCache{client: client, ttl: ttl}
}

func progressKey(countID id.ID) string {
	return progressKeyPrefix + countID.String()
}

// Get returns the cached progress, or nil on a miss.
func (c *ProgressCache) Get(ctx context.Context, countID id.ID) (*inventorycount.Progress, error) {
	raw, err := c.client.Get(ctx, progressKey(countID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	var p inventorycount.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Set.
		return nil, nil
	}
	return &p, nil
}

// Set stores progress for the configured TTL.
func (c *ProgressCache) Set(ctx context.Context, countID id.ID, p inventorycount.Progress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := c.client.Set(ctx, progressKey(countID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// Invalidate drops the cached progress of a count.
func (c *ProgressCache) Invalidate(ctx context.Context, countID id.ID) error {
	if err := c.client.Del(ctx, progressKey(countID)).Err(); err != nil {
		return fmt.Errorf("invalidate progress: %w", err)
	}
	return nil
}
