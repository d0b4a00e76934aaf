package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix  = "billing:subscription:"
	DefaultSnapshotTTL = 5 * time.Minute
)

// SnapshotCache stores live subscription snapshots between status queries.
type SnapshotCache interface {
	Get(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, bool)
	Set(ctx context.Context, snap *SubscriptionSnapshot)
	Invalidate(ctx context.Context, subscriptionID string)
}

// RedisSnapshotCache keeps snapshots as JSON strings with a TTL. Cache
// failures are logged and treated as misses.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

func (c *RedisSnapshotCache) Get(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, bool) {
	raw, err := c.client.Get(ctx, snapshotKeyPrefix+subscriptionID).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("[Billing] Snapshot cache read failed for %s: %v", subscriptionID, err)
		}
		return nil, false
	}
	var snap SubscriptionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		log.Warnf("[Billing] Snapshot cache entry for %s is corrupt: %v", subscriptionID, err)
		return nil, false
	}
	return &snap, true
}

func (c *RedisSnapshotCache) Set(ctx context.Context, snap *SubscriptionSnapshot) {
	if snap == nil || snap.ID == "" {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, snapshotKeyPrefix+snap.ID, raw, c.ttl).Err(); err != nil {
		log.Warnf("[Billing] Snapshot cache write failed for %s: %v", snap.ID, err)
	}
}

func (c *RedisSnapshotCache) Invalidate(ctx context.Context, subscriptionID string) {
	if subscriptionID == "" {
		return
	}
	if err := c.client.Del(ctx, snapshotKeyPrefix+subscriptionID).Err(); err != nil {
		log.Warnf("[Billing] Snapshot cache delete failed for %s: %v", subscriptionID, err)
	}
}
