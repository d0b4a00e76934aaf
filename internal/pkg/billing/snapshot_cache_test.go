package billing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSnapshotCache(t *testing.T) (*RedisSnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSnapshotCache(client, time.Minute), mr
}

func TestRedisSnapshotCache_RoundTrip(t *testing.T) {
	cache, mr := newTestSnapshotCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "sub_1")
	assert.False(t, ok)

	end := time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC)
	cache.Set(ctx, &SubscriptionSnapshot{ID: "sub_1", Status: "active", PriceID: "price_starter", CurrentPeriodEnd: &end})
	assert.True(t, mr.Exists("billing:subscription:sub_1"))

	snap, ok := cache.Get(ctx, "sub_1")
	require.True(t, ok)
	assert.Equal(t, "price_starter", snap.PriceID)
	assert.True(t, end.Equal(*snap.CurrentPeriodEnd))

	cache.Invalidate(ctx, "sub_1")
	_, ok = cache.Get(ctx, "sub_1")
	assert.False(t, ok)
}

func TestRedisSnapshotCache_Expires(t *testing.T) {
	cache, mr := newTestSnapshotCache(t)
	ctx := context.Background()

	cache.Set(ctx, &SubscriptionSnapshot{ID: "sub_1", Status: "active"})
	mr.FastForward(2 * time.Minute)

	_, ok := cache.Get(ctx, "sub_1")
	assert.False(t, ok)
}

func TestRedisSnapshotCache_FailuresAreMisses(t *testing.T) {
	cache, mr := newTestSnapshotCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("billing:subscription:sub_bad", "{broken"))
	_, ok := cache.Get(ctx, "sub_bad")
	assert.False(t, ok)

	mr.Close()
	cache.Set(ctx, &SubscriptionSnapshot{ID: "sub_1"})
	_, ok = cache.Get(ctx, "sub_1")
	assert.False(t, ok)
	cache.Invalidate(ctx, "sub_1")
}

func TestServiceUsesSnapshotCache(t *testing.T) {
	env := newTestEnv(t)
	cache, _ := newTestSnapshotCache(t)
	env.svc.cache = cache
	user := customerUser(1, "pilot@valley.test")
	org := env.createOrg(t, user)
	env.setFields(t, org.ID, map[string]interface{}{"stripe_subscription_id": "sub_1"})
	env.gateway.AddSubscription(SubscriptionSnapshot{ID: "sub_1", Status: "active", PriceID: "price_starter"})

	status, err := env.svc.GetSubscriptionStatus(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, status.Subscription)

	env.gateway.Subscriptions["sub_1"].PriceID = "price_enterprise"
	status, err = env.svc.GetSubscriptionStatus(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "price_starter", status.Subscription.PriceID, "served from cache")

	env.deliver(t, Event{
		ID:           "evt_sub",
		Type:         EventSubscriptionUpdated,
		Subscription: &SubscriptionSnapshot{ID: "sub_1", CustomerID: org.CustomerID(), Status: "active", PriceID: "price_enterprise"},
	})
	status, err = env.svc.GetSubscriptionStatus(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "price_enterprise", status.Subscription.PriceID)
}
