package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCacheClaim(t *testing.T) {
	cache := newDedupCache(context.Background(), time.Minute)
	defer cache.stop()

	accepted, fresh := cache.claim("req-1", 3)
	assert.True(t, fresh)
	assert.Equal(t, 3, accepted)

	accepted, fresh = cache.claim("req-1", 7)
	assert.False(t, fresh)
	assert.Equal(t, 3, accepted, "duplicate reports the first count")

	_, fresh = cache.claim("req-2", 1)
	assert.True(t, fresh)
	assert.Equal(t, 2, cache.size())
}

func TestDedupCacheExpiry(t *testing.T) {
	cache := newDedupCache(context.Background(), time.Minute)
	defer cache.stop()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.claim("req-1", 1)
	cache.claim("req-2", 1)

	now = now.Add(2 * time.Minute)
	_, fresh := cache.claim("req-1", 4)
	assert.True(t, fresh, "expired ids can be reused")

	cache.evictExpired()
	assert.Equal(t, 1, cache.size())
}

func TestDedupCacheDefaultTTL(t *testing.T) {
	cache := newDedupCache(context.Background(), 0)
	defer cache.stop()

	assert.Equal(t, 5*time.Minute, cache.ttl)
}
