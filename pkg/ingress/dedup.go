package ingress

import (
	"context"
	"sync"
	"time"
)

type dedupEntry struct {
	accepted  int
	timestamp time.Time
}

// dedupCache remembers request ids for a bounded time so retried pushes are
// not dispatched twice.
type dedupCache struct {
	entries map[string]*dedupEntry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	cancel  context.CancelFunc
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries: make(map[string]*dedupEntry),
		ttl:     ttl,
		now:     time.Now,
		cancel:  cancel,
	}

	go cache.cleanup(ctx)

	return cache
}

// claim reserves requestID. It returns false and the previously accepted
// count when the id was seen within the TTL.
func (dc *dedupCache) claim(requestID string, accepted int) (int, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	if entry, ok := dc.entries[requestID]; ok && now.Sub(entry.timestamp) <= dc.ttl {
		return entry.accepted, false
	}

	dc.entries[requestID] = &dedupEntry{accepted: accepted, timestamp: now}
	return accepted, true
}

func (dc *dedupCache) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dc.evictExpired()
		}
	}
}

func (dc *dedupCache) evictExpired() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	for id, entry := range dc.entries {
		if now.Sub(entry.timestamp) > dc.ttl {
			delete(dc.entries, id)
		}
	}
}

func (dc *dedupCache) size() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return len(dc.entries)
}

func (dc *dedupCache) stop() {
	dc.cancel()
}
