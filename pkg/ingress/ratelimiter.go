package ingress

import (
	"sync"
	"time"
)

// RateLimiter implements per-IP rate limiting with a sliding window.
type RateLimiter struct {
	requests    map[string][]time.Time
	limit       int
	window      time.Duration
	now         func() time.Time
	mu          sync.Mutex
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter allows limit requests per window for each IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}

	rl := &RateLimiter{
		requests:    make(map[string][]time.Time),
		limit:       limit,
		window:      window,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.startCleanup(5 * window)

	return rl
}

// Allow records a request from ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.prune(rl.requests[ip], now)

	if len(valid) >= rl.limit {
		rl.requests[ip] = valid
		return false
	}

	rl.requests[ip] = append(valid, now)
	return true
}

// RetryAfter returns the whole seconds until ip may make another request.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	reqs := rl.requests[ip]
	if len(reqs) == 0 {
		return 0
	}

	wait := rl.window - rl.now().Sub(reqs[0])
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

func (rl *RateLimiter) prune(reqs []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(reqs) && now.Sub(reqs[i]) >= rl.window {
		i++
	}
	return reqs[i:]
}

func (rl *RateLimiter) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup forgets IPs with no requests inside the window.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, reqs := range rl.requests {
		valid := rl.prune(reqs, now)
		if len(valid) == 0 {
			delete(rl.requests, ip)
		} else {
			rl.requests[ip] = valid
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
