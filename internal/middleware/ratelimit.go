package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
)

// RateLimiter gives every client IP a fixed budget of requests per window
type RateLimiter struct {
	clients map[string]*clientBucket
	mu      sync.Mutex
	rate    int           // requests per window
	window  time.Duration // time window
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type clientBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter and starts its stale-client janitor
func NewRateLimiter(requestsPerWindow int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientBucket),
		rate:    requestsPerWindow,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go rl.cleanup(5 * time.Minute)

	return rl
}

// Middleware returns the Fiber handler. A rate of zero disables limiting.
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.rate <= 0 {
			return c.Next()
		}

		if wait, ok := rl.allow(c.IP()); !ok {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(wait.Seconds()+0.5)))
			return apperrors.ErrRateLimited.WithDetails(map[string]int{"retry_after": int(wait.Seconds() + 0.5)})
		}

		return c.Next()
	}
}

// allow takes a token for clientID, or reports how long until the bucket refills
func (rl *RateLimiter) allow(clientID string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	bucket, exists := rl.clients[clientID]
	if !exists {
		bucket = &clientBucket{
			tokens:     rl.rate,
			lastRefill: now,
		}
		rl.clients[clientID] = bucket
	}

	if now.Sub(bucket.lastRefill) >= rl.window {
		bucket.tokens = rl.rate
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return 0, true
	}

	wait := rl.window - now.Sub(bucket.lastRefill)
	if wait < time.Second {
		wait = time.Second
	}
	return wait, false
}

// cleanup removes clients idle for two windows
func (rl *RateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	now := rl.now()
	for clientID, bucket := range rl.clients {
		if now.Sub(bucket.lastRefill) > 2*rl.window {
			delete(rl.clients, clientID)
			removed++
		}
	}
	return removed
}

// Close stops the janitor
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}
