package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/httputil"
	"github.com/platinummonkey/registrygate/pkg/observability"
)

// RateLimitConfig bounds requests per client address
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	// BurstSize is added on top of RequestsPerWindow by the in-memory limiter
	BurstSize int
	// TrustedProxies may set the client address through forwarding headers.
	// When nil the peer address is the key.
	TrustedProxies *audit.TrustedProxies
}

// DefaultRateLimitConfig allows 600 requests a minute with a burst of 60
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         60,
	}
}

// Limiter admits or rejects a request for key
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter is a per-process token bucket limiter
type MemoryLimiter struct {
	config RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewMemoryLimiter creates an in-memory limiter
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryLimiter) capacity() float64 {
	return float64(l.config.RequestsPerWindow + l.config.BurstSize)
}

// Allow takes one token from key's bucket, refilling it at
// RequestsPerWindow per WindowDuration
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity(), lastUpdate: now}
		l.buckets[key] = b
	}

	rate := float64(l.config.RequestsPerWindow) / l.config.WindowDuration.Seconds()
	b.tokens += now.Sub(b.lastUpdate).Seconds() * rate
	if b.tokens > l.capacity() {
		b.tokens = l.capacity()
	}
	b.lastUpdate = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Cleanup drops buckets idle for two windows
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.lastUpdate) > 2*l.config.WindowDuration {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (l *MemoryLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RedisLimiter is a fixed-window limiter shared by every instance
type RedisLimiter struct {
	client *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "registrygate:ratelimit"
	}
	return &RedisLimiter{client: client, config: config, prefix: prefix}
}

// Allow counts the request in the current window
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}
	return count <= int64(l.config.RequestsPerWindow), nil
}

// Reset clears the window of key
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}

// RateLimit rejects clients over their limit with 429. Limiter errors fail
// open.
func RateLimit(limiter Limiter, config RateLimitConfig, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + config.TrustedProxies.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).Warn("rate limiter unavailable")
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(config.WindowDuration.Seconds())))
				httputil.WriteMessage(w, http.StatusTooManyRequests, "429 Too Many Requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
