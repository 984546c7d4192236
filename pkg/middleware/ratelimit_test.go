package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/observability"
)

func TestMemoryLimiter(t *testing.T) {
	config := RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2}
	limiter := NewMemoryLimiter(config)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 20; i++ {
		if ok, _ := limiter.Allow(ctx, "ip:1"); ok {
			allowed++
		}
	}
	assert.Equal(t, 12, allowed)

	ok, err := limiter.Allow(ctx, "ip:2")
	require.NoError(t, err)
	assert.True(t, ok, "keys have separate buckets")

	now = now.Add(500 * time.Millisecond)
	allowed = 0
	for i := 0; i < 10; i++ {
		if ok, _ := limiter.Allow(ctx, "ip:1"); ok {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed, "half a window refills half the rate")

	now = now.Add(5 * time.Second)
	limiter.Cleanup()
	assert.Empty(t, limiter.buckets)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewRedisLimiter(client, RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "ip:1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("registrygate:ratelimit:ip:1"))

	mr.FastForward(time.Minute)
	ok, err = limiter.Allow(ctx, "ip:1")
	require.NoError(t, err)
	assert.True(t, ok, "window expired")

	require.NoError(t, limiter.Reset(ctx, "ip:1"))
	assert.False(t, mr.Exists("registrygate:ratelimit:ip:1"))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	limiter := NewRedisLimiter(client, DefaultRateLimitConfig(), "")
	ok, err := limiter.Allow(context.Background(), "ip:1")
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	limiter := NewMemoryLimiter(config)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	handler := RateLimit(limiter, config, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v4/projects/1", nil)
		req.RemoteAddr = ip + ":40000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, request("192.0.2.1").Code)

	limited := request("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"message":"429 Too Many Requests"}`, limited.Body.String())

	assert.Equal(t, http.StatusNoContent, request("192.0.2.2").Code)
}

func TestRateLimitMiddleware_ForwardedForRotation(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	proxies, err := audit.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	send := func(handler http.Handler, remote, forwarded string) int {
		req := httptest.NewRequest("GET", "/api/v4/projects/1", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("direct client cannot pick its key", func(t *testing.T) {
		config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour, TrustedProxies: proxies}
		handler := RateLimit(NewMemoryLimiter(config), config, logger)(ok)

		admitted := 0
		for i := 0; i < 20; i++ {
			if send(handler, "198.51.100.7:40000", fmt.Sprintf("203.0.113.%d", i)) == http.StatusNoContent {
				admitted++
			}
		}
		assert.Equal(t, 1, admitted)
	})

	t.Run("spoofed hops behind a trusted proxy", func(t *testing.T) {
		config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour, TrustedProxies: proxies}
		handler := RateLimit(NewMemoryLimiter(config), config, logger)(ok)

		admitted := 0
		for i := 0; i < 20; i++ {
			forwarded := fmt.Sprintf("203.0.113.%d, 198.51.100.7", i)
			if send(handler, "10.0.0.2:40000", forwarded) == http.StatusNoContent {
				admitted++
			}
		}
		assert.Equal(t, 1, admitted)

		assert.Equal(t, http.StatusNoContent, send(handler, "10.0.0.2:40000", "198.51.100.8"), "another client behind the proxy")
	})

	t.Run("no trusted proxies", func(t *testing.T) {
		config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour}
		handler := RateLimit(NewMemoryLimiter(config), config, logger)(ok)

		assert.Equal(t, http.StatusNoContent, send(handler, "10.0.0.2:40000", "203.0.113.1"))
		assert.Equal(t, http.StatusTooManyRequests, send(handler, "10.0.0.2:40000", "203.0.113.2"))
	})
}
