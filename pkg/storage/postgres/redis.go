package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// CacheConfig configures the Redis read-through cache
type CacheConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	ChainTTL   time.Duration
	RulesTTL   time.Duration
}

// RedisCache caches resource chains and protection rule lists under
// generation-versioned keys; superseded entries are never deleted, they age
// out by TTL. Credentials, memberships and job state are never cached.
type RedisCache struct {
	client   *redis.Client
	config   CacheConfig
	onLookup func(kind string, hit bool)
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(config CacheConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheFromClient(client, config), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, config CacheConfig) *RedisCache {
	if config.ChainTTL == 0 {
		config.ChainTTL = time.Minute
	}
	if config.RulesTTL == 0 {
		config.RulesTTL = time.Minute
	}
	return &RedisCache{client: client, config: config}
}

// OnLookup registers a callback invoked on every cache lookup
func (c *RedisCache) OnLookup(fn func(kind string, hit bool)) {
	c.onLookup = fn
}

func (c *RedisCache) observe(kind string, hit bool) {
	if c.onLookup != nil {
		c.onLookup(kind, hit)
	}
}

func chainKey(gen int64, ref access.ResourceRef) string {
	return fmt.Sprintf("chain:g%d:%s:%d", gen, ref.Kind, ref.ID)
}

func rulesKey(projectID, gen int64, packageType string) string {
	return fmt.Sprintf("rules:%d:g%d:%s", projectID, gen, packageType)
}

// get decodes a cached JSON value. Returns false on a miss.
func (c *RedisCache) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.client.Del(ctx, key)
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetChain returns a chain cached at generation gen, or nil on a miss
func (c *RedisCache) GetChain(ctx context.Context, gen int64, ref access.ResourceRef) ([]*access.Resource, error) {
	var chain []*access.Resource
	hit, err := c.get(ctx, chainKey(gen, ref), &chain)
	c.observe("chain", hit)
	if err != nil || !hit {
		return nil, err
	}
	return chain, nil
}

// SetChain caches a chain at generation gen. Failures are ignored; the
// database stays the source of truth.
func (c *RedisCache) SetChain(ctx context.Context, gen int64, ref access.ResourceRef, chain []*access.Resource) {
	_ = c.set(ctx, chainKey(gen, ref), chain, c.config.ChainTTL)
}

// GetRules returns rules cached at generation gen, or nil on a miss
func (c *RedisCache) GetRules(ctx context.Context, projectID, gen int64, packageType string) ([]access.ProtectionRule, error) {
	var rules []access.ProtectionRule
	hit, err := c.get(ctx, rulesKey(projectID, gen, packageType), &rules)
	c.observe("rules", hit)
	if err != nil || !hit {
		return nil, err
	}
	if rules == nil {
		rules = make([]access.ProtectionRule, 0)
	}
	return rules, nil
}

// SetRules caches the rules of a project for a package type at generation gen
func (c *RedisCache) SetRules(ctx context.Context, projectID, gen int64, packageType string, rules []access.ProtectionRule) {
	_ = c.set(ctx, rulesKey(projectID, gen, packageType), rules, c.config.RulesTTL)
}

// Client returns the underlying client for health checks
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// HealthCheck pings Redis
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
