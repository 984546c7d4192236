package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// setupRedisCacheTest creates a miniredis instance and a cache connected to it
func setupRedisCacheTest(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	cache, err := NewRedisCache(CacheConfig{
		URL:      "redis://" + mr.Addr(),
		ChainTTL: 30 * time.Second,
		RulesTTL: time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, mr
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCache(CacheConfig{URL: "not-a-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewRedisCache_ConnectionFailure(t *testing.T) {
	_, err := NewRedisCache(CacheConfig{URL: "redis://127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisCache_Chain(t *testing.T) {
	cache, mr := setupRedisCacheTest(t)
	ctx := context.Background()

	var lookups []bool
	cache.OnLookup(func(kind string, hit bool) {
		assert.Equal(t, "chain", kind)
		lookups = append(lookups, hit)
	})

	ref := access.ProjectRef(10)
	chain, err := cache.GetChain(ctx, 0, ref)
	require.NoError(t, err)
	assert.Nil(t, chain)

	parent := int64(1)
	cache.SetChain(ctx, 0, ref, []*access.Resource{
		{ID: 10, Kind: access.KindProject, Path: "acme/widgets", Visibility: access.VisibilityPrivate, ParentID: &parent,
			Features: map[access.Feature]access.FeatureAccess{access.FeaturePackageRegistry: access.FeaturePublic}},
		{ID: 1, Kind: access.KindGroup, Path: "acme", Visibility: access.VisibilityInternal},
	})

	chain, err = cache.GetChain(ctx, 0, ref)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "acme/widgets", chain[0].Path)
	assert.Equal(t, access.FeaturePublic, chain[0].Features[access.FeaturePackageRegistry])
	assert.Equal(t, access.VisibilityInternal, chain[1].Visibility)
	assert.Equal(t, []bool{false, true}, lookups)

	ttl := mr.TTL(chainKey(0, ref))
	assert.Equal(t, 30*time.Second, ttl)

	chain, err = cache.GetChain(ctx, 1, ref)
	require.NoError(t, err)
	assert.Nil(t, chain, "entries of an older generation are not served")
}

func TestRedisCache_CorruptChainIsDropped(t *testing.T) {
	cache, mr := setupRedisCacheTest(t)
	ref := access.GroupRef(3)

	require.NoError(t, mr.Set(chainKey(4, ref), "{not json"))

	chain, err := cache.GetChain(context.Background(), 4, ref)
	assert.Error(t, err)
	assert.Nil(t, chain)
	assert.False(t, mr.Exists(chainKey(4, ref)))
}

func TestRedisCache_Rules(t *testing.T) {
	cache, _ := setupRedisCacheTest(t)
	ctx := context.Background()

	rules, err := cache.GetRules(ctx, 10, 0, "generic")
	require.NoError(t, err)
	assert.Nil(t, rules)

	cache.SetRules(ctx, 10, 0, "generic", []access.ProtectionRule{
		{ID: 1, ProjectID: 10, PackageType: "generic", NamePattern: "mypackage", MinimumAccessLevelForPush: access.LevelMaintainer},
	})
	cache.SetRules(ctx, 10, 0, "", []access.ProtectionRule{})
	cache.SetRules(ctx, 11, 0, "generic", []access.ProtectionRule{})

	rules, err = cache.GetRules(ctx, 10, 0, "generic")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, access.LevelMaintainer, rules[0].MinimumAccessLevelForPush)

	rules, err = cache.GetRules(ctx, 10, 0, "")
	require.NoError(t, err)
	assert.NotNil(t, rules)
	assert.Empty(t, rules)

	rules, err = cache.GetRules(ctx, 10, 1, "generic")
	require.NoError(t, err)
	assert.Nil(t, rules)

	rules, err = cache.GetRules(ctx, 11, 0, "generic")
	require.NoError(t, err)
	assert.NotNil(t, rules)
}

func TestRedisCache_UnavailableIsAMiss(t *testing.T) {
	cache, mr := setupRedisCacheTest(t)
	ctx := context.Background()

	mr.SetError("LOADING redis is loading the dataset")
	cache.SetRules(ctx, 10, 0, "generic", []access.ProtectionRule{})

	rules, err := cache.GetRules(ctx, 10, 0, "generic")
	assert.Error(t, err)
	assert.Nil(t, rules)
}

func TestRedisCache_HealthCheck(t *testing.T) {
	cache, mr := setupRedisCacheTest(t)
	assert.NoError(t, cache.HealthCheck(context.Background()))

	mr.SetError("LOADING redis is loading the dataset")
	assert.Error(t, cache.HealthCheck(context.Background()))
}
