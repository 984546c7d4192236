package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// RequestCache memoizes the lookups of a single access evaluation so that
// each resource chain, membership set, link and rule list is read at most
// once per request no matter how many stages ask for it. Concurrent callers
// of the same key share one backend call.
//
// A RequestCache must not outlive the request that created it.
type RequestCache struct {
	backend Reader
	group   singleflight.Group

	mu           sync.Mutex
	values       map[string]interface{}
	backendCalls int
}

// NewRequestCache wraps backend for one evaluation
func NewRequestCache(backend Reader) *RequestCache {
	return &RequestCache{
		backend: backend,
		values:  make(map[string]interface{}),
	}
}

// BackendCalls returns how many lookups reached the backend
func (c *RequestCache) BackendCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backendCalls
}

func (c *RequestCache) load(key string, fetch func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if v, ok := c.values[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		if v, ok := c.values[key]; ok {
			c.mu.Unlock()
			return v, nil
		}
		c.backendCalls++
		c.mu.Unlock()

		v, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.values[key] = v
		c.mu.Unlock()
		return v, nil
	})
	return v, err
}

// GetResource returns the first element of the cached chain
func (c *RequestCache) GetResource(ctx context.Context, ref access.ResourceRef) (*access.Resource, error) {
	chain, err := c.GetResourceChain(ctx, ref)
	if err != nil {
		return nil, err
	}
	return chain[0], nil
}

// GetResourceChain returns the memoized resource chain
func (c *RequestCache) GetResourceChain(ctx context.Context, ref access.ResourceRef) ([]*access.Resource, error) {
	v, err := c.load("chain:"+ref.String(), func() (interface{}, error) {
		return c.backend.GetResourceChain(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*access.Resource), nil
}

// MembershipLevels returns the memoized direct levels of a user
func (c *RequestCache) MembershipLevels(ctx context.Context, userID int64, refs []access.ResourceRef) (map[access.ResourceRef]access.AccessLevel, error) {
	v, err := c.load(membershipKey(userID, refs), func() (interface{}, error) {
		return c.backend.MembershipLevels(ctx, userID, refs)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[access.ResourceRef]access.AccessLevel), nil
}

// GetJobTokenLink returns the memoized link, or nil
func (c *RequestCache) GetJobTokenLink(ctx context.Context, targetProjectID, sourceProjectID int64) (*access.JobTokenLink, error) {
	v, err := c.load(fmt.Sprintf("link:%d:%d", targetProjectID, sourceProjectID), func() (interface{}, error) {
		return c.backend.GetJobTokenLink(ctx, targetProjectID, sourceProjectID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*access.JobTokenLink), nil
}

// ListProtectionRules returns the memoized rules of a project
func (c *RequestCache) ListProtectionRules(ctx context.Context, projectID int64, packageType string) ([]access.ProtectionRule, error) {
	v, err := c.load(fmt.Sprintf("rules:%d:%s", projectID, packageType), func() (interface{}, error) {
		return c.backend.ListProtectionRules(ctx, projectID, packageType)
	})
	if err != nil {
		return nil, err
	}
	return v.([]access.ProtectionRule), nil
}

func membershipKey(userID int64, refs []access.ResourceRef) string {
	parts := make([]string, len(refs))
	for i, ref := range refs {
		parts[i] = ref.String()
	}
	sort.Strings(parts)
	return fmt.Sprintf("members:%d:%s", userID, strings.Join(parts, ","))
}

var _ Reader = (*RequestCache)(nil)
