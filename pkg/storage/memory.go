package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// Snapshot is the complete content of a Memory store
type Snapshot struct {
	Resources    []*access.Resource
	Users        []*User
	Memberships  []Membership
	Tokens       []*PersonalAccessToken
	DeployTokens []*DeployToken
	Jobs         []*Job
	Links        []access.JobTokenLink
	Rules        []access.ProtectionRule
}

type memberKey struct {
	userID int64
	ref    access.ResourceRef
}

type linkKey struct {
	target int64
	source int64
}

// Memory is a concurrency-safe in-memory Store
type Memory struct {
	mu           sync.RWMutex
	resources    map[access.ResourceRef]*access.Resource
	users        map[int64]*User
	members      map[memberKey]access.AccessLevel
	tokens       map[int64]*PersonalAccessToken
	deployTokens map[int64]*DeployToken
	jobs         map[int64]*Job
	links        map[linkKey]access.JobTokenLink
	rules        map[int64]access.ProtectionRule
	nextID       int64
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	m := &Memory{}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.resources = make(map[access.ResourceRef]*access.Resource)
	m.users = make(map[int64]*User)
	m.members = make(map[memberKey]access.AccessLevel)
	m.tokens = make(map[int64]*PersonalAccessToken)
	m.deployTokens = make(map[int64]*DeployToken)
	m.jobs = make(map[int64]*Job)
	m.links = make(map[linkKey]access.JobTokenLink)
	m.rules = make(map[int64]access.ProtectionRule)
	m.nextID = 0
}

func (m *Memory) allocID(id int64) int64 {
	if id == 0 {
		m.nextID++
		return m.nextID
	}
	if id > m.nextID {
		m.nextID = id
	}
	return id
}

// Replace atomically swaps the store content for the snapshot. Memberships
// are loaded without the inherited level check.
func (m *Memory) Replace(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	for _, r := range s.Resources {
		c := cloneResource(r)
		m.resources[c.Ref()] = c
		m.allocID(c.ID)
	}
	for _, u := range s.Users {
		c := *u
		m.users[c.ID] = &c
		m.allocID(c.ID)
	}
	for _, ms := range s.Memberships {
		m.members[memberKey{userID: ms.UserID, ref: ms.Resource}] = ms.Level
	}
	for _, t := range s.Tokens {
		c := *t
		c.ID = m.allocID(c.ID)
		m.tokens[c.ID] = &c
	}
	for _, t := range s.DeployTokens {
		c := *t
		c.ID = m.allocID(c.ID)
		m.deployTokens[c.ID] = &c
	}
	for _, j := range s.Jobs {
		c := *j
		c.ID = m.allocID(c.ID)
		m.jobs[c.ID] = &c
	}
	for _, l := range s.Links {
		m.links[linkKey{target: l.TargetProjectID, source: l.SourceProjectID}] = l
	}
	for _, r := range s.Rules {
		r.ID = m.allocID(r.ID)
		m.rules[r.ID] = r
	}
}

func cloneResource(r *access.Resource) *access.Resource {
	c := *r
	if r.ParentID != nil {
		parent := *r.ParentID
		c.ParentID = &parent
	}
	if r.Features != nil {
		c.Features = make(map[access.Feature]access.FeatureAccess, len(r.Features))
		for k, v := range r.Features {
			c.Features[k] = v
		}
	}
	return &c
}

// GetResource returns a copy of the resource
func (m *Memory) GetResource(ctx context.Context, ref access.ResourceRef) (*access.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.resources[ref]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", ref, ErrNotFound)
	}
	return cloneResource(r), nil
}

// GetResourceChain returns the resource and its ancestors, nearest first
func (m *Memory) GetResourceChain(ctx context.Context, ref access.ResourceRef) ([]*access.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chainLocked(ref)
}

func (m *Memory) chainLocked(ref access.ResourceRef) ([]*access.Resource, error) {
	r, ok := m.resources[ref]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", ref, ErrNotFound)
	}

	chain := []*access.Resource{cloneResource(r)}
	seen := map[access.ResourceRef]bool{ref: true}
	for parentRef, ok := r.ParentRef(); ok; parentRef, ok = r.ParentRef() {
		if seen[parentRef] {
			return nil, fmt.Errorf("resource %s has a cyclic parent chain", ref)
		}
		seen[parentRef] = true

		parent, exists := m.resources[parentRef]
		if !exists {
			return nil, fmt.Errorf("parent %s of %s: %w", parentRef, ref, ErrNotFound)
		}
		chain = append(chain, cloneResource(parent))
		r = parent
	}
	return chain, nil
}

// PutResource creates or replaces a resource
func (m *Memory) PutResource(ctx context.Context, r *access.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ParentID != nil {
		if _, ok := m.resources[access.GroupRef(*r.ParentID)]; !ok {
			return fmt.Errorf("parent group %d: %w", *r.ParentID, ErrNotFound)
		}
	}

	c := cloneResource(r)
	c.ID = m.allocID(c.ID)
	r.ID = c.ID
	m.resources[c.Ref()] = c
	return nil
}

// GetUser returns (nil, nil) when the user does not exist
func (m *Memory) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

// PutUser creates or replaces a user
func (m *Memory) PutUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *u
	c.ID = m.allocID(c.ID)
	u.ID = c.ID
	m.users[c.ID] = &c
	return nil
}

// MembershipLevels returns the direct levels of a user on refs
func (m *Memory) MembershipLevels(ctx context.Context, userID int64, refs []access.ResourceRef) (map[access.ResourceRef]access.AccessLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	levels := make(map[access.ResourceRef]access.AccessLevel, len(refs))
	for _, ref := range refs {
		if level, ok := m.members[memberKey{userID: userID, ref: ref}]; ok {
			levels[ref] = level
		}
	}
	return levels, nil
}

// SetLevel sets a direct membership, rejecting levels below the inherited one
func (m *Memory) SetLevel(ctx context.Context, userID int64, ref access.ResourceRef, level access.AccessLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain, err := m.chainLocked(ref)
	if err != nil {
		return err
	}

	inherited := access.LevelNone
	for _, ancestor := range chain[1:] {
		inherited = access.Max(inherited, m.members[memberKey{userID: userID, ref: ancestor.Ref()}])
	}
	if level < inherited {
		return fmt.Errorf("cannot set %s on %s, inherited %s: %w", level, ref, inherited, ErrBelowInheritedLevel)
	}

	m.members[memberKey{userID: userID, ref: ref}] = level
	return nil
}

// RemoveMember deletes a direct membership
func (m *Memory) RemoveMember(ctx context.Context, userID int64, ref access.ResourceRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memberKey{userID: userID, ref: ref}
	if _, ok := m.members[key]; !ok {
		return fmt.Errorf("membership of user %d on %s: %w", userID, ref, ErrNotFound)
	}
	delete(m.members, key)
	return nil
}

// GetPersonalAccessTokenByHash returns (nil, nil) when no token matches
func (m *Memory) GetPersonalAccessTokenByHash(ctx context.Context, hash string) (*PersonalAccessToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tokens {
		if t.TokenHash == hash {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

// CreatePersonalAccessToken stores a new token and assigns its ID
func (m *Memory) CreatePersonalAccessToken(ctx context.Context, t *PersonalAccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tokens {
		if existing.TokenHash == t.TokenHash {
			return fmt.Errorf("personal access token: %w", ErrAlreadyExists)
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.ID = m.allocID(t.ID)
	c := *t
	m.tokens[c.ID] = &c
	return nil
}

// RevokePersonalAccessToken marks a token revoked
func (m *Memory) RevokePersonalAccessToken(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[id]
	if !ok {
		return fmt.Errorf("personal access token %d: %w", id, ErrNotFound)
	}
	now := time.Now()
	t.RevokedAt = &now
	return nil
}

// TouchPersonalAccessToken records the last use of a token
func (m *Memory) TouchPersonalAccessToken(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[id]
	if !ok {
		return fmt.Errorf("personal access token %d: %w", id, ErrNotFound)
	}
	t.LastUsedAt = &at
	return nil
}

// PurgeExpiredPersonalAccessTokens deletes tokens expired before the cutoff
func (m *Memory) PurgeExpiredPersonalAccessTokens(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for id, t := range m.tokens {
		if t.ExpiresAt != nil && t.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			purged++
		}
	}
	return purged, nil
}

// GetDeployTokenByHash returns (nil, nil) when no token matches
func (m *Memory) GetDeployTokenByHash(ctx context.Context, hash string) (*DeployToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.deployTokens {
		if t.TokenHash == hash {
			c := *t
			c.Bound = append([]access.ResourceRef(nil), t.Bound...)
			return &c, nil
		}
	}
	return nil, nil
}

// CreateDeployToken stores a new deploy token and assigns its ID
func (m *Memory) CreateDeployToken(ctx context.Context, t *DeployToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.deployTokens {
		if existing.TokenHash == t.TokenHash {
			return fmt.Errorf("deploy token: %w", ErrAlreadyExists)
		}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.ID = m.allocID(t.ID)
	c := *t
	c.Bound = append([]access.ResourceRef(nil), t.Bound...)
	m.deployTokens[c.ID] = &c
	return nil
}

// RevokeDeployToken marks a deploy token revoked
func (m *Memory) RevokeDeployToken(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.deployTokens[id]
	if !ok {
		return fmt.Errorf("deploy token %d: %w", id, ErrNotFound)
	}
	now := time.Now()
	t.RevokedAt = &now
	return nil
}

// TouchDeployToken records the last use of a deploy token
func (m *Memory) TouchDeployToken(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.deployTokens[id]
	if !ok {
		return fmt.Errorf("deploy token %d: %w", id, ErrNotFound)
	}
	t.LastUsedAt = &at
	return nil
}

// PurgeExpiredDeployTokens deletes deploy tokens expired before the cutoff
func (m *Memory) PurgeExpiredDeployTokens(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for id, t := range m.deployTokens {
		if t.ExpiresAt != nil && t.ExpiresAt.Before(before) {
			delete(m.deployTokens, id)
			purged++
		}
	}
	return purged, nil
}

// GetJobByTokenHash returns (nil, nil) when no job matches
func (m *Memory) GetJobByTokenHash(ctx context.Context, hash string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.TokenHash == hash {
			c := *j
			return &c, nil
		}
	}
	return nil, nil
}

// CreateJob stores a new job and assigns its ID
func (m *Memory) CreateJob(ctx context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j.ID = m.allocID(j.ID)
	c := *j
	m.jobs[c.ID] = &c
	return nil
}

// SetJobStatus transitions a job
func (m *Memory) SetJobStatus(ctx context.Context, id int64, status access.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	j.Status = status
	return nil
}

// GetJobTokenLink returns (nil, nil) when no link exists
func (m *Memory) GetJobTokenLink(ctx context.Context, targetProjectID, sourceProjectID int64) (*access.JobTokenLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.links[linkKey{target: targetProjectID, source: sourceProjectID}]
	if !ok {
		return nil, nil
	}
	link.Features = append([]access.Feature(nil), link.Features...)
	return &link, nil
}

// PutJobTokenLink creates or replaces a link
func (m *Memory) PutJobTokenLink(ctx context.Context, link access.JobTokenLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link.Features = append([]access.Feature(nil), link.Features...)
	m.links[linkKey{target: link.TargetProjectID, source: link.SourceProjectID}] = link
	return nil
}

// RemoveJobTokenLink deletes a link
func (m *Memory) RemoveJobTokenLink(ctx context.Context, targetProjectID, sourceProjectID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := linkKey{target: targetProjectID, source: sourceProjectID}
	if _, ok := m.links[key]; !ok {
		return fmt.Errorf("job token link %d<-%d: %w", targetProjectID, sourceProjectID, ErrNotFound)
	}
	delete(m.links, key)
	return nil
}

// ListProtectionRules returns the rules of a project ordered by ID
func (m *Memory) ListProtectionRules(ctx context.Context, projectID int64, packageType string) ([]access.ProtectionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]access.ProtectionRule, 0)
	for _, r := range m.rules {
		if r.ProjectID != projectID {
			continue
		}
		if packageType != "" && r.PackageType != packageType {
			continue
		}
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// CreateProtectionRule stores a rule and assigns its ID
func (m *Memory) CreateProtectionRule(ctx context.Context, rule *access.ProtectionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.rules {
		if existing.ProjectID == rule.ProjectID && existing.PackageType == rule.PackageType && existing.NamePattern == rule.NamePattern {
			return fmt.Errorf("protection rule %q: %w", rule.NamePattern, ErrAlreadyExists)
		}
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	rule.ID = m.allocID(rule.ID)
	m.rules[rule.ID] = *rule
	return nil
}

// DeleteProtectionRule deletes a rule of a project
func (m *Memory) DeleteProtectionRule(ctx context.Context, projectID, ruleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[ruleID]
	if !ok || r.ProjectID != projectID {
		return fmt.Errorf("protection rule %d: %w", ruleID, ErrNotFound)
	}
	delete(m.rules, ruleID)
	return nil
}

// HealthCheck always succeeds
func (m *Memory) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
