package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
)

var (
	// ErrNotFound is returned when a resource, rule or token does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a record whose key is taken
	ErrAlreadyExists = errors.New("already exists")
	// ErrBelowInheritedLevel is returned when an explicit membership would be
	// lower than the level inherited from an ancestor group
	ErrBelowInheritedLevel = errors.New("access level is below the inherited level")
)

// ResourceReader reads projects and groups
type ResourceReader interface {
	// GetResource returns ErrNotFound if the resource does not exist
	GetResource(ctx context.Context, ref access.ResourceRef) (*access.Resource, error)
	// GetResourceChain returns the resource followed by its ancestors,
	// nearest first. Returns ErrNotFound if the resource does not exist.
	GetResourceChain(ctx context.Context, ref access.ResourceRef) ([]*access.Resource, error)
}

// ResourceStore reads and writes projects and groups
type ResourceStore interface {
	ResourceReader
	PutResource(ctx context.Context, r *access.Resource) error
}

// UserStore reads user accounts. GetUser returns (nil, nil) if absent.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	PutUser(ctx context.Context, u *User) error
}

// MembershipReader reads direct memberships
type MembershipReader interface {
	// MembershipLevels returns the user's direct level on each of refs in a
	// single lookup. Refs without a membership are omitted.
	MembershipLevels(ctx context.Context, userID int64, refs []access.ResourceRef) (map[access.ResourceRef]access.AccessLevel, error)
}

// MembershipStore reads and writes memberships
type MembershipStore interface {
	MembershipReader
	// SetLevel creates or updates a membership. Returns
	// ErrBelowInheritedLevel when level is below an ancestor membership.
	SetLevel(ctx context.Context, userID int64, ref access.ResourceRef, level access.AccessLevel) error
	RemoveMember(ctx context.Context, userID int64, ref access.ResourceRef) error
}

// TokenStore stores personal access tokens by hash. Lookups return
// (nil, nil) when no token matches.
type TokenStore interface {
	GetPersonalAccessTokenByHash(ctx context.Context, hash string) (*PersonalAccessToken, error)
	CreatePersonalAccessToken(ctx context.Context, t *PersonalAccessToken) error
	RevokePersonalAccessToken(ctx context.Context, id int64) error
	TouchPersonalAccessToken(ctx context.Context, id int64, at time.Time) error
	PurgeExpiredPersonalAccessTokens(ctx context.Context, before time.Time) (int64, error)
}

// DeployTokenStore stores deploy tokens by hash. Lookups return (nil, nil)
// when no token matches.
type DeployTokenStore interface {
	GetDeployTokenByHash(ctx context.Context, hash string) (*DeployToken, error)
	CreateDeployToken(ctx context.Context, t *DeployToken) error
	RevokeDeployToken(ctx context.Context, id int64) error
	TouchDeployToken(ctx context.Context, id int64, at time.Time) error
	PurgeExpiredDeployTokens(ctx context.Context, before time.Time) (int64, error)
}

// JobStore resolves CI job tokens. Job status is read on every lookup and
// never cached. GetJobByTokenHash returns (nil, nil) when no job matches.
type JobStore interface {
	GetJobByTokenHash(ctx context.Context, hash string) (*Job, error)
	CreateJob(ctx context.Context, j *Job) error
	SetJobStatus(ctx context.Context, id int64, status access.JobStatus) error
}

// JobTokenScopeReader reads the job token cross-project allow-list
type JobTokenScopeReader interface {
	// GetJobTokenLink returns (nil, nil) when no link exists
	GetJobTokenLink(ctx context.Context, targetProjectID, sourceProjectID int64) (*access.JobTokenLink, error)
}

// JobTokenScopeStore reads and writes the job token allow-list
type JobTokenScopeStore interface {
	JobTokenScopeReader
	PutJobTokenLink(ctx context.Context, link access.JobTokenLink) error
	RemoveJobTokenLink(ctx context.Context, targetProjectID, sourceProjectID int64) error
}

// ProtectionRuleReader reads package protection rules
type ProtectionRuleReader interface {
	// ListProtectionRules returns the rules of a project. An empty
	// packageType returns rules of every type.
	ListProtectionRules(ctx context.Context, projectID int64, packageType string) ([]access.ProtectionRule, error)
}

// ProtectionRuleStore reads and writes package protection rules
type ProtectionRuleStore interface {
	ProtectionRuleReader
	CreateProtectionRule(ctx context.Context, rule *access.ProtectionRule) error
	// DeleteProtectionRule returns ErrNotFound if the rule does not belong
	// to the project
	DeleteProtectionRule(ctx context.Context, projectID, ruleID int64) error
}

// HealthChecker reports backend health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Reader is everything an access evaluation reads
type Reader interface {
	ResourceReader
	MembershipReader
	JobTokenScopeReader
	ProtectionRuleReader
}

// Store is the full persistence surface
type Store interface {
	ResourceStore
	UserStore
	MembershipStore
	TokenStore
	DeployTokenStore
	JobStore
	JobTokenScopeStore
	ProtectionRuleStore
	HealthChecker
	Close() error
}
