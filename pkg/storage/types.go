package storage

import (
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// UserState is the account state of a user
type UserState string

const (
	UserActive  UserState = "active"
	UserBlocked UserState = "blocked"
)

// User is a registry user account
type User struct {
	ID       int64     `json:"id" yaml:"id"`
	Username string    `json:"username" yaml:"username"`
	IsAdmin  bool      `json:"is_admin" yaml:"is_admin"`
	State    UserState `json:"state" yaml:"state"`
}

// Active reports whether the user may authenticate
func (u *User) Active() bool {
	return u.State == "" || u.State == UserActive
}

// PersonalAccessToken is a user-bound long-lived token. Only the hash of the
// secret is stored.
type PersonalAccessToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Name        string     `json:"name"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Scopes      []string   `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Revoked reports whether the token was revoked
func (t *PersonalAccessToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired reports whether the token is expired at now
func (t *PersonalAccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// DeployToken is a token bound to projects or groups with package registry
// capabilities
type DeployToken struct {
	ID          int64                `json:"id"`
	Name        string               `json:"name"`
	Username    string               `json:"username"`
	TokenHash   string               `json:"-"`
	TokenPrefix string               `json:"token_prefix"`
	Scopes      []string             `json:"scopes"`
	Bound       []access.ResourceRef `json:"bound"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
	RevokedAt   *time.Time           `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time           `json:"last_used_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Revoked reports whether the token was revoked
func (t *DeployToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired reports whether the token is expired at now
func (t *DeployToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Job is a CI job whose token is valid while it runs
type Job struct {
	ID         int64            `json:"id"`
	ProjectID  int64            `json:"project_id"`
	PipelineID int64            `json:"pipeline_id"`
	UserID     int64            `json:"user_id"`
	Status     access.JobStatus `json:"status"`
	TokenHash  string           `json:"-"`
}

// Membership is a direct membership of a user on a resource
type Membership struct {
	UserID   int64              `json:"user_id" yaml:"user_id"`
	Resource access.ResourceRef `json:"resource" yaml:"resource"`
	Level    access.AccessLevel `json:"level" yaml:"level"`
}
