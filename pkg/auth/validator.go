package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

var (
	// ErrInvalidCredential is wrapped by every reason a presented credential
	// is rejected
	ErrInvalidCredential = errors.New("invalid credential")

	ErrUnknownToken      = fmt.Errorf("%w: unknown token", ErrInvalidCredential)
	ErrTokenRevoked      = fmt.Errorf("%w: token revoked", ErrInvalidCredential)
	ErrTokenExpired      = fmt.Errorf("%w: token expired", ErrInvalidCredential)
	ErrInsufficientScope = fmt.Errorf("%w: insufficient scope", ErrInvalidCredential)
	ErrJobNotRunning     = fmt.Errorf("%w: job is not running", ErrInvalidCredential)
	ErrUserInactive      = fmt.Errorf("%w: user is blocked or missing", ErrInvalidCredential)
)

// CredentialStore is what the validator reads. Every lookup returns
// (nil, nil) when nothing matches.
type CredentialStore interface {
	GetUser(ctx context.Context, id int64) (*storage.User, error)
	GetPersonalAccessTokenByHash(ctx context.Context, hash string) (*storage.PersonalAccessToken, error)
	GetDeployTokenByHash(ctx context.Context, hash string) (*storage.DeployToken, error)
	GetJobByTokenHash(ctx context.Context, hash string) (*storage.Job, error)
}

// Validator resolves credentials to principals
type Validator struct {
	store CredentialStore
	now   func() time.Time
}

// NewValidator creates a validator over store
func NewValidator(store CredentialStore) *Validator {
	return &Validator{store: store, now: time.Now}
}

// Validate returns the principal behind cred for an action. A nil credential
// is anonymous. Rejections wrap ErrInvalidCredential; any other error is an
// infrastructure failure.
func (v *Validator) Validate(ctx context.Context, cred *credentials.Credential, action access.Action) (access.Principal, error) {
	if cred == nil {
		return access.Anonymous, nil
	}

	hash := HashToken(cred.Secret)
	switch cred.Scheme {
	case credentials.SchemePrivateToken:
		return v.personalAccessToken(ctx, hash, action)
	case credentials.SchemeJobToken:
		return v.job(ctx, hash)
	case credentials.SchemeDeployToken:
		return v.deployToken(ctx, hash, "", action)
	case credentials.SchemeBasicPassword:
		principal, err := v.personalAccessToken(ctx, hash, action)
		if !errors.Is(err, ErrUnknownToken) {
			return principal, err
		}
		return v.deployToken(ctx, hash, cred.Username, action)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidCredential, cred.Scheme)
	}
}

func (v *Validator) activeUser(ctx context.Context, id int64) (*storage.User, error) {
	user, err := v.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	if user == nil || !user.Active() {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (v *Validator) personalAccessToken(ctx context.Context, hash string, action access.Action) (access.Principal, error) {
	token, err := v.store.GetPersonalAccessTokenByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up personal access token: %w", err)
	}
	if token == nil {
		return nil, ErrUnknownToken
	}
	if token.Revoked() {
		return nil, ErrTokenRevoked
	}
	if token.Expired(v.now()) {
		return nil, ErrTokenExpired
	}
	if !patAllows(token.Scopes, action) {
		return nil, ErrInsufficientScope
	}

	user, err := v.activeUser(ctx, token.UserID)
	if err != nil {
		return nil, err
	}

	return &access.UserPrincipal{
		UserID:          user.ID,
		Username:        user.Username,
		IsAdmin:         user.IsAdmin,
		AdminModeActive: user.IsAdmin && HasScope(token.Scopes, ScopeAdminMode),
		TokenID:         token.ID,
	}, nil
}

func (v *Validator) job(ctx context.Context, hash string) (access.Principal, error) {
	job, err := v.store.GetJobByTokenHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	if job == nil {
		return nil, ErrUnknownToken
	}
	if job.Status != access.JobRunning {
		return nil, ErrJobNotRunning
	}
	if _, err := v.activeUser(ctx, job.UserID); err != nil {
		return nil, err
	}

	return &access.JobPrincipal{
		JobID:      job.ID,
		UserID:     job.UserID,
		ProjectID:  job.ProjectID,
		PipelineID: job.PipelineID,
		Status:     job.Status,
	}, nil
}

// deployToken validates a deploy token. A non-empty username must equal the
// token's username.
func (v *Validator) deployToken(ctx context.Context, hash, username string, action access.Action) (access.Principal, error) {
	token, err := v.store.GetDeployTokenByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up deploy token: %w", err)
	}
	if token == nil || (username != "" && token.Username != username) {
		return nil, ErrUnknownToken
	}
	if token.Revoked() {
		return nil, ErrTokenRevoked
	}
	if token.Expired(v.now()) {
		return nil, ErrTokenExpired
	}
	if !deployAllows(token.Scopes, action) {
		return nil, ErrInsufficientScope
	}

	return &access.DeployTokenPrincipal{
		TokenID:  token.ID,
		Username: token.Username,
		Read:     HasScope(token.Scopes, ScopeReadPackageRegistry),
		Write:    HasScope(token.Scopes, ScopeWritePackageRegistry),
		Bound:    append([]access.ResourceRef(nil), token.Bound...),
	}, nil
}

// UsageRecorder stores last-used timestamps
type UsageRecorder interface {
	TouchPersonalAccessToken(ctx context.Context, id int64, at time.Time) error
	TouchDeployToken(ctx context.Context, id int64, at time.Time) error
}

// RecordUsage updates the last-used timestamp of the token behind p. Jobs
// and anonymous principals have nothing to record.
func RecordUsage(ctx context.Context, recorder UsageRecorder, p access.Principal, at time.Time) error {
	switch principal := p.(type) {
	case *access.UserPrincipal:
		if principal.TokenID == 0 {
			return nil
		}
		return recorder.TouchPersonalAccessToken(ctx, principal.TokenID, at)
	case *access.DeployTokenPrincipal:
		return recorder.TouchDeployToken(ctx, principal.TokenID, at)
	}
	return nil
}
