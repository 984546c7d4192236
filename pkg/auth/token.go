package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// TokenKind selects the prefix of a generated token
type TokenKind string

const (
	KindPersonalAccessToken TokenKind = "rgpat-"
	KindDeployToken         TokenKind = "rgdt-"
	KindJobToken            TokenKind = "rgjob-"

	// TokenLength is the number of random bytes in a token (256 bits)
	TokenLength = 32
)

// ErrNoScopes is returned when a token is created without scopes
var ErrNoScopes = errors.New("at least one scope is required")

// TokenGenerator generates and hashes tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a token of the given kind.
// Format: <prefix><base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken(kind TokenKind) (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	token = string(kind) + encoded
	return token, HashToken(token), string(kind) + encoded[:8], nil
}

// HashToken computes the SHA-256 hash used to look a token up
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks that a token has the given kind's prefix and a
// valid base64url body
func (tg *TokenGenerator) ValidateTokenFormat(kind TokenKind, token string) error {
	if !strings.HasPrefix(token, string(kind)) {
		return fmt.Errorf("token must start with %q", kind)
	}

	encoded := strings.TrimPrefix(token, string(kind))
	if len(encoded) == 0 {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// ExtractPrefix returns the displayable prefix of a token, or "" for a
// token of another kind
func (tg *TokenGenerator) ExtractPrefix(kind TokenKind, token string) string {
	if !strings.HasPrefix(token, string(kind)) {
		return ""
	}
	encoded := strings.TrimPrefix(token, string(kind))
	if len(encoded) >= 8 {
		return string(kind) + encoded[:8]
	}
	return token
}

// TokenStores is the persistence a TokenManager writes to
type TokenStores interface {
	storage.TokenStore
	storage.DeployTokenStore
	storage.JobStore
}

// TokenManager creates and revokes tokens
type TokenManager struct {
	generator *TokenGenerator
	store     TokenStores
}

// NewTokenManager creates a token manager over store
func NewTokenManager(store TokenStores) *TokenManager {
	return &TokenManager{
		generator: NewTokenGenerator(),
		store:     store,
	}
}

// CreatePersonalAccessToken stores a new token and returns its plaintext
// exactly once
func (tm *TokenManager) CreatePersonalAccessToken(ctx context.Context, userID int64, name string, scopes []string, expiresAt *time.Time) (*storage.PersonalAccessToken, string, error) {
	if err := ValidateScopes(scopes, PersonalAccessTokenScopes()); err != nil {
		return nil, "", err
	}

	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken(KindPersonalAccessToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	record := &storage.PersonalAccessToken{
		UserID:      userID,
		Name:        name,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Scopes:      scopes,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	if err := tm.store.CreatePersonalAccessToken(ctx, record); err != nil {
		return nil, "", fmt.Errorf("failed to store personal access token: %w", err)
	}
	return record, token, nil
}

// CreateDeployToken stores a new deploy token bound to refs and returns its
// plaintext exactly once
func (tm *TokenManager) CreateDeployToken(ctx context.Context, name, username string, scopes []string, bound []access.ResourceRef, expiresAt *time.Time) (*storage.DeployToken, string, error) {
	if err := ValidateScopes(scopes, DeployTokenScopes()); err != nil {
		return nil, "", err
	}
	if len(bound) == 0 {
		return nil, "", fmt.Errorf("deploy token must be bound to at least one project or group")
	}

	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken(KindDeployToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	record := &storage.DeployToken{
		Name:        name,
		Username:    username,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Scopes:      scopes,
		Bound:       bound,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
	}
	if err := tm.store.CreateDeployToken(ctx, record); err != nil {
		return nil, "", fmt.Errorf("failed to store deploy token: %w", err)
	}
	return record, token, nil
}

// StartJob registers a running CI job and returns its token
func (tm *TokenManager) StartJob(ctx context.Context, projectID, pipelineID, userID int64) (*storage.Job, string, error) {
	token, tokenHash, _, err := tm.generator.GenerateToken(KindJobToken)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	job := &storage.Job{
		ProjectID:  projectID,
		PipelineID: pipelineID,
		UserID:     userID,
		Status:     access.JobRunning,
		TokenHash:  tokenHash,
	}
	if err := tm.store.CreateJob(ctx, job); err != nil {
		return nil, "", fmt.Errorf("failed to store job: %w", err)
	}
	return job, token, nil
}

// FinishJob moves a job to a terminal state, invalidating its token
func (tm *TokenManager) FinishJob(ctx context.Context, jobID int64, status access.JobStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("job status %q is not terminal", status)
	}
	return tm.store.SetJobStatus(ctx, jobID, status)
}

// RevokePersonalAccessToken revokes a personal access token
func (tm *TokenManager) RevokePersonalAccessToken(ctx context.Context, id int64) error {
	return tm.store.RevokePersonalAccessToken(ctx, id)
}

// RevokeDeployToken revokes a deploy token
func (tm *TokenManager) RevokeDeployToken(ctx context.Context, id int64) error {
	return tm.store.RevokeDeployToken(ctx, id)
}

// CleanupExpiredTokens deletes personal access and deploy tokens that
// expired before the cutoff
func (tm *TokenManager) CleanupExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	pats, err := tm.store.PurgeExpiredPersonalAccessTokens(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge personal access tokens: %w", err)
	}
	deploy, err := tm.store.PurgeExpiredDeployTokens(ctx, before)
	if err != nil {
		return pats, fmt.Errorf("failed to purge deploy tokens: %w", err)
	}
	return pats + deploy, nil
}
