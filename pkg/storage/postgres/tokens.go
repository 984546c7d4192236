package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// GetPersonalAccessTokenByHash returns (nil, nil) when no token matches
func (s *Store) GetPersonalAccessTokenByHash(ctx context.Context, hash string) (*storage.PersonalAccessToken, error) {
	query := `
		SELECT id, user_id, name, token_hash, token_prefix, scopes, expires_at, revoked_at, last_used_at, created_at
		FROM personal_access_tokens
		WHERE token_hash = $1
	`
	t := &storage.PersonalAccessToken{}
	var expiresAt, revokedAt, lastUsedAt sql.NullTime
	err := s.cm.Primary().QueryRowContext(ctx, query, hash).Scan(
		&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.TokenPrefix, pq.Array(&t.Scopes),
		&expiresAt, &revokedAt, &lastUsedAt, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get personal access token: %w", err)
	}
	t.ExpiresAt = nullTime(expiresAt)
	t.RevokedAt = nullTime(revokedAt)
	t.LastUsedAt = nullTime(lastUsedAt)
	return t, nil
}

// CreatePersonalAccessToken inserts a token and sets its ID
func (s *Store) CreatePersonalAccessToken(ctx context.Context, t *storage.PersonalAccessToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO personal_access_tokens (user_id, name, token_hash, token_prefix, scopes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := s.cm.Primary().QueryRowContext(ctx, query,
		t.UserID, t.Name, t.TokenHash, t.TokenPrefix, pq.Array(t.Scopes), t.ExpiresAt, t.CreatedAt,
	).Scan(&t.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("personal access token: %w", storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create personal access token: %w", err)
	}
	return nil
}

// RevokePersonalAccessToken marks a token revoked
func (s *Store) RevokePersonalAccessToken(ctx context.Context, id int64) error {
	query := `UPDATE personal_access_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	result, err := s.cm.Primary().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to revoke personal access token: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("personal access token %d", id))
}

// TouchPersonalAccessToken records the last use of a token
func (s *Store) TouchPersonalAccessToken(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE personal_access_tokens SET last_used_at = $2 WHERE id = $1`
	if _, err := s.cm.Primary().ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to touch personal access token: %w", err)
	}
	return nil
}

// PurgeExpiredPersonalAccessTokens deletes tokens that expired before the cutoff
func (s *Store) PurgeExpiredPersonalAccessTokens(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM personal_access_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`
	result, err := s.cm.Primary().ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge personal access tokens: %w", err)
	}
	return result.RowsAffected()
}

// GetDeployTokenByHash returns (nil, nil) when no token matches
func (s *Store) GetDeployTokenByHash(ctx context.Context, hash string) (*storage.DeployToken, error) {
	query := `
		SELECT id, name, username, token_hash, token_prefix, scopes, bound, expires_at, revoked_at, last_used_at, created_at
		FROM deploy_tokens
		WHERE token_hash = $1
	`
	t := &storage.DeployToken{}
	var (
		bound                            []byte
		expiresAt, revokedAt, lastUsedAt sql.NullTime
	)
	err := s.cm.Primary().QueryRowContext(ctx, query, hash).Scan(
		&t.ID, &t.Name, &t.Username, &t.TokenHash, &t.TokenPrefix, pq.Array(&t.Scopes), &bound,
		&expiresAt, &revokedAt, &lastUsedAt, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deploy token: %w", err)
	}
	if len(bound) > 0 {
		if err := json.Unmarshal(bound, &t.Bound); err != nil {
			return nil, fmt.Errorf("failed to decode deploy token bindings: %w", err)
		}
	}
	t.ExpiresAt = nullTime(expiresAt)
	t.RevokedAt = nullTime(revokedAt)
	t.LastUsedAt = nullTime(lastUsedAt)
	return t, nil
}

// CreateDeployToken inserts a deploy token and sets its ID
func (s *Store) CreateDeployToken(ctx context.Context, t *storage.DeployToken) error {
	bound, err := json.Marshal(t.Bound)
	if err != nil {
		return fmt.Errorf("failed to encode deploy token bindings: %w", err)
	}
	if t.Bound == nil {
		bound = []byte("[]")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO deploy_tokens (name, username, token_hash, token_prefix, scopes, bound, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = s.cm.Primary().QueryRowContext(ctx, query,
		t.Name, t.Username, t.TokenHash, t.TokenPrefix, pq.Array(t.Scopes), bound, t.ExpiresAt, t.CreatedAt,
	).Scan(&t.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("deploy token: %w", storage.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create deploy token: %w", err)
	}
	return nil
}

// RevokeDeployToken marks a deploy token revoked
func (s *Store) RevokeDeployToken(ctx context.Context, id int64) error {
	query := `UPDATE deploy_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	result, err := s.cm.Primary().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to revoke deploy token: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("deploy token %d", id))
}

// TouchDeployToken records the last use of a deploy token
func (s *Store) TouchDeployToken(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE deploy_tokens SET last_used_at = $2 WHERE id = $1`
	if _, err := s.cm.Primary().ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to touch deploy token: %w", err)
	}
	return nil
}

// PurgeExpiredDeployTokens deletes deploy tokens that expired before the cutoff
func (s *Store) PurgeExpiredDeployTokens(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM deploy_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`
	result, err := s.cm.Primary().ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deploy tokens: %w", err)
	}
	return result.RowsAffected()
}

// GetJobByTokenHash returns (nil, nil) when no job matches
func (s *Store) GetJobByTokenHash(ctx context.Context, hash string) (*storage.Job, error) {
	query := `
		SELECT id, project_id, pipeline_id, user_id, status, token_hash
		FROM ci_jobs
		WHERE token_hash = $1
	`
	j := &storage.Job{}
	var status string
	err := s.cm.Primary().QueryRowContext(ctx, query, hash).Scan(
		&j.ID, &j.ProjectID, &j.PipelineID, &j.UserID, &status, &j.TokenHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	j.Status = access.JobStatus(status)
	return j, nil
}

// CreateJob inserts a job and sets its ID
func (s *Store) CreateJob(ctx context.Context, j *storage.Job) error {
	query := `
		INSERT INTO ci_jobs (project_id, pipeline_id, user_id, status, token_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if err := s.cm.Primary().QueryRowContext(ctx, query,
		j.ProjectID, j.PipelineID, j.UserID, string(j.Status), j.TokenHash,
	).Scan(&j.ID); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// SetJobStatus transitions a job
func (s *Store) SetJobStatus(ctx context.Context, id int64, status access.JobStatus) error {
	query := `UPDATE ci_jobs SET status = $2 WHERE id = $1`
	result, err := s.cm.Primary().ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("job %d", id))
}

// GetJobTokenLink returns (nil, nil) when no link exists
func (s *Store) GetJobTokenLink(ctx context.Context, targetProjectID, sourceProjectID int64) (*access.JobTokenLink, error) {
	query := `
		SELECT target_project_id, source_project_id, features
		FROM job_token_links
		WHERE target_project_id = $1 AND source_project_id = $2
	`
	link := &access.JobTokenLink{}
	var features []string
	err := s.cm.Replica().QueryRowContext(ctx, query, targetProjectID, sourceProjectID).Scan(
		&link.TargetProjectID, &link.SourceProjectID, pq.Array(&features),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job token link: %w", err)
	}
	for _, f := range features {
		link.Features = append(link.Features, access.Feature(f))
	}
	return link, nil
}

// PutJobTokenLink upserts a link
func (s *Store) PutJobTokenLink(ctx context.Context, link access.JobTokenLink) error {
	features := make([]string, len(link.Features))
	for i, f := range link.Features {
		features[i] = string(f)
	}

	query := `
		INSERT INTO job_token_links (target_project_id, source_project_id, features)
		VALUES ($1, $2, $3)
		ON CONFLICT (target_project_id, source_project_id) DO UPDATE
		SET features = EXCLUDED.features
	`
	if _, err := s.cm.Primary().ExecContext(ctx, query, link.TargetProjectID, link.SourceProjectID, pq.Array(features)); err != nil {
		return fmt.Errorf("failed to put job token link: %w", err)
	}
	return nil
}

// RemoveJobTokenLink deletes a link
func (s *Store) RemoveJobTokenLink(ctx context.Context, targetProjectID, sourceProjectID int64) error {
	query := `DELETE FROM job_token_links WHERE target_project_id = $1 AND source_project_id = $2`
	result, err := s.cm.Primary().ExecContext(ctx, query, targetProjectID, sourceProjectID)
	if err != nil {
		return fmt.Errorf("failed to remove job token link: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("job token link %d<-%d", targetProjectID, sourceProjectID))
}
