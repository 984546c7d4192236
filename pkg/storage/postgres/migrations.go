package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns every schema migration in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create resources and users",
			SQL: `
				CREATE TABLE IF NOT EXISTS resources (
					kind VARCHAR(16) NOT NULL,
					id BIGINT NOT NULL,
					path VARCHAR(255) NOT NULL,
					visibility INT NOT NULL DEFAULT 0,
					parent_id BIGINT,
					features JSONB NOT NULL DEFAULT '{}',
					PRIMARY KEY (kind, id)
				);

				CREATE INDEX IF NOT EXISTS idx_resources_parent_id ON resources(parent_id);

				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					state VARCHAR(16) NOT NULL DEFAULT 'active'
				);
			`,
		},
		{
			Version:     2,
			Description: "Create memberships",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					resource_kind VARCHAR(16) NOT NULL,
					resource_id BIGINT NOT NULL,
					access_level INT NOT NULL,
					PRIMARY KEY (user_id, resource_kind, resource_id),
					FOREIGN KEY (resource_kind, resource_id) REFERENCES resources(kind, id) ON DELETE CASCADE
				);
			`,
		},
		{
			Version:     3,
			Description: "Create personal access and deploy tokens",
			SQL: `
				CREATE TABLE IF NOT EXISTS personal_access_tokens (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					scopes TEXT[] NOT NULL DEFAULT '{}',
					expires_at TIMESTAMP,
					revoked_at TIMESTAMP,
					last_used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS deploy_tokens (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					username VARCHAR(255) NOT NULL,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					scopes TEXT[] NOT NULL DEFAULT '{}',
					bound JSONB NOT NULL DEFAULT '[]',
					expires_at TIMESTAMP,
					revoked_at TIMESTAMP,
					last_used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     4,
			Description: "Create CI jobs and job token links",
			SQL: `
				CREATE TABLE IF NOT EXISTS ci_jobs (
					id BIGSERIAL PRIMARY KEY,
					project_id BIGINT NOT NULL,
					pipeline_id BIGINT NOT NULL,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					status VARCHAR(16) NOT NULL,
					token_hash VARCHAR(64) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS job_token_links (
					target_project_id BIGINT NOT NULL,
					source_project_id BIGINT NOT NULL,
					features TEXT[] NOT NULL DEFAULT '{}',
					PRIMARY KEY (target_project_id, source_project_id)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create package protection rules",
			SQL: `
				CREATE TABLE IF NOT EXISTS package_protection_rules (
					id BIGSERIAL PRIMARY KEY,
					project_id BIGINT NOT NULL,
					package_type VARCHAR(32) NOT NULL,
					package_name_pattern VARCHAR(255) NOT NULL,
					minimum_access_level_for_push INT NOT NULL,
					minimum_access_level_for_delete INT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (project_id, package_type, package_name_pattern)
				);

				CREATE INDEX IF NOT EXISTS idx_protection_rules_project ON package_protection_rules(project_id, package_type);
			`,
		},
		{
			Version:     6,
			Description: "Create audit logs",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					event_type VARCHAR(64) NOT NULL,
					principal_kind VARCHAR(32),
					principal_id BIGINT,
					resource VARCHAR(64),
					feature VARCHAR(64),
					action VARCHAR(16),
					package_name VARCHAR(255),
					outcome VARCHAR(16),
					reason VARCHAR(64),
					request_id VARCHAR(100),
					method VARCHAR(10),
					path TEXT,
					ip_address VARCHAR(45),
					message TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_principal ON audit_logs(principal_kind, principal_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource);
			`,
		},
		{
			Version:     7,
			Description: "Create cache generations",
			SQL: `
				CREATE TABLE IF NOT EXISTS cache_generations (
					scope VARCHAR(64) PRIMARY KEY,
					generation BIGINT NOT NULL
				);
			`,
		},
	}
}

// RunMigrations applies every pending migration, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
