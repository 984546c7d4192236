package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// ListProtectionRules returns the rules of a project, from the cache when
// possible. An empty packageType returns every type.
func (s *Store) ListProtectionRules(ctx context.Context, projectID int64, packageType string) ([]access.ProtectionRule, error) {
	db := s.cm.Replica()
	cacheable := false
	var gen int64
	if s.cache != nil {
		g, err := cacheGeneration(ctx, db, rulesScope(projectID))
		if err == nil {
			cacheable, gen = true, g
			if rules, err := s.cache.GetRules(ctx, projectID, gen, packageType); err == nil && rules != nil {
				return rules, nil
			}
		}
	}

	query := `
		SELECT id, project_id, package_type, package_name_pattern,
		       minimum_access_level_for_push, minimum_access_level_for_delete, created_at
		FROM package_protection_rules
		WHERE project_id = $1 AND ($2 = '' OR package_type = $2)
		ORDER BY id ASC
	`
	rows, err := db.QueryContext(ctx, query, projectID, packageType)
	if err != nil {
		return nil, fmt.Errorf("failed to list protection rules: %w", err)
	}
	defer rows.Close()

	rules := make([]access.ProtectionRule, 0)
	for rows.Next() {
		var (
			r           access.ProtectionRule
			push        int
			deleteLevel sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.PackageType, &r.NamePattern, &push, &deleteLevel, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan protection rule: %w", err)
		}
		r.MinimumAccessLevelForPush = access.AccessLevel(push)
		if deleteLevel.Valid {
			level := access.AccessLevel(deleteLevel.Int64)
			r.MinimumAccessLevelForDelete = &level
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read protection rules: %w", err)
	}

	if cacheable {
		s.cache.SetRules(ctx, projectID, gen, packageType, rules)
	}
	return rules, nil
}

// CreateProtectionRule inserts a rule and sets its ID
func (s *Store) CreateProtectionRule(ctx context.Context, rule *access.ProtectionRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	var deleteLevel interface{}
	if rule.MinimumAccessLevelForDelete != nil {
		deleteLevel = int(*rule.MinimumAccessLevelForDelete)
	}

	query := `
		INSERT INTO package_protection_rules
			(project_id, package_type, package_name_pattern, minimum_access_level_for_push, minimum_access_level_for_delete, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return s.writeWithGeneration(ctx, rulesScope(rule.ProjectID), func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, query,
			rule.ProjectID, rule.PackageType, rule.NamePattern, int(rule.MinimumAccessLevelForPush), deleteLevel, rule.CreatedAt,
		).Scan(&rule.ID)
		if isUniqueViolation(err) {
			return fmt.Errorf("protection rule %q: %w", rule.NamePattern, storage.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("failed to create protection rule: %w", err)
		}
		return nil
	})
}

// DeleteProtectionRule deletes a rule of a project
func (s *Store) DeleteProtectionRule(ctx context.Context, projectID, ruleID int64) error {
	query := `DELETE FROM package_protection_rules WHERE id = $1 AND project_id = $2`
	return s.writeWithGeneration(ctx, rulesScope(projectID), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, ruleID, projectID)
		if err != nil {
			return fmt.Errorf("failed to delete protection rule: %w", err)
		}
		return requireAffected(result, fmt.Sprintf("protection rule %d", ruleID))
	})
}
