package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Cached entries are keyed by the generation of their scope. Writers bump the
// generation in the same transaction as the row change, so an entry filled
// from a read that raced the write lands under a generation nobody asks for
// again. Redis being unreachable during a write cannot leave a stale entry
// behind.
const chainScope = "chains"

func rulesScope(projectID int64) string {
	return fmt.Sprintf("rules:%d", projectID)
}

const bumpGenerationQuery = `
	INSERT INTO cache_generations (scope, generation) VALUES ($1, 1)
	ON CONFLICT (scope) DO UPDATE SET generation = cache_generations.generation + 1
`

// cacheGeneration reads the current generation of a scope. A scope never
// written is generation 0. The read must use the same handle as the data
// read it guards so both observe the same replica.
func cacheGeneration(ctx context.Context, db *sql.DB, scope string) (int64, error) {
	var gen int64
	err := db.QueryRowContext(ctx, `SELECT generation FROM cache_generations WHERE scope = $1`, scope).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache generation %s: %w", scope, err)
	}
	return gen, nil
}

// writeWithGeneration runs fn and bumps the generation of scope in one
// transaction on the primary.
func (s *Store) writeWithGeneration(ctx context.Context, scope string, fn func(tx *sql.Tx) error) error {
	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, bumpGenerationQuery, scope); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to bump cache generation %s: %w", scope, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
