package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// maxChainDepth bounds group nesting in the recursive chain query
const maxChainDepth = 20

// Store implements storage.Store on PostgreSQL. Resource and rule reads go
// to a replica and through the optional Redis cache; credential and job
// lookups always hit the primary so revocations and job transitions are
// seen immediately.
type Store struct {
	cm    *ConnectionManager
	cache *RedisCache
}

// NewStore creates a store over the given connections. cache may be nil.
func NewStore(cm *ConnectionManager, cache *RedisCache) *Store {
	return &Store{cm: cm, cache: cache}
}

const selectChain = `
		WITH RECURSIVE chain AS (
			SELECT kind, id, path, visibility, parent_id, features, 0 AS depth
			FROM resources
			WHERE kind = $1 AND id = $2
			UNION ALL
			SELECT r.kind, r.id, r.path, r.visibility, r.parent_id, r.features, c.depth + 1
			FROM resources r
			JOIN chain c ON r.kind = 'group' AND r.id = c.parent_id
			WHERE c.depth < $3
		)
		SELECT kind, id, path, visibility, parent_id, features
		FROM chain
		ORDER BY depth ASC
	`

// GetResource returns the resource or storage.ErrNotFound
func (s *Store) GetResource(ctx context.Context, ref access.ResourceRef) (*access.Resource, error) {
	chain, err := s.GetResourceChain(ctx, ref)
	if err != nil {
		return nil, err
	}
	return chain[0], nil
}

// GetResourceChain returns the resource and its ancestors in one query
func (s *Store) GetResourceChain(ctx context.Context, ref access.ResourceRef) ([]*access.Resource, error) {
	db := s.cm.Replica()
	cacheable := false
	var gen int64
	if s.cache != nil {
		g, err := cacheGeneration(ctx, db, chainScope)
		if err == nil {
			cacheable, gen = true, g
			if chain, err := s.cache.GetChain(ctx, gen, ref); err == nil && chain != nil {
				return chain, nil
			}
		}
	}

	rows, err := db.QueryContext(ctx, selectChain, string(ref.Kind), ref.ID, maxChainDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource chain: %w", err)
	}
	defer rows.Close()

	var chain []*access.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read resource chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("resource %s: %w", ref, storage.ErrNotFound)
	}

	if cacheable {
		s.cache.SetChain(ctx, gen, ref, chain)
	}
	return chain, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResource(row rowScanner) (*access.Resource, error) {
	var (
		r          access.Resource
		kind       string
		visibility int
		parentID   sql.NullInt64
		features   []byte
	)
	if err := row.Scan(&kind, &r.ID, &r.Path, &visibility, &parentID, &features); err != nil {
		return nil, fmt.Errorf("failed to scan resource: %w", err)
	}
	r.Kind = access.ResourceKind(kind)
	r.Visibility = access.Visibility(visibility)
	if parentID.Valid {
		id := parentID.Int64
		r.ParentID = &id
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &r.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features of %s: %w", r.Ref(), err)
		}
	}
	return &r, nil
}

// PutResource upserts a resource and moves every cached chain to a new
// generation; a change to a group affects the chains of all its descendants.
func (s *Store) PutResource(ctx context.Context, r *access.Resource) error {
	features, err := json.Marshal(r.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	if r.Features == nil {
		features = []byte("{}")
	}

	var parentID interface{}
	if r.ParentID != nil {
		parentID = *r.ParentID
	}

	query := `
		INSERT INTO resources (kind, id, path, visibility, parent_id, features)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, id) DO UPDATE
		SET path = EXCLUDED.path, visibility = EXCLUDED.visibility,
		    parent_id = EXCLUDED.parent_id, features = EXCLUDED.features
	`
	return s.writeWithGeneration(ctx, chainScope, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			string(r.Kind), r.ID, r.Path, int(r.Visibility), parentID, features,
		); err != nil {
			return fmt.Errorf("failed to put resource: %w", err)
		}
		return nil
	})
}

// GetUser returns (nil, nil) when the user does not exist
func (s *Store) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	query := `SELECT id, username, is_admin, state FROM users WHERE id = $1`

	u := &storage.User{}
	var state string
	err := s.cm.Primary().QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.IsAdmin, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.State = storage.UserState(state)
	return u, nil
}

// PutUser inserts a user, or updates it when ID is set
func (s *Store) PutUser(ctx context.Context, u *storage.User) error {
	state := u.State
	if state == "" {
		state = storage.UserActive
	}

	if u.ID == 0 {
		query := `INSERT INTO users (username, is_admin, state) VALUES ($1, $2, $3) RETURNING id`
		if err := s.cm.Primary().QueryRowContext(ctx, query, u.Username, u.IsAdmin, string(state)).Scan(&u.ID); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO users (id, username, is_admin, state) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username, is_admin = EXCLUDED.is_admin, state = EXCLUDED.state
	`
	if _, err := s.cm.Primary().ExecContext(ctx, query, u.ID, u.Username, u.IsAdmin, string(state)); err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}

func refKeys(refs []access.ResourceRef) []string {
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.String()
	}
	return keys
}

// MembershipLevels returns the direct levels of a user on refs in one query
func (s *Store) MembershipLevels(ctx context.Context, userID int64, refs []access.ResourceRef) (map[access.ResourceRef]access.AccessLevel, error) {
	levels := make(map[access.ResourceRef]access.AccessLevel, len(refs))
	if len(refs) == 0 {
		return levels, nil
	}

	query := `
		SELECT resource_kind, resource_id, access_level
		FROM memberships
		WHERE user_id = $1 AND (resource_kind || ':' || resource_id) = ANY($2)
	`
	rows, err := s.cm.Replica().QueryContext(ctx, query, userID, pq.Array(refKeys(refs)))
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind  string
			id    int64
			level int
		)
		if err := rows.Scan(&kind, &id, &level); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		levels[access.ResourceRef{Kind: access.ResourceKind(kind), ID: id}] = access.AccessLevel(level)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memberships: %w", err)
	}
	return levels, nil
}

// SetLevel upserts a membership after checking it is not below the level
// inherited from any ancestor group
func (s *Store) SetLevel(ctx context.Context, userID int64, ref access.ResourceRef, level access.AccessLevel) error {
	chain, err := s.GetResourceChain(ctx, ref)
	if err != nil {
		return err
	}

	if len(chain) > 1 {
		ancestors := make([]access.ResourceRef, 0, len(chain)-1)
		for _, r := range chain[1:] {
			ancestors = append(ancestors, r.Ref())
		}
		inheritedLevels, err := s.MembershipLevels(ctx, userID, ancestors)
		if err != nil {
			return err
		}
		inherited := access.LevelNone
		for _, l := range inheritedLevels {
			inherited = access.Max(inherited, l)
		}
		if level < inherited {
			return fmt.Errorf("cannot set %s on %s, inherited %s: %w", level, ref, inherited, storage.ErrBelowInheritedLevel)
		}
	}

	query := `
		INSERT INTO memberships (user_id, resource_kind, resource_id, access_level)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, resource_kind, resource_id) DO UPDATE
		SET access_level = EXCLUDED.access_level
	`
	if _, err := s.cm.Primary().ExecContext(ctx, query, userID, string(ref.Kind), ref.ID, int(level)); err != nil {
		return fmt.Errorf("failed to set membership: %w", err)
	}
	return nil
}

// RemoveMember deletes a direct membership
func (s *Store) RemoveMember(ctx context.Context, userID int64, ref access.ResourceRef) error {
	query := `DELETE FROM memberships WHERE user_id = $1 AND resource_kind = $2 AND resource_id = $3`
	result, err := s.cm.Primary().ExecContext(ctx, query, userID, string(ref.Kind), ref.ID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	return requireAffected(result, fmt.Sprintf("membership of user %d on %s", userID, ref))
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// HealthCheck pings the primary and replicas
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.cm.HealthCheck(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

// Close closes the database connections and the cache
func (s *Store) Close() error {
	var errs []string
	if err := s.cm.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close store: %s", strings.Join(errs, "; "))
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
