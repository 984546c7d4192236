package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// setupPostgresContainer starts a throwaway PostgreSQL and applies migrations
func setupPostgresContainer(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	provider.Close()

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("registrygate_test"),
		tcpostgres.WithUsername("registrygate"),
		tcpostgres.WithPassword("registrygate_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.Terminate(cleanupCtx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, RunMigrations(ctx, db))
	return db
}

func TestStoreIntegration(t *testing.T) {
	db := setupPostgresContainer(t)
	store := NewStore(NewConnectionManagerFromDB(db), nil)
	ctx := context.Background()

	groupID := int64(1)
	require.NoError(t, store.PutResource(ctx, &access.Resource{ID: groupID, Kind: access.KindGroup, Path: "acme", Visibility: access.VisibilityInternal}))
	require.NoError(t, store.PutResource(ctx, &access.Resource{
		ID: 10, Kind: access.KindProject, Path: "acme/widgets", Visibility: access.VisibilityPrivate, ParentID: &groupID,
		Features: map[access.Feature]access.FeatureAccess{access.FeaturePackageRegistry: access.FeaturePublic},
	}))

	chain, err := store.GetResourceChain(ctx, access.ProjectRef(10))
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "acme", chain[1].Path)
	assert.Equal(t, access.FeaturePublic, chain[0].Features[access.FeaturePackageRegistry])

	user := &storage.User{Username: "dev"}
	require.NoError(t, store.PutUser(ctx, user))
	require.NotZero(t, user.ID)

	require.NoError(t, store.SetLevel(ctx, user.ID, access.GroupRef(groupID), access.LevelMaintainer))
	err = store.SetLevel(ctx, user.ID, access.ProjectRef(10), access.LevelDeveloper)
	assert.ErrorIs(t, err, storage.ErrBelowInheritedLevel)
	require.NoError(t, store.SetLevel(ctx, user.ID, access.ProjectRef(10), access.LevelOwner))

	levels, err := store.MembershipLevels(ctx, user.ID, []access.ResourceRef{access.ProjectRef(10), access.GroupRef(groupID)})
	require.NoError(t, err)
	assert.Equal(t, access.LevelOwner, levels[access.ProjectRef(10)])
	assert.Equal(t, access.LevelMaintainer, levels[access.GroupRef(groupID)])

	expired := time.Now().Add(-time.Hour)
	pat := &storage.PersonalAccessToken{UserID: user.ID, Name: "old", TokenHash: "h1", TokenPrefix: "rgpat-h1", Scopes: []string{"api"}, ExpiresAt: &expired}
	require.NoError(t, store.CreatePersonalAccessToken(ctx, pat))
	got, err := store.GetPersonalAccessTokenByHash(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"api"}, got.Scopes)

	purged, err := store.PurgeExpiredPersonalAccessTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	rule := &access.ProtectionRule{ProjectID: 10, PackageType: "generic", NamePattern: "mypackage", MinimumAccessLevelForPush: access.LevelMaintainer}
	require.NoError(t, store.CreateProtectionRule(ctx, rule))
	assert.ErrorIs(t, store.CreateProtectionRule(ctx, &access.ProtectionRule{
		ProjectID: 10, PackageType: "generic", NamePattern: "mypackage", MinimumAccessLevelForPush: access.LevelOwner,
	}), storage.ErrAlreadyExists)

	rules, err := store.ListProtectionRules(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.NoError(t, store.DeleteProtectionRule(ctx, 10, rule.ID))
}
