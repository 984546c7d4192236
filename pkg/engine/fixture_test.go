package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/auth"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

const (
	groupID        = int64(1)
	subgroupID     = int64(2)
	targetID       = int64(10)
	jobProjectID   = int64(20)
	packageType    = "generic"
	anyPackageName = "mypackage"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *storage.Memory
	tokens *auth.TokenManager
	engine *Engine
	nextID int64
}

// newFixture builds
//
//	acme (group 1, public)
//	└── acme/platform (group 2, public)
//	    └── acme/platform/widgets (project 10, vis)
//	acme/ci (project 20, private), home of CI jobs
func newFixture(t *testing.T, vis access.Visibility, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  storage.NewMemory(),
		nextID: 100,
	}
	f.tokens = auth.NewTokenManager(f.store)

	f.putResource(&access.Resource{ID: groupID, Kind: access.KindGroup, Path: "acme", Visibility: access.VisibilityPublic})
	f.putResource(&access.Resource{ID: subgroupID, Kind: access.KindGroup, Path: "acme/platform", Visibility: access.VisibilityPublic, ParentID: ptr(groupID)})
	f.putResource(&access.Resource{ID: targetID, Kind: access.KindProject, Path: "acme/platform/widgets", Visibility: vis, ParentID: ptr(subgroupID)})
	f.putResource(&access.Resource{ID: jobProjectID, Kind: access.KindProject, Path: "acme/ci", Visibility: access.VisibilityPrivate, ParentID: ptr(groupID)})

	f.engine = New(f.store, opts)
	return f
}

func ptr(v int64) *int64 { return &v }

func (f *fixture) putResource(r *access.Resource) {
	f.t.Helper()
	require.NoError(f.t, f.store.PutResource(f.ctx, r))
}

func (f *fixture) setFeature(feature access.Feature, fa access.FeatureAccess) {
	f.t.Helper()
	r, err := f.store.GetResource(f.ctx, access.ProjectRef(targetID))
	require.NoError(f.t, err)
	if r.Features == nil {
		r.Features = map[access.Feature]access.FeatureAccess{}
	}
	r.Features[feature] = fa
	f.putResource(r)
}

// user creates a user holding level on ref (none for LevelNone)
func (f *fixture) user(ref access.ResourceRef, level access.AccessLevel, admin bool) int64 {
	f.t.Helper()
	f.nextID++
	u := &storage.User{ID: f.nextID, Username: "user", IsAdmin: admin, State: storage.UserActive}
	require.NoError(f.t, f.store.PutUser(f.ctx, u))
	if level > access.LevelNone {
		require.NoError(f.t, f.store.SetLevel(f.ctx, u.ID, ref, level))
	}
	return u.ID
}

// pat creates a user at level on the target and returns a token credential
func (f *fixture) pat(level access.AccessLevel, scopes ...auth.Scope) *credentials.Credential {
	f.t.Helper()
	return f.patFor(f.user(access.ProjectRef(targetID), level, false), scopes...)
}

func (f *fixture) patFor(userID int64, scopes ...auth.Scope) *credentials.Credential {
	f.t.Helper()
	if len(scopes) == 0 {
		scopes = []auth.Scope{auth.ScopeAPI}
	}
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = string(s)
	}
	_, secret, err := f.tokens.CreatePersonalAccessToken(f.ctx, userID, "test", names, nil)
	require.NoError(f.t, err)
	return &credentials.Credential{Scheme: credentials.SchemePrivateToken, Secret: secret, Source: credentials.HeaderPrivateToken}
}

// adminPAT returns a token of an instance admin with no membership
func (f *fixture) adminPAT(adminMode bool) *credentials.Credential {
	f.t.Helper()
	id := f.user(access.ProjectRef(targetID), access.LevelNone, true)
	if adminMode {
		return f.patFor(id, auth.ScopeAPI, auth.ScopeAdminMode)
	}
	return f.patFor(id, auth.ScopeAPI)
}

func (f *fixture) deployToken(bound access.ResourceRef, scopes ...auth.Scope) *credentials.Credential {
	f.t.Helper()
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = string(s)
	}
	_, secret, err := f.tokens.CreateDeployToken(f.ctx, "deploy", "deployer", names, []access.ResourceRef{bound}, nil)
	require.NoError(f.t, err)
	return &credentials.Credential{Scheme: credentials.SchemeDeployToken, Secret: secret, Source: credentials.HeaderDeployToken}
}

// job starts a running job in project 20 for a user holding level on the
// target
func (f *fixture) job(level access.AccessLevel) (*storage.Job, *credentials.Credential) {
	f.t.Helper()
	userID := f.user(access.ProjectRef(targetID), level, false)
	require.NoError(f.t, f.store.SetLevel(f.ctx, userID, access.ProjectRef(jobProjectID), access.LevelDeveloper))
	job, secret, err := f.tokens.StartJob(f.ctx, jobProjectID, 1, userID)
	require.NoError(f.t, err)
	return job, &credentials.Credential{Scheme: credentials.SchemeJobToken, Secret: secret, Source: credentials.HeaderJobToken}
}

func (f *fixture) rule(pattern string, push access.AccessLevel) *access.ProtectionRule {
	f.t.Helper()
	r := &access.ProtectionRule{ProjectID: targetID, PackageType: packageType, NamePattern: pattern, MinimumAccessLevelForPush: push}
	require.NoError(f.t, f.store.CreateProtectionRule(f.ctx, r))
	return r
}

func (f *fixture) evaluate(cred *credentials.Credential, action access.Action) access.Decision {
	f.t.Helper()
	return f.evaluatePackage(cred, action, anyPackageName)
}

func (f *fixture) evaluatePackage(cred *credentials.Credential, action access.Action, name string) access.Decision {
	f.t.Helper()
	res, err := f.engine.Evaluate(f.ctx, Request{
		Credential:  cred,
		Target:      access.ProjectRef(targetID),
		Feature:     access.FeaturePackageRegistry,
		Action:      action,
		PackageType: packageType,
		PackageName: name,
	})
	require.NoError(f.t, err)
	return res.Decision
}

var allActions = []access.Action{access.ActionRead, access.ActionWrite, access.ActionDelete, access.ActionAdmin}

var allVisibilities = []access.Visibility{access.VisibilityPrivate, access.VisibilityInternal, access.VisibilityPublic}

// memberLevels are the levels reachable through membership
var memberLevels = []access.AccessLevel{
	access.LevelNone, access.LevelGuest, access.LevelReporter,
	access.LevelDeveloper, access.LevelMaintainer, access.LevelOwner,
}
