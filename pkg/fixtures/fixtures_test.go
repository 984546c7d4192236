package fixtures

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/auth"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/engine"
	"github.com/platinummonkey/registrygate/pkg/observability"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

const sample = `
groups:
  - {id: 1, path: acme, visibility: public}
  - {id: 2, path: acme/platform, visibility: internal, parent_id: 1}
projects:
  - id: 10
    path: acme/platform/widgets
    visibility: private
    parent_id: 2
    features:
      package_registry: enabled
      wiki: disabled
  - {id: 11, path: acme/tools, visibility: public, parent_id: 1}
users:
  - {id: 7, username: alice}
  - {id: 8, username: root, is_admin: true}
  - {id: 9, username: mallory, state: blocked}
memberships:
  - {user_id: 7, group: 2, level: developer}
  - {user_id: 9, project: 10, level: owner}
personal_access_tokens:
  - {user_id: 7, name: laptop, token: rgpat-alice-secret, scopes: [api]}
  - {user_id: 9, name: old, token: rgpat-mallory-secret, scopes: [api]}
deploy_tokens:
  - name: publish
    username: deployer
    token: rgdt-publish-secret
    scopes: [read_package_registry, write_package_registry]
    projects: [10]
    expires_at: 2099-01-01T00:00:00Z
jobs:
  - {id: 500, project_id: 11, pipeline_id: 3, user_id: 7, token: rgjob-running-secret}
  - {id: 501, project_id: 11, user_id: 7, status: success, token: rgjob-done-secret}
job_token_links:
  - {target_project_id: 10, source_project_id: 11, features: [package_registry]}
protection_rules:
  - project_id: 10
    package_type: generic
    package_name_pattern: "release-.*"
    minimum_access_level_for_push: maintainer
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, s.Resources, 4)
	widgets := s.Resources[2]
	assert.Equal(t, access.KindProject, widgets.Kind)
	assert.Equal(t, access.VisibilityPrivate, widgets.Visibility)
	assert.Equal(t, access.FeatureDisabled, widgets.Features[access.FeatureWiki])
	require.NotNil(t, widgets.ParentID)
	assert.Equal(t, int64(2), *widgets.ParentID)

	require.Len(t, s.Users, 3)
	assert.True(t, s.Users[1].IsAdmin)
	assert.Equal(t, storage.UserBlocked, s.Users[2].State)

	assert.Equal(t, []storage.Membership{
		{UserID: 7, Resource: access.GroupRef(2), Level: access.LevelDeveloper},
		{UserID: 9, Resource: access.ProjectRef(10), Level: access.LevelOwner},
	}, s.Memberships)

	require.Len(t, s.Tokens, 2)
	assert.Equal(t, auth.HashToken("rgpat-alice-secret"), s.Tokens[0].TokenHash)

	require.Len(t, s.DeployTokens, 1)
	assert.Equal(t, []access.ResourceRef{access.ProjectRef(10)}, s.DeployTokens[0].Bound)
	require.NotNil(t, s.DeployTokens[0].ExpiresAt)
	assert.Equal(t, 2099, s.DeployTokens[0].ExpiresAt.Year())

	require.Len(t, s.Jobs, 2)
	assert.Equal(t, access.JobRunning, s.Jobs[0].Status, "status defaults to running")
	assert.Equal(t, access.JobSuccess, s.Jobs[1].Status)

	require.Len(t, s.Rules, 1)
	assert.Equal(t, access.LevelMaintainer, s.Rules[0].MinimumAccessLevelForPush)
	assert.False(t, s.Rules[0].CreatedAt.IsZero())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing parent", `projects: [{id: 10, path: x, visibility: public, parent_id: 5}]`},
		{"duplicate project", `projects: [{id: 10, path: a, visibility: public}, {id: 10, path: b, visibility: public}]`},
		{"zero id", `groups: [{path: a, visibility: public}]`},
		{"membership unknown user", `
projects: [{id: 10, path: a, visibility: public}]
memberships: [{user_id: 1, project: 10, level: guest}]`},
		{"membership on both", `
groups: [{id: 1, path: g, visibility: public}]
projects: [{id: 10, path: a, visibility: public}]
users: [{id: 1, username: a}]
memberships: [{user_id: 1, project: 10, group: 1, level: guest}]`},
		{"token without secret", `
users: [{id: 1, username: a}]
personal_access_tokens: [{user_id: 1, name: t}]`},
		{"deploy token bound to unknown group", `deploy_tokens: [{name: d, username: u, token: x, groups: [4]}]`},
		{"job in unknown project", `
users: [{id: 1, username: a}]
jobs: [{id: 1, project_id: 3, user_id: 1, token: x}]`},
		{"bad rule pattern", `
projects: [{id: 10, path: a, visibility: public}]
protection_rules: [{project_id: 10, package_type: generic, package_name_pattern: "(", minimum_access_level_for_push: owner}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidFixture)
		})
	}

	_, err := Parse([]byte(`projects: [{id: 1, visibility: secretive}]`))
	assert.Error(t, err, "unknown visibility fails decoding")
}

// The loaded fixture drives real decisions end to end.
func TestApply_Decisions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	store := storage.NewMemory()
	require.NoError(t, Apply(path, store))
	eng := engine.New(store, engine.Options{})
	ctx := context.Background()

	decide := func(cred *credentials.Credential, project int64, action access.Action, pkg string) access.Decision {
		res, err := eng.Evaluate(ctx, engine.Request{
			Credential:  cred,
			Target:      access.ProjectRef(project),
			Feature:     access.FeaturePackageRegistry,
			Action:      action,
			PackageType: "generic",
			PackageName: pkg,
		})
		require.NoError(t, err)
		return res.Decision
	}
	pat := func(secret string) *credentials.Credential {
		return &credentials.Credential{Scheme: credentials.SchemePrivateToken, Secret: secret}
	}

	assert.True(t, decide(pat("rgpat-alice-secret"), 10, access.ActionWrite, "tool").Allowed(), "inherited developer")
	assert.Equal(t, access.Forbidden(access.ReasonPackageProtected), decide(pat("rgpat-alice-secret"), 10, access.ActionWrite, "release-1"))
	assert.Equal(t, access.Unauthorized(access.ReasonCredentialInvalid), decide(pat("rgpat-mallory-secret"), 10, access.ActionRead, ""), "blocked user")
	assert.Equal(t, access.NotFound(access.ReasonResourceInvisible), decide(nil, 10, access.ActionRead, ""))

	job := &credentials.Credential{Scheme: credentials.SchemeJobToken, Secret: "rgjob-running-secret"}
	assert.True(t, decide(job, 10, access.ActionRead, "").Allowed(), "linked source project")
	done := &credentials.Credential{Scheme: credentials.SchemeJobToken, Secret: "rgjob-done-secret"}
	assert.Equal(t, access.Unauthorized(access.ReasonCredentialInvalid), decide(done, 11, access.ActionRead, ""))
}

func TestWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`users: [{id: 1, username: first}]`), 0644))

	store := storage.NewMemory()
	require.NoError(t, Apply(path, store))

	w, err := NewWatcher(path, store, observability.NewLogger(observability.ErrorLevel, io.Discard))
	require.NoError(t, err)
	w.reloaded = make(chan error, 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor := func(check func() bool) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for !check() {
			select {
			case <-w.reloaded:
			case <-deadline:
				t.Fatal("timed out waiting for reload")
			}
		}
	}
	username := func() string {
		u, err := store.GetUser(context.Background(), 1)
		if err != nil || u == nil {
			return ""
		}
		return u.Username
	}

	// unrelated files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644))

	require.NoError(t, os.WriteFile(path, []byte(`users: [{id: 1, username: second}]`), 0644))
	waitFor(func() bool { return username() == "second" })

	// a broken file keeps the last good content
	require.NoError(t, os.WriteFile(path, []byte(`users: [{id: 0}]`), 0644))
	deadline := time.After(5 * time.Second)
	for failed := false; !failed; {
		select {
		case err := <-w.reloaded:
			failed = err != nil
		case <-deadline:
			t.Fatal("timed out waiting for failed reload")
		}
	}
	assert.Equal(t, "second", username())
}

func TestParse_EmptyFile(t *testing.T) {
	_, err := Parse([]byte("  \n"))
	assert.ErrorIs(t, err, ErrInvalidFixture)
}
