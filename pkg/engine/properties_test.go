package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/auth"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

var featureSettings = []access.FeatureAccess{access.FeaturePrivate, access.FeatureEnabled, access.FeaturePublic}

// A principal ranked higher never loses an Allow held by one ranked lower
func TestProperty_Monotonicity(t *testing.T) {
	for _, vis := range allVisibilities {
		for _, fa := range featureSettings {
			t.Run(fmt.Sprintf("%s/%s", vis, fa), func(t *testing.T) {
				f := newFixture(t, vis, Options{})
				f.setFeature(access.FeaturePackageRegistry, fa)
				f.rule("guarded-.*", access.LevelMaintainer)

				// ranked lowest to highest
				ranked := []*credentials.Credential{nil}
				for _, level := range memberLevels {
					ranked = append(ranked, f.pat(level))
				}
				ranked = append(ranked, f.adminPAT(true))

				for _, action := range allActions {
					for _, name := range []string{"free", "guarded-lib"} {
						allowedFrom := -1
						for i, cred := range ranked {
							d := f.evaluatePackage(cred, action, name)
							if allowedFrom >= 0 {
								assert.True(t, d.Allowed(), "%s %s: rank %d denied (%s) after rank %d allowed", action, name, i, d, allowedFrom)
							} else if d.Allowed() {
								allowedFrom = i
							}
						}
						assert.NotEqual(t, -1, allowedFrom, "%s %s: active admin must be allowed", action, name)
					}
				}
			})
		}
	}
}

// A principal with no grant never learns that a private resource exists
func TestProperty_VisibilityLeakPrevention(t *testing.T) {
	for _, jobDenialForbidden := range []bool{false, true} {
		for _, setup := range []struct {
			name    string
			vis     access.Visibility
			feature access.FeatureAccess
		}{
			{"private project", access.VisibilityPrivate, access.FeatureEnabled},
			{"private feature", access.VisibilityPublic, access.FeaturePrivate},
			{"internal project private feature", access.VisibilityInternal, access.FeaturePrivate},
		} {
			t.Run(fmt.Sprintf("%s/job_forbidden=%t", setup.name, jobDenialForbidden), func(t *testing.T) {
				f := newFixture(t, setup.vis, Options{JobTokenDenialForbidden: jobDenialForbidden})
				f.setFeature(access.FeaturePackageRegistry, setup.feature)
				_, job := f.job(access.LevelNone)

				principals := map[string]*credentials.Credential{
					"anonymous":       nil,
					"non-member":      f.pat(access.LevelNone),
					"dormant admin":   f.adminPAT(false),
					"unbound deploy":  f.deployToken(access.ProjectRef(jobProjectID), auth.ScopeReadPackageRegistry, auth.ScopeWritePackageRegistry),
					"unlinked CI job": job,
				}

				for name, cred := range principals {
					for _, action := range allActions {
						d := f.evaluate(cred, action)
						if name == "unlinked CI job" && jobDenialForbidden {
							assert.Equal(t, access.OutcomeForbidden, d.Outcome(), "%s %s", name, action)
							continue
						}
						assert.Equal(t, access.NotFound(access.ReasonResourceInvisible), d, "%s %s", name, action)
					}
				}
			})
		}
	}
}

// An invalid credential is Unauthorized even where anonymous access succeeds
func TestProperty_InvalidCredentialPrecedence(t *testing.T) {
	for _, vis := range allVisibilities {
		t.Run(vis.String(), func(t *testing.T) {
			f := newFixture(t, vis, Options{})
			past := time.Now().Add(-time.Hour)

			owner := f.user(access.ProjectRef(targetID), access.LevelOwner, false)
			revoked, revokedSecret, err := f.tokens.CreatePersonalAccessToken(f.ctx, owner, "revoked", []string{"api"}, nil)
			require.NoError(t, err)
			require.NoError(t, f.tokens.RevokePersonalAccessToken(f.ctx, revoked.ID))
			_, expiredSecret, err := f.tokens.CreatePersonalAccessToken(f.ctx, owner, "expired", []string{"api"}, &past)
			require.NoError(t, err)

			finished, jobCred := f.job(access.LevelOwner)
			require.NoError(t, f.tokens.FinishJob(f.ctx, finished.ID, access.JobSuccess))

			blockedID := f.user(access.ProjectRef(targetID), access.LevelOwner, false)
			blockedCred := f.patFor(blockedID)
			u, err := f.store.GetUser(f.ctx, blockedID)
			require.NoError(t, err)
			u.State = storage.UserBlocked
			require.NoError(t, f.store.PutUser(f.ctx, u))

			invalid := map[string]*credentials.Credential{
				"garbage PAT":    {Scheme: credentials.SchemePrivateToken, Secret: "rgpat-garbage"},
				"garbage job":    {Scheme: credentials.SchemeJobToken, Secret: "rgjob-garbage"},
				"garbage deploy": {Scheme: credentials.SchemeDeployToken, Secret: "rgdt-garbage"},
				"garbage basic":  {Scheme: credentials.SchemeBasicPassword, Username: "someone", Secret: "hunter2"},
				"revoked PAT":    {Scheme: credentials.SchemePrivateToken, Secret: revokedSecret},
				"expired PAT":    {Scheme: credentials.SchemePrivateToken, Secret: expiredSecret},
				"finished job":   jobCred,
				"blocked user":   blockedCred,
			}

			for name, cred := range invalid {
				for _, action := range allActions {
					assert.Equal(t, access.Unauthorized(access.ReasonCredentialInvalid), f.evaluate(cred, action), "%s %s", name, action)
				}
			}

			// scope checks are per action
			readOnly := f.deployToken(access.ProjectRef(targetID), auth.ScopeReadPackageRegistry)
			assert.True(t, f.evaluate(readOnly, access.ActionRead).Allowed())
			assert.Equal(t, access.Unauthorized(access.ReasonCredentialInvalid), f.evaluate(readOnly, access.ActionWrite))

			readAPI := f.patFor(owner, auth.ScopeReadAPI)
			assert.True(t, f.evaluate(readAPI, access.ActionRead).Allowed())
			assert.Equal(t, access.Unauthorized(access.ReasonCredentialInvalid), f.evaluate(readAPI, access.ActionDelete))
		})
	}
}

// Deploy tokens push unprotected names but never names guarded by a role of
// maintainer or above
func TestProperty_ProtectionAsymmetry(t *testing.T) {
	for _, vis := range allVisibilities {
		t.Run(vis.String(), func(t *testing.T) {
			f := newFixture(t, vis, Options{})
			minimums := map[string]access.AccessLevel{
				"dev-.*":   access.LevelDeveloper,
				"maint-.*": access.LevelMaintainer,
				"owner-.*": access.LevelOwner,
				"admin-.*": access.LevelAdmin,
			}
			for pattern, level := range minimums {
				f.rule(pattern, level)
			}

			for _, bound := range []access.ResourceRef{access.ProjectRef(targetID), access.GroupRef(groupID)} {
				token := f.deployToken(bound, auth.ScopeReadPackageRegistry, auth.ScopeWritePackageRegistry)

				assert.Equal(t, access.Allow(access.ReasonRoleSatisfied), f.evaluatePackage(token, access.ActionWrite, "unprotected"))
				assert.Equal(t, access.Allow(access.ReasonRoleSatisfied), f.evaluatePackage(token, access.ActionWrite, "dev-lib"))
				for _, name := range []string{"maint-lib", "owner-lib", "admin-lib"} {
					d := f.evaluatePackage(token, access.ActionWrite, name)
					assert.Equal(t, access.Forbidden(access.ReasonPackageProtected), d, name)
					assert.Equal(t, access.MessagePackageProtected, d.Message())
				}
			}
		})
	}
}

// Job state is read on every evaluation
func TestProperty_JobStateGating(t *testing.T) {
	for _, terminal := range []access.JobStatus{access.JobFailed, access.JobSuccess, access.JobCanceled} {
		t.Run(string(terminal), func(t *testing.T) {
			f := newFixture(t, access.VisibilityPrivate, Options{})
			userID := f.user(access.ProjectRef(targetID), access.LevelDeveloper, false)
			job, secret, err := f.tokens.StartJob(f.ctx, targetID, 7, userID)
			require.NoError(t, err)
			cred := &credentials.Credential{Scheme: credentials.SchemeJobToken, Secret: secret}

			for i := 0; i < 3; i++ {
				assert.True(t, f.evaluate(cred, access.ActionWrite).Allowed())
			}

			require.NoError(t, f.tokens.FinishJob(f.ctx, job.ID, terminal))
			for _, action := range allActions {
				assert.Equal(t, access.Unauthorized(access.ReasonCredentialInvalid), f.evaluate(cred, action))
			}
		})
	}
}
