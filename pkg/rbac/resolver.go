package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// linkedJobCeiling is the highest level a job receives through a
// cross-project link
const linkedJobCeiling = access.LevelDeveloper

// Reader is what the resolver reads
type Reader interface {
	storage.MembershipReader
	storage.JobTokenScopeReader
}

// Resolver resolves grants
type Resolver struct {
	reader Reader
}

// NewResolver creates a resolver over reader. Callers evaluating a single
// request should pass a storage.RequestCache.
func NewResolver(reader Reader) *Resolver {
	return &Resolver{reader: reader}
}

// Resolve returns the grant of p on chain[0] for feature. chain is the
// target followed by its ancestors, nearest first.
func (r *Resolver) Resolve(ctx context.Context, p access.Principal, chain []*access.Resource, feature access.Feature) (access.Grant, error) {
	if len(chain) == 0 || access.IsAnonymous(p) {
		return access.NoGrant, nil
	}

	switch principal := p.(type) {
	case *access.UserPrincipal:
		if principal.IsActiveAdmin() {
			return access.Grant{Level: access.LevelAdmin}, nil
		}
		level, err := r.inheritedLevel(ctx, principal.UserID, chain)
		if err != nil {
			return access.NoGrant, err
		}
		return access.Grant{Level: level}, nil

	case *access.JobPrincipal:
		return r.resolveJob(ctx, principal, chain, feature)

	case *access.DeployTokenPrincipal:
		for _, res := range chain {
			if principal.BoundTo(res.Ref()) {
				return access.Grant{DeployRead: principal.Read, DeployWrite: principal.Write}, nil
			}
		}
		return access.NoGrant, nil
	}

	return access.NoGrant, fmt.Errorf("unsupported principal kind %q", p.Kind())
}

func (r *Resolver) resolveJob(ctx context.Context, job *access.JobPrincipal, chain []*access.Resource, feature access.Feature) (access.Grant, error) {
	target := chain[0]
	if target.Kind != access.KindProject {
		return access.NoGrant, nil
	}

	if target.ID == job.ProjectID {
		level, err := r.inheritedLevel(ctx, job.UserID, chain)
		if err != nil {
			return access.NoGrant, err
		}
		return access.Grant{Level: level}, nil
	}

	link, err := r.reader.GetJobTokenLink(ctx, target.ID, job.ProjectID)
	if err != nil {
		return access.NoGrant, fmt.Errorf("failed to load job token link: %w", err)
	}
	if link == nil || !link.Allows(feature) {
		return access.NoGrant, nil
	}

	level, err := r.inheritedLevel(ctx, job.UserID, chain)
	if err != nil {
		return access.NoGrant, err
	}
	return access.Grant{Level: access.Min(access.Max(access.LevelGuest, level), linkedJobCeiling)}, nil
}

// inheritedLevel is the highest membership of userID on any resource of the
// chain
func (r *Resolver) inheritedLevel(ctx context.Context, userID int64, chain []*access.Resource) (access.AccessLevel, error) {
	refs := make([]access.ResourceRef, len(chain))
	for i, res := range chain {
		refs[i] = res.Ref()
	}

	levels, err := r.reader.MembershipLevels(ctx, userID, refs)
	if err != nil {
		return access.LevelNone, fmt.Errorf("failed to load memberships of user %d: %w", userID, err)
	}

	level := access.LevelNone
	for _, l := range levels {
		level = access.Max(level, l)
	}
	return level, nil
}
