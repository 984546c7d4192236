package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/async"
	"github.com/platinummonkey/registrygate/pkg/auth"
	"github.com/platinummonkey/registrygate/pkg/contextkeys"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/engine"
	"github.com/platinummonkey/registrygate/pkg/httputil"
	"github.com/platinummonkey/registrygate/pkg/observability"
)

// Evaluator decides access requests
type Evaluator interface {
	Evaluate(ctx context.Context, req engine.Request) (engine.Result, error)
}

// Policy describes what a route protects
type Policy struct {
	// Target extracts the protected resource from the request
	Target func(r *http.Request) (access.ResourceRef, error)
	Feature access.Feature
	// Action overrides the action derived from the HTTP method
	Action access.Action
	// Package extracts the package type and name for protection checks
	Package func(r *http.Request) (packageType, packageName string)
}

// Gate runs the access engine in front of a handler
type Gate struct {
	resolver *credentials.Resolver
	engine   Evaluator
	usage    auth.UsageRecorder
	logger   *observability.Logger
	now      func() time.Time

	pending *async.Group
}

// usageTimeout bounds one last-used update
const usageTimeout = 5 * time.Second

// NewGate creates a gate. usage may be nil to skip last-used tracking.
func NewGate(resolver *credentials.Resolver, evaluator Evaluator, usage auth.UsageRecorder, logger *observability.Logger) *Gate {
	return &Gate{
		resolver: resolver,
		engine:   evaluator,
		usage:    usage,
		logger:   logger,
		now:      time.Now,
		pending:  async.NewGroup(logger, usageTimeout),
	}
}

// Protect wraps next so that it only runs for allowed requests. Denied
// requests get the decision's status and message.
func (g *Gate) Protect(policy Policy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		cred, err := g.resolver.Resolve(r)
		malformed := errors.Is(err, credentials.ErrMalformedCredential)

		target, err := policy.Target(r)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}

		action := policy.Action
		if action == "" {
			action = access.ActionForMethod(r.Method)
		}

		req := engine.Request{
			Credential: cred,
			Malformed:  malformed,
			Target:     target,
			Feature:    policy.Feature,
			Action:     action,
		}
		if policy.Package != nil {
			req.PackageType, req.PackageName = policy.Package(r)
		}

		res, err := g.engine.Evaluate(ctx, req)
		if err != nil {
			httputil.WriteInternalError(w)
			return
		}

		ctx = contextkeys.WithPrincipal(ctx, res.Principal)
		ctx = contextkeys.WithDecision(ctx, res.Decision)
		ctx = observability.WithPrincipal(ctx, res.Principal.Identity().String())

		if !res.Decision.Allowed() {
			httputil.WriteDecision(w, res.Decision)
			return
		}

		g.recordUsage(ctx, res.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recordUsage stamps the token's last use without holding up the request
func (g *Gate) recordUsage(ctx context.Context, p access.Principal) {
	if g.usage == nil {
		return
	}
	switch p.Kind() {
	case access.KindUser, access.KindDeployToken:
	default:
		return
	}

	at := g.now()
	g.pending.Go(ctx, "record token usage", func(ctx context.Context) error {
		if err := auth.RecordUsage(ctx, g.usage, p, at); err != nil {
			return fmt.Errorf("principal %s: %w", p.Identity().String(), err)
		}
		return nil
	})
}

// Wait blocks until pending usage updates finish
func (g *Gate) Wait() {
	g.pending.Wait()
}
