package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/auth"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/observability"
	"github.com/platinummonkey/registrygate/pkg/protection"
	"github.com/platinummonkey/registrygate/pkg/rbac"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// Store is everything an evaluation reads
type Store interface {
	auth.CredentialStore
	storage.Reader
}

// Options tune an Engine. The zero value is usable.
type Options struct {
	// JobTokenDenialForbidden makes job principals without a grant on a
	// private resource receive Forbidden instead of NotFound
	JobTokenDenialForbidden bool

	PatternCacheSize int
	PatternCacheTTL  time.Duration

	Metrics *observability.Metrics
	Auditor audit.Logger
}

// Request is one access question
type Request struct {
	// Credential is nil for anonymous requests
	Credential *credentials.Credential
	// Malformed is set when the request presented conflicting secrets
	Malformed bool

	Target  access.ResourceRef
	Feature access.Feature
	Action  access.Action

	// PackageType and PackageName select protection rules for write and
	// delete actions. An empty PackageName skips protection.
	PackageType string
	PackageName string
}

// Result is a decision plus the principal it was made for
type Result struct {
	Decision  access.Decision
	Principal access.Principal
	// Rule is the protection rule that blocked the request, if any
	Rule *access.ProtectionRule
}

// Engine evaluates requests. It is safe for concurrent use.
type Engine struct {
	store     Store
	validator *auth.Validator
	rules     *protection.Evaluator
	opts      Options
}

// New creates an engine reading from store
func New(store Store, opts Options) *Engine {
	if opts.Auditor == nil {
		opts.Auditor = audit.NoOp()
	}
	return &Engine{
		store:     store,
		validator: auth.NewValidator(store),
		rules:     protection.NewEvaluator(opts.PatternCacheSize, opts.PatternCacheTTL),
		opts:      opts,
	}
}

// Evaluate decides req. The returned error is non-nil only when a store
// lookup failed.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	ctx, span := observability.Tracer().Start(ctx, "engine.Evaluate",
		trace.WithAttributes(
			attribute.String("registrygate.resource", req.Target.String()),
			attribute.String("registrygate.feature", string(req.Feature)),
			attribute.String("registrygate.action", string(req.Action)),
		))
	defer span.End()

	res, err := e.evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "access evaluation failed")
		if e.opts.Metrics != nil {
			e.opts.Metrics.AccessDecisionErrors.WithLabelValues(string(req.Action)).Inc()
		}
		observability.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"resource": req.Target.String(),
			"action":   string(req.Action),
		}).Error("access evaluation failed")
		return Result{}, err
	}
	if res.Principal == nil {
		res.Principal = access.Anonymous
	}

	kind := string(res.Principal.Kind())
	span.SetAttributes(
		attribute.String("registrygate.principal_kind", kind),
		attribute.String("registrygate.outcome", res.Decision.Outcome().String()),
		attribute.String("registrygate.reason", string(res.Decision.Reason())),
	)
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveDecision(res.Decision.Outcome().String(), string(req.Action), kind, time.Since(start))
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"resource":       req.Target.String(),
		"feature":        string(req.Feature),
		"action":         string(req.Action),
		"principal_kind": kind,
		"decision":       res.Decision.String(),
	}).Debug("access decision")

	e.record(ctx, req, res)
	return res, nil
}

// record audits every decision except allowed reads
func (e *Engine) record(ctx context.Context, req Request, res Result) {
	if res.Decision.Allowed() && req.Action == access.ActionRead {
		return
	}

	event := &audit.AuditEvent{
		Timestamp:   time.Now(),
		EventType:   audit.EventTypeAccessDecision,
		Resource:    req.Target.String(),
		Feature:     req.Feature,
		Action:      req.Action,
		PackageName: req.PackageName,
		RequestID:   observability.GetRequestID(ctx),
	}
	event.SetPrincipal(res.Principal)
	event.SetDecision(res.Decision)
	if res.Rule != nil {
		event.Message = fmt.Sprintf("protection rule %d (%s)", res.Rule.ID, res.Rule.NamePattern)
	}

	if err := e.opts.Auditor.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to record access decision")
	}
}

func (e *Engine) evaluate(ctx context.Context, req Request) (Result, error) {
	if req.Malformed {
		return Result{Decision: access.Unauthorized(access.ReasonCredentialMalformed)}, nil
	}

	cache := storage.NewRequestCache(e.store)

	// The credential and the resource chain are independent; a lookup
	// failure in either is fatal, a missing record is not.
	var (
		principal access.Principal
		chain     []*access.Resource
		invalid   bool
		missing   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.validator.Validate(gctx, req.Credential, req.Action)
		if errors.Is(err, auth.ErrInvalidCredential) {
			invalid = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to validate credential: %w", err)
		}
		principal = p
		return nil
	})
	g.Go(func() error {
		c, err := cache.GetResourceChain(gctx, req.Target)
		if errors.Is(err, storage.ErrNotFound) {
			missing = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", req.Target, err)
		}
		chain = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if invalid {
		return Result{Decision: access.Unauthorized(access.ReasonCredentialInvalid)}, nil
	}
	res := Result{Principal: principal}
	if missing {
		res.Decision = access.NotFound(access.ReasonResourceMissing)
		return res, nil
	}

	vis, enabled := access.EffectiveVisibility(chain, req.Feature)
	if !enabled {
		res.Decision = access.NotFound(access.ReasonFeatureDisabled)
		return res, nil
	}
	if vis == access.VisibilityPublic && req.Action == access.ActionRead {
		res.Decision = access.Allow(access.ReasonOpen)
		return res, nil
	}

	grant, rules, err := e.lookup(ctx, cache, req, principal, chain)
	if err != nil {
		return Result{}, err
	}

	if access.Classify(vis, principal, grant) == access.Open && req.Action == access.ActionRead {
		res.Decision = access.Allow(access.ReasonOpen)
		return res, nil
	}

	protected := false
	if grant.Satisfies(req.Action) {
		verdict := e.rules.Evaluate(rules, req.PackageName, req.Action, principal, grant)
		if verdict.Err != nil {
			observability.FromContext(ctx).WithError(verdict.Err).
				WithField("rule_id", verdict.Rule.ID).
				Warn("protection rule pattern does not compile")
		}
		if verdict.Result == protection.Allowed {
			res.Decision = access.Allow(access.ReasonRoleSatisfied)
			return res, nil
		}
		protected = true
		res.Rule = verdict.Rule
	}

	if grant.Zero() && vis == access.VisibilityPrivate && !e.exempt(principal) {
		res.Rule = nil
		res.Decision = access.NotFound(access.ReasonResourceInvisible)
		return res, nil
	}

	switch {
	case protected:
		res.Decision = access.Forbidden(access.ReasonPackageProtected)
	case access.IsAnonymous(principal):
		res.Decision = access.Unauthorized(access.ReasonCredentialRequired)
	default:
		res.Decision = access.Forbidden(access.ReasonInsufficientRole)
	}
	return res, nil
}

// lookup resolves the grant and, when protection applies, the rules of the
// target project
func (e *Engine) lookup(ctx context.Context, cache *storage.RequestCache, req Request, principal access.Principal, chain []*access.Resource) (access.Grant, []access.ProtectionRule, error) {
	var (
		grant access.Grant
		rules []access.ProtectionRule
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		grant, err = rbac.NewResolver(cache).Resolve(gctx, principal, chain, req.Feature)
		if err != nil {
			return fmt.Errorf("failed to resolve grant: %w", err)
		}
		return nil
	})

	target := chain[0]
	if protection.Applies(req.Action) && req.PackageName != "" && target.Kind == access.KindProject {
		g.Go(func() error {
			var err error
			rules, err = cache.ListProtectionRules(gctx, target.ID, req.PackageType)
			if err != nil {
				return fmt.Errorf("failed to list protection rules: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return access.NoGrant, nil, err
	}
	return grant, rules, nil
}

// exempt reports whether a principal without a grant still learns that a
// private resource exists
func (e *Engine) exempt(p access.Principal) bool {
	return e.opts.JobTokenDenialForbidden && p != nil && p.Kind() == access.KindJob
}
