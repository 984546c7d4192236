// Package contextkeys defines the request context keys shared between the
// access gate and the API handlers.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	principal := contextkeys.Principal(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains access.Principal
	// Set by: middleware.Gate after evaluation
	// Required by: handlers that record who acted (uploads, rule changes)
	PrincipalKey Key = "principal"

	// DecisionKey contains access.Decision
	// Set by: middleware.Gate
	// Used by: handlers and tests inspecting why a request was allowed
	DecisionKey Key = "decision"
)

// WithPrincipal adds the evaluated principal to the context
func WithPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// Principal returns the evaluated principal, or access.Anonymous
func Principal(ctx context.Context) access.Principal {
	if p, ok := ctx.Value(PrincipalKey).(access.Principal); ok && p != nil {
		return p
	}
	return access.Anonymous
}

// WithDecision adds the gate decision to the context
func WithDecision(ctx context.Context, d access.Decision) context.Context {
	return context.WithValue(ctx, DecisionKey, d)
}

// Decision returns the gate decision. ok is false outside a gated route.
func Decision(ctx context.Context) (access.Decision, bool) {
	d, ok := ctx.Value(DecisionKey).(access.Decision)
	return d, ok
}
