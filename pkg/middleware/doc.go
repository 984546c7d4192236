// Package middleware puts the access engine and rate limiting in front of
// the API handlers.
//
// Gate resolves the request credential, evaluates it against the route's
// Policy and either writes the denial (401, 403 or 404 with a JSON message)
// or calls the handler with the principal and decision in the context:
//
//	gate := middleware.NewGate(credentials.NewResolver(""), eng, store, logger)
//	router.Handle("/projects/{id}/packages", gate.Protect(middleware.Policy{
//		Target:  projectTarget,
//		Feature: access.FeaturePackageRegistry,
//	}, handler))
//
// After an Allow the gate stamps the token's last use in the background.
//
// RateLimit throttles by client address with either a MemoryLimiter (one
// process) or a RedisLimiter (shared between instances). Limiter errors let
// the request through.
package middleware
