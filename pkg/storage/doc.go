// Package storage defines the persistence surface of the access gate and an
// in-memory implementation of it.
//
// # Interfaces
//
// The interfaces are split by concern so callers depend on what they read:
//
//   - ResourceReader/ResourceStore: projects and groups, and the ancestor
//     chain of a resource (nearest first)
//   - UserStore, MembershipStore: accounts and direct membership levels
//   - TokenStore, DeployTokenStore, JobStore: credentials, looked up by the
//     SHA-256 hash of the secret, never by the secret itself
//   - JobTokenScopeStore: the cross-project CI job token allow-list
//   - ProtectionRuleStore: package protection rules per project
//
// Reader composes what a single access evaluation needs. Store composes
// everything and is implemented by Memory and postgres.Store.
//
// # Lookups
//
// Credential lookups return (nil, nil) when nothing matches, so that an
// unknown token is a normal outcome rather than an error. Resource lookups
// return ErrNotFound.
//
// # Request cache
//
// RequestCache memoizes chain and membership reads for the lifetime of one
// evaluation so that a decision sees a single consistent view.
//
// # Memory
//
// Memory backs tests and fixture driven deployments. Replace swaps the
// whole content atomically, which is how fixture reloads are applied.
package storage
