// Package access defines the value types shared by every stage of an access
// decision: access levels, visibility, actions, principals, resources,
// protection rules and the final Decision.
//
// # Overview
//
// A request to a protected resource is reduced to exactly one Decision:
//
//	Allow         - the request may proceed
//	Unauthorized  - credential missing-but-required, malformed, or invalid
//	Forbidden     - principal is known but lacks the required role
//	NotFound      - resource does not exist or is invisible to the principal
//
// The types in this package carry no I/O. Stores live in pkg/storage, the
// credential pipeline in pkg/credentials and pkg/auth, role resolution in
// pkg/rbac, protection rules in pkg/protection and the decision combinator in
// pkg/engine.
//
// # Ordering
//
// AccessLevel and Visibility are totally ordered integers so that comparisons
// such as level >= LevelDeveloper read naturally:
//
//	none < guest < reporter < developer < maintainer < owner < admin
//	private < internal < public
package access
