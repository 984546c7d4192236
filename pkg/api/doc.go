// Package api serves the registry HTTP API under /api/v4.
//
// Every route sits behind a middleware.Gate with a policy naming the
// protected resource, the feature and, where the HTTP method is not
// enough, the action. Handlers only run for allowed requests and read the
// principal from the context.
//
// # Routes
//
//	GET    /projects/{id}
//	GET    /projects/{id}/repository/commits
//	GET    /projects/{id}/packages
//	GET    /projects/{id}/packages/{type}/{name}/{version}/{file}
//	PUT    /projects/{id}/packages/{type}/{name}/{version}/{file}
//	DELETE /projects/{id}/packages/{type}/{name}/{version}
//	GET    /projects/{id}/packages/protection/rules
//	POST   /projects/{id}/packages/protection/rules
//	DELETE /projects/{id}/packages/protection/rules/{rule_id}
//	GET    /groups/{id}/-/packages
//
// Writes and deletes of package files are subject to package protection
// rules. Protection rule management requires the admin action, which maps
// to the maintainer role.
package api
