// Package rbac computes the effective role of a principal on a project or
// group.
//
// # Roles
//
// Membership levels are totally ordered:
//
//	none < guest < reporter < developer < maintainer < owner < admin
//
// A user's level on a resource is the maximum of the direct membership and
// every membership on an ancestor group. The admin level is granted only to
// admins with admin mode active for the request.
//
// # Principals
//
//	anonymous      no grant
//	user           inherited membership level
//	job            the triggering user's level on the job's own project; on a
//	               linked project, max(guest, user level) capped at developer
//	               for the linked features only
//	deploy token   read/write capabilities when bound to the resource or an
//	               ancestor group
//
// Memberships for the whole ancestor chain are read in one lookup.
package rbac
