// Package auth turns presented credentials into principals and manages the
// lifecycle of the tokens behind them.
//
// # Tokens
//
// Every secret is random, prefixed by its kind and stored only as a SHA-256
// hash:
//
//	rgpat-<base64url(32 bytes)>   personal access token
//	rgdt-<base64url(32 bytes)>    deploy token
//	rgjob-<base64url(32 bytes)>   CI job token
//
// The plaintext is returned once, at creation.
//
// # Validation
//
// Validator implements the validity check of an access decision:
//
//	principal, err := validator.Validate(ctx, cred, access.ActionWrite)
//	if errors.Is(err, auth.ErrInvalidCredential) {
//		// 401, regardless of resource visibility
//	}
//
// A nil credential yields access.Anonymous. Any error that does not wrap
// ErrInvalidCredential is an infrastructure failure.
//
// Personal access token scopes:
//
//	api                     read and write
//	read_api                read
//	read_package_registry   read
//	write_package_registry  write and delete
//	admin_mode              activates admin rights of an admin user
//
// Deploy token scopes are read_package_registry and write_package_registry.
// Scope checks are per action: a read-only token attempting a write is
// invalid for that request only.
package auth
