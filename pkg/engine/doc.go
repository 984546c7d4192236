// Package engine decides whether one request may perform one action on one
// project or group.
//
// Evaluate combines the credential check, the visibility classification, the
// role grant and the package protection rules into a single access.Decision.
// The order of those checks is what separates the outcomes:
//
//  1. a malformed or invalid credential is Unauthorized, even on a public
//     resource
//  2. a missing resource or disabled feature is NotFound
//  3. an open resource is readable without any role
//  4. a grant that satisfies the action, and any protection rule that
//     governs it, is Allow
//  5. a principal with no grant on a private resource gets NotFound, so the
//     resource's existence is not revealed
//  6. everything else is Forbidden, or Unauthorized for anonymous requests
//
// Errors returned by Evaluate are infrastructure failures only; every access
// outcome is a Decision.
package engine
