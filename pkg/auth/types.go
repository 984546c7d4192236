package auth

import "github.com/platinummonkey/registrygate/pkg/access"

// Scope is a token scope
type Scope string

const (
	ScopeAPI                  Scope = "api"
	ScopeReadAPI              Scope = "read_api"
	ScopeReadPackageRegistry  Scope = "read_package_registry"
	ScopeWritePackageRegistry Scope = "write_package_registry"
	ScopeAdminMode            Scope = "admin_mode"
)

// PersonalAccessTokenScopes lists the scopes a personal access token may carry
func PersonalAccessTokenScopes() []Scope {
	return []Scope{ScopeAPI, ScopeReadAPI, ScopeReadPackageRegistry, ScopeWritePackageRegistry, ScopeAdminMode}
}

// DeployTokenScopes lists the scopes a deploy token may carry
func DeployTokenScopes() []Scope {
	return []Scope{ScopeReadPackageRegistry, ScopeWritePackageRegistry}
}

// HasScope reports whether scopes contains scope
func HasScope(scopes []string, scope Scope) bool {
	for _, s := range scopes {
		if Scope(s) == scope {
			return true
		}
	}
	return false
}

// patAllows reports whether personal access token scopes permit an action
func patAllows(scopes []string, action access.Action) bool {
	if HasScope(scopes, ScopeAPI) {
		return true
	}
	switch action {
	case access.ActionRead:
		return HasScope(scopes, ScopeReadAPI) ||
			HasScope(scopes, ScopeReadPackageRegistry) ||
			HasScope(scopes, ScopeWritePackageRegistry)
	case access.ActionWrite, access.ActionDelete:
		return HasScope(scopes, ScopeWritePackageRegistry)
	}
	return false
}

// deployAllows reports whether deploy token scopes permit an action. Admin
// actions pass the scope check and are refused by the role check instead.
func deployAllows(scopes []string, action access.Action) bool {
	read := HasScope(scopes, ScopeReadPackageRegistry)
	write := HasScope(scopes, ScopeWritePackageRegistry)
	switch action {
	case access.ActionRead:
		return read
	case access.ActionWrite, access.ActionDelete:
		return write
	default:
		return read || write
	}
}

// ValidateScopes checks that every requested scope is allowed
func ValidateScopes(requested []string, allowed []Scope) error {
	if len(requested) == 0 {
		return ErrNoScopes
	}
	for _, s := range requested {
		ok := false
		for _, a := range allowed {
			if Scope(s) == a {
				ok = true
				break
			}
		}
		if !ok {
			return &UnknownScopeError{Scope: s}
		}
	}
	return nil
}

// UnknownScopeError reports a scope outside the allowed set
type UnknownScopeError struct {
	Scope string
}

func (e *UnknownScopeError) Error() string {
	return "unknown scope " + e.Scope
}
