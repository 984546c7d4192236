package access

import "net/http"

// Action is the category of operation a request performs
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// ActionForMethod maps an HTTP method to its action category. Unknown
// methods map to ActionAdmin so that they require the highest standard role.
func ActionForMethod(method string) Action {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionRead
	case http.MethodPut, http.MethodPost, http.MethodPatch:
		return ActionWrite
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionAdmin
	}
}

// RequiredLevel returns the minimum membership level an action needs when
// the resource is not open to the principal.
func RequiredLevel(action Action) AccessLevel {
	switch action {
	case ActionRead:
		return LevelGuest
	case ActionWrite:
		return LevelDeveloper
	default:
		return LevelMaintainer
	}
}

// IsMutation reports whether the action changes state
func (a Action) IsMutation() bool {
	return a == ActionWrite || a == ActionDelete || a == ActionAdmin
}
