package access

import "net/http"

// Outcome is one of the four possible results of an access decision
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeUnauthorized
	OutcomeForbidden
	OutcomeNotFound
)

// String returns the lowercase outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Reason explains which rule produced a decision. Reasons are for logs and
// audit records; they never reach the client beyond Message.
type Reason string

const (
	ReasonOpen                Reason = "open"
	ReasonRoleSatisfied       Reason = "role_satisfied"
	ReasonCredentialMalformed Reason = "credential_malformed"
	ReasonCredentialInvalid   Reason = "credential_invalid"
	ReasonCredentialRequired  Reason = "credential_required"
	ReasonInsufficientRole    Reason = "insufficient_role"
	ReasonPackageProtected    Reason = "package_protected"
	ReasonResourceInvisible   Reason = "resource_invisible"
	ReasonResourceMissing     Reason = "resource_missing"
	ReasonFeatureDisabled     Reason = "feature_disabled"
)

// MessagePackageProtected is the body message of a protection violation
const MessagePackageProtected = "403 Forbidden - Package protected."

// Decision is the immutable result of one evaluation
type Decision struct {
	outcome Outcome
	reason  Reason
}

// Allow returns an Allow decision
func Allow(reason Reason) Decision {
	return Decision{outcome: OutcomeAllow, reason: reason}
}

// Unauthorized returns an Unauthorized decision
func Unauthorized(reason Reason) Decision {
	return Decision{outcome: OutcomeUnauthorized, reason: reason}
}

// Forbidden returns a Forbidden decision
func Forbidden(reason Reason) Decision {
	return Decision{outcome: OutcomeForbidden, reason: reason}
}

// NotFound returns a NotFound decision
func NotFound(reason Reason) Decision {
	return Decision{outcome: OutcomeNotFound, reason: reason}
}

// Outcome returns the decision outcome
func (d Decision) Outcome() Outcome { return d.outcome }

// Reason returns the rule that produced the decision
func (d Decision) Reason() Reason { return d.reason }

// Allowed reports whether the request may proceed
func (d Decision) Allowed() bool { return d.outcome == OutcomeAllow }

// HTTPStatus maps the decision to a status code. Allow maps to 200; the
// handler picks 201 or 204 for itself.
func (d Decision) HTTPStatus() int {
	switch d.outcome {
	case OutcomeAllow:
		return http.StatusOK
	case OutcomeUnauthorized:
		return http.StatusUnauthorized
	case OutcomeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusNotFound
	}
}

// Message returns the client-facing error message
func (d Decision) Message() string {
	switch d.outcome {
	case OutcomeAllow:
		return ""
	case OutcomeUnauthorized:
		return "401 Unauthorized"
	case OutcomeForbidden:
		if d.reason == ReasonPackageProtected {
			return MessagePackageProtected
		}
		return "403 Forbidden"
	default:
		return "404 Not Found"
	}
}

// String returns "outcome(reason)"
func (d Decision) String() string {
	return d.outcome.String() + "(" + string(d.reason) + ")"
}
