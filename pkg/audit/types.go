package audit

import (
	"time"

	"github.com/platinummonkey/registrygate/pkg/access"
)

// EventType is the category of an audit event
type EventType string

const (
	EventTypeAccessDecision       EventType = "access.decision"
	EventTypeTokenCreate          EventType = "token.create"
	EventTypeTokenRevoke          EventType = "token.revoke"
	EventTypeProtectionRuleCreate EventType = "protection_rule.create"
	EventTypeProtectionRuleDelete EventType = "protection_rule.delete"
	EventTypePackageUpload        EventType = "package.upload"
	EventTypePackageDelete        EventType = "package.delete"
	EventTypeTokenPurge           EventType = "token.purge"
)

// AuditEvent is a single audit record. It never carries a credential.
type AuditEvent struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	// Actor
	PrincipalKind access.PrincipalKind `json:"principal_kind,omitempty"`
	PrincipalID   int64                `json:"principal_id,omitempty"`

	// Target
	Resource    string         `json:"resource,omitempty"` // "project:10"
	Feature     access.Feature `json:"feature,omitempty"`
	Action      access.Action  `json:"action,omitempty"`
	PackageName string         `json:"package_name,omitempty"`

	// Decision
	Outcome string `json:"outcome,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	Message string `json:"message,omitempty"`
}

// SetPrincipal fills the actor fields from p
func (e *AuditEvent) SetPrincipal(p access.Principal) {
	if access.IsAnonymous(p) {
		e.PrincipalKind = access.KindAnonymous
		e.PrincipalID = 0
		return
	}
	id := p.Identity()
	e.PrincipalKind = id.Kind
	e.PrincipalID = id.ID
}

// SetDecision fills the decision fields from d
func (e *AuditEvent) SetDecision(d access.Decision) {
	e.Outcome = d.Outcome().String()
	e.Reason = string(d.Reason())
}
