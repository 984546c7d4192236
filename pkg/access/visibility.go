package access

import (
	"fmt"
	"strings"
)

// Visibility is the tri-state openness of a resource
type Visibility int

const (
	VisibilityPrivate  Visibility = 0
	VisibilityInternal Visibility = 10
	VisibilityPublic   Visibility = 20
)

// String returns the lowercase visibility name
func (v Visibility) String() string {
	switch v {
	case VisibilityPrivate:
		return "private"
	case VisibilityInternal:
		return "internal"
	case VisibilityPublic:
		return "public"
	default:
		return fmt.Sprintf("visibility(%d)", int(v))
	}
}

// ParseVisibility parses "private", "internal" or "public"
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "private":
		return VisibilityPrivate, nil
	case "internal":
		return VisibilityInternal, nil
	case "public":
		return VisibilityPublic, nil
	default:
		return VisibilityPrivate, fmt.Errorf("unknown visibility %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Visibility) UnmarshalText(text []byte) error {
	parsed, err := ParseVisibility(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Feature names a feature of a resource that may carry its own access override
type Feature string

const (
	FeatureProject         Feature = "project" // the resource itself, never overridden
	FeaturePackageRegistry Feature = "package_registry"
	FeatureRepository      Feature = "repository"
	FeatureMergeRequests   Feature = "merge_requests"
	FeatureWiki            Feature = "wiki"
)

// FeatureAccess is a per-feature override of resource visibility
type FeatureAccess int

const (
	FeatureDisabled FeatureAccess = 0
	FeaturePrivate  FeatureAccess = 10 // members only
	FeatureEnabled  FeatureAccess = 20 // follow resource visibility
	FeaturePublic   FeatureAccess = 30 // everyone, regardless of resource visibility
)

var featureAccessNames = map[FeatureAccess]string{
	FeatureDisabled: "disabled",
	FeaturePrivate:  "private",
	FeatureEnabled:  "enabled",
	FeaturePublic:   "public",
}

// String returns the lowercase feature access name
func (f FeatureAccess) String() string {
	if name, ok := featureAccessNames[f]; ok {
		return name
	}
	return fmt.Sprintf("feature_access(%d)", int(f))
}

// MarshalText implements encoding.TextMarshaler
func (f FeatureAccess) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *FeatureAccess) UnmarshalText(text []byte) error {
	needle := strings.ToLower(strings.TrimSpace(string(text)))
	for access, name := range featureAccessNames {
		if name == needle {
			*f = access
			return nil
		}
	}
	return fmt.Errorf("unknown feature access %q", string(text))
}

// EffectiveVisibility computes the visibility of a feature on the first
// resource of chain. chain[0] is the target and the remaining entries are its
// ancestors, nearest first. The result is the minimum visibility along the
// chain narrowed by the feature override, except that an explicit public
// override wins outright. enabled is false when the feature is disabled.
func EffectiveVisibility(chain []*Resource, feature Feature) (vis Visibility, enabled bool) {
	if len(chain) == 0 {
		return VisibilityPrivate, false
	}

	target := chain[0]
	override := target.FeatureAccess(feature)
	switch override {
	case FeatureDisabled:
		return VisibilityPrivate, false
	case FeaturePublic:
		return VisibilityPublic, true
	}

	vis = VisibilityPublic
	for _, r := range chain {
		if r.Visibility < vis {
			vis = r.Visibility
		}
	}
	if override == FeaturePrivate {
		vis = VisibilityPrivate
	}
	return vis, true
}

// Openness is the Visibility Classifier's verdict for one principal
type Openness int

const (
	Restricted Openness = iota
	Open
)

// Classify decides whether a resource with the given effective visibility
// is open to a principal before any role check. Internal resources are open
// to users and CI jobs; deploy tokens only see what they are bound to.
// Private resources are open only to principals holding a non-zero grant.
func Classify(vis Visibility, p Principal, grant Grant) Openness {
	switch vis {
	case VisibilityPublic:
		return Open
	case VisibilityInternal:
		switch p.Kind() {
		case KindUser, KindJob:
			return Open
		}
		if !grant.Zero() {
			return Open
		}
		return Restricted
	default:
		if !grant.Zero() {
			return Open
		}
		return Restricted
	}
}
