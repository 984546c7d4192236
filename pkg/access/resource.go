package access

import "fmt"

// ResourceKind discriminates between the two kinds of protected resource.
// Project and group ids live in separate id spaces.
type ResourceKind string

const (
	KindProject ResourceKind = "project"
	KindGroup   ResourceKind = "group"
)

// ResourceRef identifies a resource by kind and id
type ResourceRef struct {
	Kind ResourceKind `json:"kind" yaml:"kind"`
	ID   int64        `json:"id" yaml:"id"`
}

// String returns "kind:id"
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// ProjectRef returns a reference to the project with the given id
func ProjectRef(id int64) ResourceRef {
	return ResourceRef{Kind: KindProject, ID: id}
}

// GroupRef returns a reference to the group with the given id
func GroupRef(id int64) ResourceRef {
	return ResourceRef{Kind: KindGroup, ID: id}
}

// Resource is a project or group snapshot read once per evaluation
type Resource struct {
	ID         int64                     `json:"id"`
	Kind       ResourceKind              `json:"kind"`
	Path       string                    `json:"path"`
	Visibility Visibility                `json:"visibility"`
	ParentID   *int64                    `json:"parent_id,omitempty"` // always a group
	Features   map[Feature]FeatureAccess `json:"features,omitempty"`
}

// Ref returns the resource's reference
func (r *Resource) Ref() ResourceRef {
	return ResourceRef{Kind: r.Kind, ID: r.ID}
}

// ParentRef returns the parent group reference, if any
func (r *Resource) ParentRef() (ResourceRef, bool) {
	if r.ParentID == nil {
		return ResourceRef{}, false
	}
	return GroupRef(*r.ParentID), true
}

// FeatureAccess returns the configured access for a feature. Features
// without an override follow the resource visibility.
func (r *Resource) FeatureAccess(f Feature) FeatureAccess {
	if f == FeatureProject {
		return FeatureEnabled
	}
	if access, ok := r.Features[f]; ok {
		return access
	}
	return FeatureEnabled
}
