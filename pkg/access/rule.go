package access

import "time"

// ProtectionRule restricts which role may push or delete packages whose name
// matches NamePattern
type ProtectionRule struct {
	ID                          int64        `json:"id" yaml:"id"`
	ProjectID                   int64        `json:"project_id" yaml:"project_id"`
	PackageType                 string       `json:"package_type" yaml:"package_type"`
	NamePattern                 string       `json:"package_name_pattern" yaml:"package_name_pattern"`
	MinimumAccessLevelForPush   AccessLevel  `json:"minimum_access_level_for_push" yaml:"minimum_access_level_for_push"`
	MinimumAccessLevelForDelete *AccessLevel `json:"minimum_access_level_for_delete,omitempty" yaml:"minimum_access_level_for_delete,omitempty"`
	CreatedAt                   time.Time    `json:"created_at" yaml:"-"`
}

// MinimumFor returns the minimum level the rule demands for an action. ok is
// false when the rule does not govern the action.
func (r ProtectionRule) MinimumFor(action Action) (level AccessLevel, ok bool) {
	switch action {
	case ActionWrite:
		return r.MinimumAccessLevelForPush, r.MinimumAccessLevelForPush > LevelNone
	case ActionDelete:
		if r.MinimumAccessLevelForDelete == nil {
			return LevelNone, false
		}
		return *r.MinimumAccessLevelForDelete, *r.MinimumAccessLevelForDelete > LevelNone
	}
	return LevelNone, false
}
