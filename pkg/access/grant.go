package access

// Grant is the Role Resolver's output for one principal on one resource.
// Deploy tokens carry no Level; they hold capabilities instead.
type Grant struct {
	Level       AccessLevel
	DeployRead  bool
	DeployWrite bool
}

// NoGrant is the grant of a principal with no relation to the resource
var NoGrant = Grant{}

// Zero reports whether the grant gives no access at all
func (g Grant) Zero() bool {
	return g.Level == LevelNone && !g.DeployRead && !g.DeployWrite
}

// Satisfies reports whether the grant meets the role requirement of an
// action. Deploy capabilities satisfy read and mutating actions other than
// admin regardless of role hierarchy.
func (g Grant) Satisfies(action Action) bool {
	if g.Level >= RequiredLevel(action) {
		return true
	}
	switch action {
	case ActionRead:
		return g.DeployRead
	case ActionWrite, ActionDelete:
		return g.DeployWrite
	}
	return false
}

// JobTokenLink allows CI jobs of SourceProjectID to reach TargetProjectID
// for the listed features
type JobTokenLink struct {
	TargetProjectID int64     `json:"target_project_id" yaml:"target_project_id"`
	SourceProjectID int64     `json:"source_project_id" yaml:"source_project_id"`
	Features        []Feature `json:"features" yaml:"features"`
}

// Allows reports whether the link covers a feature. The project feature is
// implied by any link.
func (l JobTokenLink) Allows(f Feature) bool {
	if f == FeatureProject {
		return true
	}
	for _, allowed := range l.Features {
		if allowed == f {
			return true
		}
	}
	return false
}
