package fixtures

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/auth"
	"github.com/platinummonkey/registrygate/pkg/protection"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// File is the YAML layout of a fixture file. Token secrets appear in
// plain text here and are hashed on load.
type File struct {
	Groups               []ResourceSpec          `yaml:"groups"`
	Projects             []ResourceSpec          `yaml:"projects"`
	Users                []storage.User          `yaml:"users"`
	Memberships          []MembershipSpec        `yaml:"memberships"`
	PersonalAccessTokens []TokenSpec             `yaml:"personal_access_tokens"`
	DeployTokens         []DeployTokenSpec       `yaml:"deploy_tokens"`
	Jobs                 []JobSpec               `yaml:"jobs"`
	JobTokenLinks        []access.JobTokenLink   `yaml:"job_token_links"`
	ProtectionRules      []access.ProtectionRule `yaml:"protection_rules"`
}

// ResourceSpec describes a group or project
type ResourceSpec struct {
	ID         int64                                   `yaml:"id"`
	Path       string                                  `yaml:"path"`
	Visibility access.Visibility                       `yaml:"visibility"`
	ParentID   *int64                                  `yaml:"parent_id"`
	Features   map[access.Feature]access.FeatureAccess `yaml:"features"`
}

// MembershipSpec grants a user a level on exactly one project or group
type MembershipSpec struct {
	UserID  int64              `yaml:"user_id"`
	Project int64              `yaml:"project"`
	Group   int64              `yaml:"group"`
	Level   access.AccessLevel `yaml:"level"`
}

// TokenSpec is a personal access token
type TokenSpec struct {
	ID        int64      `yaml:"id"`
	UserID    int64      `yaml:"user_id"`
	Name      string     `yaml:"name"`
	Token     string     `yaml:"token"`
	Scopes    []string   `yaml:"scopes"`
	ExpiresAt *time.Time `yaml:"expires_at"`
}

// DeployTokenSpec is a deploy token bound to projects and groups
type DeployTokenSpec struct {
	ID        int64      `yaml:"id"`
	Name      string     `yaml:"name"`
	Username  string     `yaml:"username"`
	Token     string     `yaml:"token"`
	Scopes    []string   `yaml:"scopes"`
	Projects  []int64    `yaml:"projects"`
	Groups    []int64    `yaml:"groups"`
	ExpiresAt *time.Time `yaml:"expires_at"`
}

// JobSpec is a CI job and its token
type JobSpec struct {
	ID         int64            `yaml:"id"`
	ProjectID  int64            `yaml:"project_id"`
	PipelineID int64            `yaml:"pipeline_id"`
	UserID     int64            `yaml:"user_id"`
	Status     access.JobStatus `yaml:"status"`
	Token      string           `yaml:"token"`
}

// ErrInvalidFixture wraps every validation failure
var ErrInvalidFixture = errors.New("invalid fixture")

// LoadFile reads and converts a fixture file
func LoadFile(path string) (storage.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML fixtures into a store snapshot
func Parse(data []byte) (storage.Snapshot, error) {
	// a file caught mid-write reads as empty; never load that as "no data"
	if len(bytes.TrimSpace(data)) == 0 {
		return storage.Snapshot{}, invalid("file is empty")
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return storage.Snapshot{}, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return f.Snapshot()
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidFixture, fmt.Sprintf(format, args...))
}

// Snapshot validates references and converts the file into store records
func (f *File) Snapshot() (storage.Snapshot, error) {
	var s storage.Snapshot
	refs := make(map[access.ResourceRef]bool)
	users := make(map[int64]bool)
	generator := auth.NewTokenGenerator()
	now := time.Now()

	// groups first so that projects and subgroups can name them as parents
	for _, kind := range []struct {
		kind  access.ResourceKind
		specs []ResourceSpec
	}{{access.KindGroup, f.Groups}, {access.KindProject, f.Projects}} {
		for _, spec := range kind.specs {
			ref := access.ResourceRef{Kind: kind.kind, ID: spec.ID}
			if spec.ID <= 0 {
				return s, invalid("%s %q needs a positive id", kind.kind, spec.Path)
			}
			if refs[ref] {
				return s, invalid("duplicate %s", ref)
			}
			if spec.ParentID != nil && !refs[access.GroupRef(*spec.ParentID)] {
				return s, invalid("%s parent group %d is not defined before it", ref, *spec.ParentID)
			}
			refs[ref] = true
			s.Resources = append(s.Resources, &access.Resource{
				ID:         spec.ID,
				Kind:       kind.kind,
				Path:       spec.Path,
				Visibility: spec.Visibility,
				ParentID:   spec.ParentID,
				Features:   spec.Features,
			})
		}
	}

	for i := range f.Users {
		u := f.Users[i]
		if u.ID <= 0 || users[u.ID] {
			return s, invalid("user %q needs a unique positive id", u.Username)
		}
		users[u.ID] = true
		s.Users = append(s.Users, &u)
	}

	for _, m := range f.Memberships {
		if !users[m.UserID] {
			return s, invalid("membership references unknown user %d", m.UserID)
		}
		var ref access.ResourceRef
		switch {
		case m.Project != 0 && m.Group == 0:
			ref = access.ProjectRef(m.Project)
		case m.Group != 0 && m.Project == 0:
			ref = access.GroupRef(m.Group)
		default:
			return s, invalid("membership of user %d must name exactly one project or group", m.UserID)
		}
		if !refs[ref] {
			return s, invalid("membership references unknown %s", ref)
		}
		s.Memberships = append(s.Memberships, storage.Membership{UserID: m.UserID, Resource: ref, Level: m.Level})
	}

	for _, t := range f.PersonalAccessTokens {
		if t.Token == "" || !users[t.UserID] {
			return s, invalid("personal access token %q needs a secret and a known user", t.Name)
		}
		s.Tokens = append(s.Tokens, &storage.PersonalAccessToken{
			ID:          t.ID,
			UserID:      t.UserID,
			Name:        t.Name,
			TokenHash:   auth.HashToken(t.Token),
			TokenPrefix: generator.ExtractPrefix(auth.KindPersonalAccessToken, t.Token),
			Scopes:      t.Scopes,
			ExpiresAt:   t.ExpiresAt,
			CreatedAt:   now,
		})
	}

	for _, t := range f.DeployTokens {
		if t.Token == "" || t.Username == "" {
			return s, invalid("deploy token %q needs a secret and a username", t.Name)
		}
		var bound []access.ResourceRef
		for _, id := range t.Projects {
			bound = append(bound, access.ProjectRef(id))
		}
		for _, id := range t.Groups {
			bound = append(bound, access.GroupRef(id))
		}
		for _, ref := range bound {
			if !refs[ref] {
				return s, invalid("deploy token %q is bound to unknown %s", t.Name, ref)
			}
		}
		s.DeployTokens = append(s.DeployTokens, &storage.DeployToken{
			ID:          t.ID,
			Name:        t.Name,
			Username:    t.Username,
			TokenHash:   auth.HashToken(t.Token),
			TokenPrefix: generator.ExtractPrefix(auth.KindDeployToken, t.Token),
			Scopes:      t.Scopes,
			Bound:       bound,
			ExpiresAt:   t.ExpiresAt,
			CreatedAt:   now,
		})
	}

	for _, j := range f.Jobs {
		if j.Token == "" || !users[j.UserID] || !refs[access.ProjectRef(j.ProjectID)] {
			return s, invalid("job %d needs a secret, a known user and a known project", j.ID)
		}
		status := j.Status
		if status == "" {
			status = access.JobRunning
		}
		s.Jobs = append(s.Jobs, &storage.Job{
			ID:         j.ID,
			ProjectID:  j.ProjectID,
			PipelineID: j.PipelineID,
			UserID:     j.UserID,
			Status:     status,
			TokenHash:  auth.HashToken(j.Token),
		})
	}

	for _, l := range f.JobTokenLinks {
		if !refs[access.ProjectRef(l.TargetProjectID)] || !refs[access.ProjectRef(l.SourceProjectID)] {
			return s, invalid("job token link %d <- %d references an unknown project", l.TargetProjectID, l.SourceProjectID)
		}
		s.Links = append(s.Links, l)
	}

	for _, r := range f.ProtectionRules {
		if !refs[access.ProjectRef(r.ProjectID)] {
			return s, invalid("protection rule %q references unknown project %d", r.NamePattern, r.ProjectID)
		}
		if err := protection.ValidatePattern(r.NamePattern); err != nil {
			return s, invalid("%v", err)
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		s.Rules = append(s.Rules, r)
	}

	return s, nil
}
