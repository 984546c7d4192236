package access

import "fmt"

// PrincipalKind discriminates the principal variants. Users and deploy
// tokens share a numeric id space, so identity always includes the kind.
type PrincipalKind string

const (
	KindAnonymous   PrincipalKind = "anonymous"
	KindUser        PrincipalKind = "user"
	KindJob         PrincipalKind = "job"
	KindDeployToken PrincipalKind = "deploy_token"
)

// Identity is the comparable identity of a principal
type Identity struct {
	Kind PrincipalKind
	ID   int64
}

// String returns "kind:id"
func (i Identity) String() string {
	return fmt.Sprintf("%s:%d", i.Kind, i.ID)
}

// Principal is the acting identity of a request. Exactly one of Anonymous,
// *UserPrincipal, *JobPrincipal or *DeployTokenPrincipal.
type Principal interface {
	Kind() PrincipalKind
	Identity() Identity
}

type anonymous struct{}

func (anonymous) Kind() PrincipalKind { return KindAnonymous }
func (anonymous) Identity() Identity  { return Identity{Kind: KindAnonymous} }

// Anonymous is the principal of a request that presented no credential
var Anonymous Principal = anonymous{}

// IsAnonymous reports whether p is nil or the anonymous principal
func IsAnonymous(p Principal) bool {
	return p == nil || p.Kind() == KindAnonymous
}

// UserPrincipal is a user authenticated by a personal access token
type UserPrincipal struct {
	UserID          int64
	Username        string
	IsAdmin         bool
	AdminModeActive bool
	TokenID         int64
}

func (u *UserPrincipal) Kind() PrincipalKind { return KindUser }
func (u *UserPrincipal) Identity() Identity  { return Identity{Kind: KindUser, ID: u.UserID} }

// IsActiveAdmin reports whether admin rights are in effect for this request.
// The admin flag alone is never enough.
func (u *UserPrincipal) IsActiveAdmin() bool {
	return u.IsAdmin && u.AdminModeActive
}

// JobStatus is the lifecycle state of a CI job
type JobStatus string

const (
	JobCreated  JobStatus = "created"
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobSuccess  JobStatus = "success"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
	JobSkipped  JobStatus = "skipped"
)

// IsTerminal reports whether the job has finished
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSuccess, JobFailed, JobCanceled, JobSkipped:
		return true
	}
	return false
}

// JobPrincipal is a running CI job acting with its triggering user's rights
type JobPrincipal struct {
	JobID      int64
	UserID     int64
	ProjectID  int64
	PipelineID int64
	Status     JobStatus
}

func (j *JobPrincipal) Kind() PrincipalKind { return KindJob }
func (j *JobPrincipal) Identity() Identity  { return Identity{Kind: KindJob, ID: j.JobID} }

// DeployTokenPrincipal carries package registry capabilities that are
// independent of any membership role
type DeployTokenPrincipal struct {
	TokenID  int64
	Username string
	Read     bool
	Write    bool
	Bound    []ResourceRef
}

func (d *DeployTokenPrincipal) Kind() PrincipalKind { return KindDeployToken }
func (d *DeployTokenPrincipal) Identity() Identity {
	return Identity{Kind: KindDeployToken, ID: d.TokenID}
}

// BoundTo reports whether the token is bound directly to ref
func (d *DeployTokenPrincipal) BoundTo(ref ResourceRef) bool {
	for _, b := range d.Bound {
		if b == ref {
			return true
		}
	}
	return false
}
