package credentials

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	HeaderPrivateToken = "Private-Token"
	HeaderJobToken     = "Job-Token"
	HeaderDeployToken  = "Deploy-Token"

	ParamPrivateToken = "private_token"
	ParamJobToken     = "job_token"

	// DefaultCIJobUsername is the Basic auth username that marks the
	// password as a CI job token
	DefaultCIJobUsername = "ci-job-token"
)

// ErrMalformedCredential is returned when a request presents secrets under
// more than one scheme
var ErrMalformedCredential = errors.New("malformed credential")

// Scheme is the interpretation a presented secret is routed to
type Scheme string

const (
	SchemePrivateToken Scheme = "private_token"
	SchemeJobToken     Scheme = "job_token"
	SchemeDeployToken  Scheme = "deploy_token"
	// SchemeBasicPassword is a Basic password tried as a personal access
	// token, then as a deploy token whose username must match
	SchemeBasicPassword Scheme = "basic_password"
)

// Credential is a secret as presented on one request. It is never persisted
// and never logged; String redacts the secret.
type Credential struct {
	Scheme   Scheme
	Secret   string
	Username string // Basic auth only
	Source   string // header or parameter the secret came from
}

// String returns a redacted description safe for logs
func (c *Credential) String() string {
	if c == nil {
		return "none"
	}
	return fmt.Sprintf("%s via %s", c.Scheme, c.Source)
}

// Resolver extracts credentials from requests
type Resolver struct {
	ciJobUsername string
}

// NewResolver creates a resolver. An empty ciJobUsername selects
// DefaultCIJobUsername.
func NewResolver(ciJobUsername string) *Resolver {
	if ciJobUsername == "" {
		ciJobUsername = DefaultCIJobUsername
	}
	return &Resolver{ciJobUsername: ciJobUsername}
}

// Resolve returns the request's credential, nil when none is presented, or
// ErrMalformedCredential when secrets of different schemes are combined.
func (r *Resolver) Resolve(req *http.Request) (*Credential, error) {
	var found []*Credential

	for _, h := range []struct {
		name   string
		scheme Scheme
	}{
		{HeaderPrivateToken, SchemePrivateToken},
		{HeaderJobToken, SchemeJobToken},
		{HeaderDeployToken, SchemeDeployToken},
	} {
		if v := strings.TrimSpace(req.Header.Get(h.name)); v != "" {
			found = append(found, &Credential{Scheme: h.scheme, Secret: v, Source: h.name})
		}
	}

	if c := r.fromAuthorization(req.Header.Get("Authorization")); c != nil {
		found = append(found, c)
	}

	if len(found) == 0 {
		query := req.URL.Query()
		if v := strings.TrimSpace(query.Get(ParamPrivateToken)); v != "" {
			found = append(found, &Credential{Scheme: SchemePrivateToken, Secret: v, Source: ParamPrivateToken})
		}
		if v := strings.TrimSpace(query.Get(ParamJobToken)); v != "" {
			found = append(found, &Credential{Scheme: SchemeJobToken, Secret: v, Source: ParamJobToken})
		}
	}

	return merge(found)
}

// merge collapses duplicate presentations of one secret and rejects
// conflicting ones
func merge(found []*Credential) (*Credential, error) {
	if len(found) == 0 {
		return nil, nil
	}

	first := found[0]
	for _, c := range found[1:] {
		if c.Scheme != first.Scheme || c.Secret != first.Secret || c.Username != first.Username {
			return nil, fmt.Errorf("%s and %s: %w", first.Source, c.Source, ErrMalformedCredential)
		}
	}
	return first, nil
}

func (r *Resolver) fromAuthorization(header string) *Credential {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return nil
	}
	value := strings.TrimSpace(parts[1])
	if value == "" {
		return nil
	}

	switch strings.ToLower(parts[0]) {
	case "bearer":
		return &Credential{Scheme: SchemePrivateToken, Secret: value, Source: "Authorization: Bearer"}
	case "basic":
		return r.fromBasic(value)
	default:
		return nil
	}
}

func (r *Resolver) fromBasic(encoded string) *Credential {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok || username == "" || password == "" {
		return nil
	}

	if username == r.ciJobUsername {
		return &Credential{Scheme: SchemeJobToken, Secret: password, Source: "Authorization: Basic"}
	}
	return &Credential{Scheme: SchemeBasicPassword, Secret: password, Username: username, Source: "Authorization: Basic"}
}
