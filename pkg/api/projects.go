package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/httputil"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

type projectResponse struct {
	ID          int64                                   `json:"id"`
	Path        string                                  `json:"path_with_namespace"`
	Visibility  access.Visibility                       `json:"visibility"`
	NamespaceID *int64                                  `json:"namespace_id,omitempty"`
	Features    map[access.Feature]access.FeatureAccess `json:"features,omitempty"`
}

// getProject returns the project the gate just authorized
func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	project, err := s.store.GetResource(r.Context(), access.ProjectRef(id))
	if errors.Is(err, storage.ErrNotFound) {
		httputil.WriteNotFound(w, "Project")
		return
	}
	if err != nil {
		s.log(r.Context()).WithError(err).Error("failed to load project")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteSuccess(w, projectResponse{
		ID:          project.ID,
		Path:        project.Path,
		Visibility:  project.Visibility,
		NamespaceID: project.ParentID,
		Features:    project.Features,
	})
}

// listCommits stands in for repository reads. Repository contents are not
// hosted here, so an authorized caller always sees an empty history.
func (s *Server) listCommits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, []struct{}{})
}
