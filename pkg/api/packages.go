package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/registrygate/pkg/access"
	"github.com/platinummonkey/registrygate/pkg/audit"
	"github.com/platinummonkey/registrygate/pkg/credentials"
	"github.com/platinummonkey/registrygate/pkg/engine"
	"github.com/platinummonkey/registrygate/pkg/httputil"
	"github.com/platinummonkey/registrygate/pkg/packages"
	"github.com/platinummonkey/registrygate/pkg/storage"
)

// HeaderChecksum carries the SHA-256 of a downloaded package file
const HeaderChecksum = "X-Checksum-Sha256"

func coordinatesFromPath(r *http.Request) (packages.Coordinates, error) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		return packages.Coordinates{}, err
	}
	vars := mux.Vars(r)
	c := packages.Coordinates{
		ProjectID: id,
		Type:      vars["type"],
		Name:      vars["name"],
		Version:   vars["version"],
		File:      vars["file"],
	}
	return c, c.Validate()
}

func (s *Server) listProjectPackages(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	list, total := s.packages.List(r.Context(), []int64{id}, page.Offset(), page.PerPage)
	writePageHeaders(w, page, total)
	httputil.WriteSuccess(w, list)
}

// listGroupPackages lists the packages of every project below the group
// that the caller may read. The gate only checked the group itself, so
// each project is evaluated again.
func (s *Server) listGroupPackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	page, err := httputil.ParsePage(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	cred, err := s.resolver.Resolve(r)
	malformed := errors.Is(err, credentials.ErrMalformedCredential)

	var visible []int64
	for _, projectID := range s.packages.ProjectIDs() {
		chain, err := s.store.GetResourceChain(ctx, access.ProjectRef(projectID))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log(ctx).WithError(err).Error("failed to load project chain")
			httputil.WriteInternalError(w)
			return
		}
		if !below(chain, groupID) {
			continue
		}

		res, err := s.evaluator.Evaluate(ctx, engine.Request{
			Credential: cred,
			Malformed:  malformed,
			Target:     access.ProjectRef(projectID),
			Feature:    access.FeaturePackageRegistry,
			Action:     access.ActionRead,
		})
		if err != nil {
			s.log(ctx).WithError(err).Error("failed to evaluate project access")
			httputil.WriteInternalError(w)
			return
		}
		if res.Decision.Allowed() {
			visible = append(visible, projectID)
		}
	}

	list, total := s.packages.List(ctx, visible, page.Offset(), page.PerPage)
	writePageHeaders(w, page, total)
	httputil.WriteSuccess(w, list)
}

func below(chain []*access.Resource, groupID int64) bool {
	for _, r := range chain[1:] {
		if r.Kind == access.KindGroup && r.ID == groupID {
			return true
		}
	}
	return false
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	c, err := coordinatesFromPath(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	file, data, err := s.packages.Download(r.Context(), c)
	if errors.Is(err, packages.ErrNotFound) {
		httputil.WriteNotFound(w, "Package")
		return
	}
	if err != nil {
		s.log(r.Context()).WithError(err).WithField("package", c.Name).Error("failed to read package file")
		httputil.WriteInternalError(w)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	w.Header().Set(HeaderChecksum, file.SHA256)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	s.observeTransfer(r, "download", c.Type, file.Size)
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	c, err := coordinatesFromPath(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteMessage(w, http.StatusRequestEntityTooLarge, "413 Request Entity Too Large")
			return
		}
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	_, file, err := s.packages.Upload(r.Context(), c, data)
	if err != nil {
		s.log(r.Context()).WithError(err).WithField("package", c.Name).Error("failed to store package file")
		httputil.WriteInternalError(w)
		return
	}

	s.observeTransfer(r, "upload", c.Type, file.Size)
	s.recordChange(r, audit.EventTypePackageUpload, access.ProjectRef(c.ProjectID), access.ActionWrite, c.Name,
		fmt.Sprintf("uploaded %s %s/%s (sha256 %s)", c.Name, c.Version, file.Name, file.SHA256))
	httputil.WriteMessage(w, http.StatusCreated, "201 Created")
}

func (s *Server) deletePackage(w http.ResponseWriter, r *http.Request) {
	c, err := coordinatesFromPath(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	err = s.packages.Delete(r.Context(), c)
	if errors.Is(err, packages.ErrNotFound) {
		httputil.WriteNotFound(w, "Package")
		return
	}
	if err != nil {
		s.log(r.Context()).WithError(err).WithField("package", c.Name).Error("failed to delete package")
		httputil.WriteInternalError(w)
		return
	}

	s.recordChange(r, audit.EventTypePackageDelete, access.ProjectRef(c.ProjectID), access.ActionDelete, c.Name,
		fmt.Sprintf("deleted %s %s", c.Name, c.Version))
	httputil.WriteNoContent(w)
}

func (s *Server) observeTransfer(r *http.Request, direction, packageType string, size int64) {
	if s.metrics != nil {
		s.metrics.ObservePackageTransfer(r.Context(), direction, packageType, size)
	}
}

func writePageHeaders(w http.ResponseWriter, page httputil.Page, total int) {
	w.Header().Set("X-Total", strconv.Itoa(total))
	w.Header().Set("X-Page", strconv.Itoa(page.Number))
	w.Header().Set("X-Per-Page", strconv.Itoa(page.PerPage))
}
