package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/httputil"
)

type projectRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// listProjects handles GET /v1/projects
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.svc.Storage.ListProjects(r.Context())
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
	}, "failed to encode projects")
}

// createProject handles POST /v1/projects. Posting an existing ID
// upserts the project in place, reactivating it and keeping its
// original creation time.
func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	project := &api.Project{
		ID:        id,
		Name:      req.Name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	status := http.StatusCreated
	existing, err := s.svc.Storage.GetProject(r.Context(), id)
	switch {
	case err == nil:
		project.CreatedAt = existing.CreatedAt
		status = http.StatusOK
	case !errors.Is(err, api.ErrNotFound):
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	if err := s.svc.Storage.PutProject(r.Context(), project); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	httputil.WriteJSONOrError(w, status, project, "failed to encode project")
}

// getProject handles GET /v1/projects/{projectID}
func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, "projectID")
	if !ok {
		return
	}
	project, err := s.svc.Storage.GetProject(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, project, "failed to encode project")
}

type projectUpdateRequest struct {
	Name   *string `json:"name,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// updateProject handles PUT /v1/projects/{projectID}
func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, "projectID")
	if !ok {
		return
	}
	var req projectUpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	project, err := s.svc.Storage.GetProject(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			httputil.WriteBadRequest(w, "name cannot be empty")
			return
		}
		project.Name = *req.Name
	}
	if req.Active != nil {
		project.Active = *req.Active
	}
	project.UpdatedAt = time.Now().UTC()

	if err := s.svc.Storage.PutProject(r.Context(), project); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, project, "failed to encode project")
}

// deactivateProject handles DELETE /v1/projects/{projectID}. Content is
// retained; the project stops serving queries.
func (s *Server) deactivateProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, "projectID")
	if !ok {
		return
	}
	project, err := s.svc.Storage.GetProject(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	project.Active = false
	project.UpdatedAt = time.Now().UTC()
	if err := s.svc.Storage.PutProject(r.Context(), project); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	httputil.WriteNoContent(w)
}

// requireProject loads a project or writes a 404.
func (s *Server) requireProject(w http.ResponseWriter, r *http.Request) (*api.Project, bool) {
	projectID, ok := httputil.ParsePathStringOrError(w, r, "projectID")
	if !ok {
		return nil, false
	}
	project, err := s.svc.Storage.GetProject(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return nil, false
	}
	return project, true
}
