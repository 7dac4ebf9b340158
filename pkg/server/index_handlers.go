package server

import (
	"net/http"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/httputil"
)

// rebuildIndexes handles POST /v1/projects/{projectID}/rebuild-indexes.
// With wait=true the response carries the state after the build
// finishes; otherwise the build runs in the background.
func (s *Server) rebuildIndexes(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}

	wait, err := httputil.ParseQueryBool(r, "wait", false)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid wait parameter")
		return
	}

	if wait {
		if err := s.svc.Manager.Rebuild(r.Context(), project.ID); err != nil {
			httputil.WriteError(w, api.StatusFor(err), err)
			return
		}
	} else {
		s.svc.Manager.MarkDirty(r.Context(), project.ID)
	}

	httputil.WriteJSONOrError(w, http.StatusAccepted,
		s.svc.Manager.Status(r.Context(), project.ID), "failed to encode build state")
}

// buildStatus handles GET /v1/projects/{projectID}/build-status
func (s *Server) buildStatus(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK,
		s.svc.Manager.Status(r.Context(), project.ID), "failed to encode build state")
}
