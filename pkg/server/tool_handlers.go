package server

import (
	"net/http"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/httputil"
)

// listTools handles GET /v1/tools
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"tools": s.svc.Registry.List(),
	}, "failed to encode tools")
}

type toolExecuteRequest struct {
	Params map[string]interface{} `json:"params"`
}

// executeTool handles POST /v1/tools/{name}. Parameter validation
// failures are 400s; a tool that runs and fails still returns 200 with
// an unsuccessful result.
func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	var req toolExecuteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := s.svc.Registry.Execute(r.Context(), name, req.Params)
	if err != nil {
		if s.svc.Metrics != nil {
			s.svc.Metrics.ToolCallsTotal.WithLabelValues(name, "invalid").Inc()
		}
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	if s.svc.Metrics != nil {
		status := "ok"
		if !result.Success {
			status = "failed"
		}
		s.svc.Metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
	}
	httputil.WriteJSONOrError(w, http.StatusOK, result, "failed to encode tool result")
}
