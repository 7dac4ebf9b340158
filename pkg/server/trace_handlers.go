package server

import (
	"net/http"
	"time"

	"github.com/platinummonkey/kbai/pkg/httputil"
	"github.com/platinummonkey/kbai/pkg/trace"
)

// listTraces handles GET /v1/traces
func (s *Server) listTraces(w http.ResponseWriter, r *http.Request) {
	var filter trace.Filter

	if since := r.URL.Query().Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be RFC 3339")
			return
		}
		filter.Since = ts
	}
	status, err := httputil.ParseQueryInt(r, "status", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid status parameter")
		return
	}
	filter.Status = status
	filter.PathPrefix = r.URL.Query().Get("path_prefix")
	if hasError := r.URL.Query().Get("has_error"); hasError != "" {
		v := hasError == "true" || hasError == "1"
		filter.HasError = &v
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "invalid limit parameter")
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"traces": s.svc.Ring.List(filter, limit),
	}, "failed to encode traces")
}

// getTrace handles GET /v1/traces/{traceID}
func (s *Server) getTrace(w http.ResponseWriter, r *http.Request) {
	traceID, ok := httputil.ParsePathStringOrError(w, r, "traceID")
	if !ok {
		return
	}
	tr, found := s.svc.Ring.Get(traceID)
	if !found {
		httputil.WriteNotFoundError(w, "trace not found")
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, tr, "failed to encode trace")
}
