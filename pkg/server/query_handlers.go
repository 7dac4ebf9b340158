package server

import (
	"net/http"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/httputil"
	"github.com/platinummonkey/kbai/pkg/query"
)

// answerQuery handles POST /v1/query
func (s *Server) answerQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	resp, err := s.svc.Orchestrator.Answer(r.Context(), req)
	if err != nil {
		if s.svc.Metrics != nil {
			s.svc.Metrics.QueriesTotal.WithLabelValues(req.ProjectID, "error").Inc()
		}
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	if s.svc.Metrics != nil {
		s.svc.Metrics.QueriesTotal.WithLabelValues(req.ProjectID, "ok").Inc()
		s.svc.Metrics.QueryDuration.WithLabelValues(req.ProjectID).
			Observe(float64(resp.ProcessingMS) / 1000.0)
		s.svc.Metrics.QuerySources.Observe(float64(len(resp.Sources)))
	}

	httputil.WriteJSONOrError(w, http.StatusOK, resp, "failed to encode query response")
}
