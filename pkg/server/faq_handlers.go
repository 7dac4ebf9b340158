package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/httputil"
	"github.com/platinummonkey/kbai/pkg/identity"
)

type faqInput struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type faqBatchRequest struct {
	FAQs []faqInput `json:"faqs"`
}

// listFAQs handles GET /v1/projects/{projectID}/faqs
func (s *Server) listFAQs(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	faqs, err := s.svc.Storage.ListFAQs(r.Context(), project.ID)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"faqs": faqs,
	}, "failed to encode faqs")
}

// putFAQs handles POST /v1/projects/{projectID}/faqs. Entries upsert by
// content identity: re-adding the same question replaces its answer.
func (s *Server) putFAQs(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	var req faqBatchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.FAQs) == 0 {
		httputil.WriteBadRequest(w, "faqs cannot be empty")
		return
	}

	faqs, err := buildFAQs(project.ID, req.FAQs)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := s.svc.Storage.PutFAQs(r.Context(), project.ID, faqs); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	s.svc.Manager.MarkDirty(r.Context(), project.ID)

	httputil.WriteJSONOrError(w, http.StatusCreated, map[string]interface{}{
		"faqs": faqs,
	}, "failed to encode faqs")
}

// addFAQ handles POST /v1/projects/{projectID}/faqs/add
func (s *Server) addFAQ(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	var req faqInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	faqs, err := buildFAQs(project.ID, []faqInput{req})
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := s.svc.Storage.PutFAQs(r.Context(), project.ID, faqs); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	s.svc.Manager.MarkDirty(r.Context(), project.ID)

	httputil.WriteJSONOrError(w, http.StatusCreated, faqs[0], "failed to encode faq")
}

// deleteFAQ handles DELETE /v1/projects/{projectID}/faqs/{faqID}
func (s *Server) deleteFAQ(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	faqID, ok := httputil.ParsePathStringOrError(w, r, "faqID")
	if !ok {
		return
	}
	if err := s.svc.Storage.DeleteFAQ(r.Context(), project.ID, faqID); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	s.svc.Manager.MarkDirty(r.Context(), project.ID)
	httputil.WriteNoContent(w)
}

func buildFAQs(projectID string, inputs []faqInput) ([]*api.FAQ, error) {
	now := time.Now().UTC()
	faqs := make([]*api.FAQ, 0, len(inputs))
	for i, in := range inputs {
		question := strings.TrimSpace(in.Question)
		answer := strings.TrimSpace(in.Answer)
		if question == "" {
			return nil, fmt.Errorf("faq %d: question is required", i)
		}
		if answer == "" {
			return nil, fmt.Errorf("faq %d: answer is required", i)
		}
		faqs = append(faqs, &api.FAQ{
			ID:        identity.MintFAQ(projectID, question),
			ProjectID: projectID,
			Question:  question,
			Answer:    answer,
			Source:    api.SourceManual,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return faqs, nil
}
