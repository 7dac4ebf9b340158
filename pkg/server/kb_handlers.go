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

type kbInput struct {
	ArticleTitle string `json:"article_title"`
	Content      string `json:"content"`
}

type kbBatchRequest struct {
	Entries []kbInput `json:"entries"`
}

// listKB handles GET /v1/projects/{projectID}/kb
func (s *Server) listKB(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	entries, err := s.svc.Storage.ListKB(r.Context(), project.ID)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	}, "failed to encode kb entries")
}

// putKB handles POST /v1/projects/{projectID}/kb
func (s *Server) putKB(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	var req kbBatchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Entries) == 0 {
		httputil.WriteBadRequest(w, "entries cannot be empty")
		return
	}

	now := time.Now().UTC()
	entries := make([]*api.KBEntry, 0, len(req.Entries))
	for i, in := range req.Entries {
		title := strings.TrimSpace(in.ArticleTitle)
		content := strings.TrimSpace(in.Content)
		if title == "" {
			httputil.WriteBadRequest(w, fmt.Sprintf("entry %d: article_title is required", i))
			return
		}
		if content == "" {
			httputil.WriteBadRequest(w, fmt.Sprintf("entry %d: content is required", i))
			return
		}
		entries = append(entries, &api.KBEntry{
			ID:           identity.MintKB(project.ID, title),
			ProjectID:    project.ID,
			ArticleTitle: title,
			Content:      content,
			Source:       api.SourceManual,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := s.svc.Storage.PutKB(r.Context(), project.ID, entries); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	s.svc.Manager.MarkDirty(r.Context(), project.ID)

	httputil.WriteJSONOrError(w, http.StatusCreated, map[string]interface{}{
		"entries": entries,
	}, "failed to encode kb entries")
}

// findKBEntry loads a project's entries and locates one by ID. A nil
// target with a true ok means the entry does not exist.
func (s *Server) findKBEntry(w http.ResponseWriter, r *http.Request, projectID, entryID string) (target *api.KBEntry, entries []*api.KBEntry, ok bool) {
	entries, err := s.svc.Storage.ListKB(r.Context(), projectID)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return nil, nil, false
	}
	for _, e := range entries {
		if e.ID == entryID {
			return e, entries, true
		}
	}
	return nil, entries, true
}

// getKB handles GET /v1/projects/{projectID}/kb/{entryID}. Entries
// backed by an uploaded attachment answer with the original bytes and
// content type; plain entries answer with the record JSON.
func (s *Server) getKB(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	entryID, ok := httputil.ParsePathStringOrError(w, r, "entryID")
	if !ok {
		return
	}

	target, _, ok := s.findKBEntry(w, r, project.ID, entryID)
	if !ok {
		return
	}
	if target == nil {
		httputil.WriteNotFoundError(w, "kb entry not found")
		return
	}

	if target.AttachmentID != "" {
		s.writeAttachment(w, r, project.ID, target.AttachmentID)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, target, "failed to encode kb entry")
}

// deleteKB handles DELETE /v1/projects/{projectID}/kb/{entryID}. When
// the deleted entry was the last reference to an uploaded attachment,
// the attachment is deleted too.
func (s *Server) deleteKB(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	entryID, ok := httputil.ParsePathStringOrError(w, r, "entryID")
	if !ok {
		return
	}

	target, entries, ok := s.findKBEntry(w, r, project.ID, entryID)
	if !ok {
		return
	}
	if target == nil {
		httputil.WriteNotFoundError(w, "kb entry not found")
		return
	}

	if err := s.svc.Storage.DeleteKB(r.Context(), project.ID, entryID); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	if target.AttachmentID != "" {
		s.reclaimAttachment(r, project.ID, target.AttachmentID, entryID, entries)
	}

	s.svc.Manager.MarkDirty(r.Context(), project.ID)
	httputil.WriteNoContent(w)
}

// reclaimAttachment removes the attachment when no surviving entry
// references it.
func (s *Server) reclaimAttachment(r *http.Request, projectID, attachmentID, deletedID string, entries []*api.KBEntry) {
	for _, e := range entries {
		if e.ID != deletedID && e.AttachmentID == attachmentID {
			return
		}
	}
	if err := s.svc.Storage.DeleteAttachment(r.Context(), projectID, attachmentID); err != nil {
		s.svc.Logger.WithError(err).
			WithField("project_id", projectID).
			WithField("attachment_id", attachmentID).
			Warn("failed to reclaim orphaned attachment")
	}
}

// getAttachment handles GET /v1/projects/{projectID}/kb/{entryID}/attachment
func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}
	entryID, ok := httputil.ParsePathStringOrError(w, r, "entryID")
	if !ok {
		return
	}

	target, _, ok := s.findKBEntry(w, r, project.ID, entryID)
	if !ok {
		return
	}
	if target == nil || target.AttachmentID == "" {
		httputil.WriteNotFoundError(w, "attachment not found")
		return
	}
	s.writeAttachment(w, r, project.ID, target.AttachmentID)
}

// writeAttachment streams stored attachment bytes with their original
// content type.
func (s *Server) writeAttachment(w http.ResponseWriter, r *http.Request, projectID, attachmentID string) {
	att, data, err := s.svc.Storage.GetAttachment(r.Context(), projectID, attachmentID)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.OriginalName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
