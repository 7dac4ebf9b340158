package server

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/httputil"
	"github.com/platinummonkey/kbai/pkg/identity"
)

// maxUploadMemory bounds the in-memory part of multipart parsing.
const maxUploadMemory = 8 << 20

type documentResponse struct {
	DocumentID        string `json:"document_id"`
	AttachmentID      string `json:"attachment_id"`
	ChunksCreated     int    `json:"chunks_created"`
	IndexBuildStarted bool   `json:"index_build_started"`
	PageCount         int    `json:"page_count,omitempty"`
	WordCount         int    `json:"word_count"`
}

// uploadDocument handles POST /v1/projects/{projectID}/documents. The
// multipart "file" part is extracted, chunked, and indexed; the
// original bytes are kept as an attachment.
func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	project, ok := s.requireProject(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httputil.WriteBadRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file part is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	result, err := s.svc.Extractor.Extract(data, contentType)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	contentHash := identity.HashBytes(data)
	documentID := identity.MintDocument(project.ID, header.Filename, contentHash)
	now := time.Now().UTC()

	att := &api.Attachment{
		ID:           documentID,
		ProjectID:    project.ID,
		OriginalName: header.Filename,
		ContentType:  contentType,
		Size:         int64(len(data)),
		CreatedAt:    now,
	}
	if err := s.svc.Storage.PutAttachment(r.Context(), project.ID, att, data); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	entries := make([]*api.KBEntry, 0, len(result.Chunks))
	for _, chunk := range result.Chunks {
		idx := chunk.Index
		entries = append(entries, &api.KBEntry{
			ID:               identity.MintChunk(project.ID, header.Filename, chunk.Index),
			ProjectID:        project.ID,
			ArticleTitle:     header.Filename,
			Content:          chunk.Text,
			Source:           api.SourceUpload,
			ChunkIndex:       &idx,
			ParentDocumentID: documentID,
			AttachmentID:     documentID,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	if err := s.svc.Storage.PutKB(r.Context(), project.ID, entries); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	s.svc.Manager.MarkDirty(r.Context(), project.ID)

	httputil.WriteJSONOrError(w, http.StatusCreated, documentResponse{
		DocumentID:        documentID,
		AttachmentID:      documentID,
		ChunksCreated:     len(entries),
		IndexBuildStarted: true,
		PageCount:         result.PageCount,
		WordCount:         result.WordCount,
	}, "failed to encode document response")
}
