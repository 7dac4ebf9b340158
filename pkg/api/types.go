// Package api defines the core data model shared by the HTTP handlers,
// the storage backends, and the index pipeline.
package api

import "time"

// Record kinds stored in a project knowledge base.
const (
	KindFAQ = "faq"
	KindKB  = "kb"
)

// Record sources. Manual records are created via the content API,
// upload records come from document ingestion.
const (
	SourceManual = "manual"
	SourceUpload = "upload"
)

// Project is a tenant. All knowledge base content, indexes and queries
// are scoped to a project.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FAQ is a question/answer pair. The ID is deterministic over
// (project, question), so re-adding the same question replaces the
// previous answer.
type FAQ struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KBEntry is a knowledge base article or one chunk of an ingested
// document. Chunks of the same document share ParentDocumentID and are
// ordered by ChunkIndex.
type KBEntry struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	ArticleTitle     string    `json:"article_title"`
	Content          string    `json:"content"`
	Source           string    `json:"source"`
	ChunkIndex       *int      `json:"chunk_index,omitempty"`
	ParentDocumentID string    `json:"parent_document_id,omitempty"`
	AttachmentID     string    `json:"attachment_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Attachment is the stored original of an uploaded document. KB entries
// referencing it hold its ID; the blob itself lives in the storage
// backend and is deleted when the last referencing entry goes away.
type Attachment struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// ArtifactKind identifies one of the per-version index artifacts.
type ArtifactKind string

const (
	ArtifactDense  ArtifactKind = "dense"
	ArtifactSparse ArtifactKind = "sparse"
	ArtifactBasic  ArtifactKind = "basic"
	ArtifactMeta   ArtifactKind = "meta"
)
