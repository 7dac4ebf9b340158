package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/observability"
	"github.com/platinummonkey/kbai/pkg/storage"
)

// Builder assembles the artifacts for one index version from a
// project's knowledge base content.
type Builder struct {
	storage  storage.Storage
	embedder Embedder
	logger   *observability.Logger
}

// NewBuilder creates a Builder. embedder may be nil, in which case the
// dense artifact is skipped.
func NewBuilder(store storage.Storage, embedder Embedder, logger *observability.Logger) *Builder {
	return &Builder{storage: store, embedder: embedder, logger: logger}
}

// Records loads the project's FAQ and KB content as indexable records,
// FAQs first, then KB entries, both in storage order.
func (b *Builder) Records(ctx context.Context, projectID string) ([]Record, error) {
	faqs, err := b.storage.ListFAQs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load faqs: %w", err)
	}
	kb, err := b.storage.ListKB(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load kb entries: %w", err)
	}

	records := make([]Record, 0, len(faqs)+len(kb))
	for _, f := range faqs {
		records = append(records, Record{
			ID:    f.ID,
			Kind:  api.KindFAQ,
			Title: f.Question,
			Body:  f.Answer,
		})
	}
	for _, e := range kb {
		rec := Record{
			ID:               e.ID,
			Kind:             api.KindKB,
			Title:            e.ArticleTitle,
			Body:             e.Content,
			ParentDocumentID: e.ParentDocumentID,
			AttachmentID:     e.AttachmentID,
		}
		if e.ChunkIndex != nil {
			rec.ChunkIndex = *e.ChunkIndex
		}
		records = append(records, rec)
	}
	return records, nil
}

// Fingerprint returns a stable content hash over records, independent
// of record order.
func Fingerprint(records []Record) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		sum := sha256.Sum256([]byte(r.Text()))
		lines = append(lines, r.ID+":"+hex.EncodeToString(sum[:]))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Build creates and stores all artifacts for a version. The version is
// not visible to readers until the caller publishes the pointer.
func (b *Builder) Build(ctx context.Context, projectID string, version uint64, records []Record) (*BuildMeta, error) {
	meta := &BuildMeta{
		ProjectID:   projectID,
		Version:     version,
		BuiltAt:     time.Now().UTC(),
		Fingerprint: Fingerprint(records),
		RecordCount: len(records),
	}

	basic := BuildBasic(records)
	if err := b.putArtifact(ctx, projectID, version, api.ArtifactBasic, basic); err != nil {
		return nil, err
	}

	sparse := BuildSparse(records)
	if err := b.putArtifact(ctx, projectID, version, api.ArtifactSparse, sparse); err != nil {
		return nil, err
	}
	meta.HasSparse = true

	if b.embedder != nil && len(records) > 0 {
		dense, err := b.buildDense(ctx, records)
		if err != nil {
			b.logger.WithError(err).WithField("project_id", projectID).
				Warn("embedding failed, building without dense artifact")
		} else {
			if err := b.putArtifact(ctx, projectID, version, api.ArtifactDense, dense); err != nil {
				return nil, err
			}
			meta.HasDense = true
			meta.EmbeddingModel = dense.Model
		}
	}

	if err := b.putArtifact(ctx, projectID, version, api.ArtifactMeta, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (b *Builder) buildDense(ctx context.Context, records []Record) (*DenseArtifact, error) {
	artifact := &DenseArtifact{
		Model:   b.embedder.Model(),
		Entries: make([]DenseEntry, 0, len(records)),
	}
	for _, rec := range records {
		vec, err := b.embedder.Embed(ctx, rec.Text())
		if err != nil {
			return nil, fmt.Errorf("failed to embed record %s: %w", rec.ID, err)
		}
		if artifact.Dim == 0 {
			artifact.Dim = len(vec)
		} else if len(vec) != artifact.Dim {
			return nil, fmt.Errorf("embedding dimension changed mid-build: got %d, want %d", len(vec), artifact.Dim)
		}
		artifact.Entries = append(artifact.Entries, DenseEntry{ID: rec.ID, Vector: vec})
	}
	return artifact, nil
}

func (b *Builder) putArtifact(ctx context.Context, projectID string, version uint64, kind api.ArtifactKind, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s artifact: %w", kind, err)
	}
	if err := b.storage.PutIndexArtifact(ctx, projectID, version, kind, data); err != nil {
		return fmt.Errorf("failed to store %s artifact: %w", kind, err)
	}
	return nil
}
