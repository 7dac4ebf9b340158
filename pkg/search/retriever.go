// Package search ranks knowledge base records against a user query by
// fusing dense, sparse and basic retrieval over the published index.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/kbai/pkg/index"
	"github.com/platinummonkey/kbai/pkg/observability"
)

// Fusion constants. Providers contribute 1/(rrfK + rank) per result,
// rank 1-based. Candidates fusing below ScoreFloor are dropped; a top
// result above SufficiencyFloor is considered strong enough to answer
// from the knowledge base alone.
const (
	rrfK             = 60
	ScoreFloor       = 1.0 / 120.0
	SufficiencyFloor = 1.0 / 30.0
)

// DefaultMaxSources is the result count when the caller does not ask
// for one; MaxSourcesLimit caps what a caller may ask for.
const (
	DefaultMaxSources = 5
	MaxSourcesLimit   = 20
)

// minProviderDepth floors how many results each provider contributes
// to fusion.
const minProviderDepth = 20

// providerDepth returns the per-provider fan-out for a request asking
// for k results: four times k, never fewer than minProviderDepth.
func providerDepth(k int) int {
	if n := k * 4; n > minProviderDepth {
		return n
	}
	return minProviderDepth
}

// queryCacheSize bounds the per-process query embedding cache.
const queryCacheSize = 512

// Source is one ranked knowledge base result.
type Source struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	Title         string  `json:"title"`
	Excerpt       string  `json:"excerpt"`
	Score         float64 `json:"relevance_score"`
	AttachmentURL string  `json:"attachment_url,omitempty"`

	// Fused is the RRF score used for ranking and sufficiency checks.
	// The exported Score keeps the best single-provider score, which
	// reads more naturally in responses.
	Fused float64 `json:"-"`
}

// Retriever executes hybrid retrieval over a project's published index
// snapshot, falling back to a live basic scan when no index exists yet.
type Retriever struct {
	manager  *index.Manager
	builder  *index.Builder
	embedder index.Embedder
	logger   *observability.Logger
	tracer   oteltrace.Tracer
	qcache   *lru.Cache[string, []float32]
}

// NewRetriever creates a Retriever. embedder may be nil, which disables
// the dense provider.
func NewRetriever(manager *index.Manager, builder *index.Builder, embedder index.Embedder, logger *observability.Logger) *Retriever {
	qcache, _ := lru.New[string, []float32](queryCacheSize)
	return &Retriever{
		manager:  manager,
		builder:  builder,
		embedder: embedder,
		logger:   logger,
		tracer:   otel.Tracer("kbai/search"),
		qcache:   qcache,
	}
}

// Search returns up to k fused results for query within a project.
func (r *Retriever) Search(ctx context.Context, projectID, query string, k int) ([]Source, error) {
	if k <= 0 {
		k = DefaultMaxSources
	}
	if k > MaxSourcesLimit {
		k = MaxSourcesLimit
	}

	ctx, span := r.tracer.Start(ctx, "search.retrieve", oteltrace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.Int("search.k", k),
	))
	defer span.End()

	snap, err := r.manager.Snapshot(ctx, projectID)
	if err != nil {
		if !errors.Is(err, index.ErrNoIndex) {
			return nil, fmt.Errorf("failed to open index snapshot: %w", err)
		}
		return r.searchLive(ctx, projectID, query, k)
	}
	defer snap.Release()
	span.SetAttributes(attribute.Int64("index.version", int64(snap.Version)))

	tokens := index.Tokenize(query)
	depth := providerDepth(k)
	var lists [][]index.Scored

	if snap.Dense != nil && r.embedder != nil {
		if qvec, err := r.queryVector(ctx, query); err != nil {
			r.logger.WithError(err).WithField("project_id", projectID).
				Warn("query embedding failed, searching without dense provider")
		} else {
			lists = append(lists, snap.Dense.Search(qvec, depth))
		}
	}
	if snap.Sparse != nil {
		lists = append(lists, snap.Sparse.Search(tokens, depth))
	}
	lists = append(lists, snap.Basic.Search(tokens, depth))

	fused := fuse(lists)
	sources := r.materialize(projectID, snap.Basic, fused)
	span.SetAttributes(attribute.Int("search.results", len(sources)))
	return truncate(sources, k), nil
}

// searchLive serves projects that have content but no published index
// yet by scanning records directly with the basic provider.
func (r *Retriever) searchLive(ctx context.Context, projectID, query string, k int) ([]Source, error) {
	records, err := r.builder.Records(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load records for live search: %w", err)
	}
	basic := index.BuildBasic(records)
	fused := fuse([][]index.Scored{basic.Search(index.Tokenize(query), providerDepth(k))})
	return truncate(r.materialize(projectID, basic, fused), k), nil
}

func (r *Retriever) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := r.embedder.Model() + "\x00" + query
	if vec, ok := r.qcache.Get(key); ok {
		return vec, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	r.qcache.Add(key, vec)
	return vec, nil
}

type fusedCandidate struct {
	id    string
	fused float64
	best  float64
}

// fuse combines provider rankings with reciprocal rank fusion, keeping
// each candidate's best single-provider score for display.
func fuse(lists [][]index.Scored) []fusedCandidate {
	byID := make(map[string]*fusedCandidate)
	for _, list := range lists {
		for rank, item := range list {
			c, ok := byID[item.ID]
			if !ok {
				c = &fusedCandidate{id: item.ID}
				byID[item.ID] = c
			}
			c.fused += 1.0 / float64(rrfK+rank+1)
			if item.Score > c.best {
				c.best = item.Score
			}
		}
	}

	out := make([]fusedCandidate, 0, len(byID))
	for _, c := range byID {
		if c.fused < ScoreFloor {
			continue
		}
		out = append(out, *c)
	}
	return out
}

// materialize resolves candidates to displayable sources, orders them
// deterministically and collapses chunks of the same document down to
// their best-ranked chunk.
func (r *Retriever) materialize(projectID string, basic *index.BasicArtifact, candidates []fusedCandidate) []Source {
	type ranked struct {
		Source
		chunkIndex int
		parent     string
	}

	items := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		entry, ok := basic.Entry(c.id)
		if !ok {
			continue
		}
		item := ranked{
			Source: Source{
				ID:      c.id,
				Kind:    entry.Kind,
				Title:   entry.Title,
				Excerpt: entry.Excerpt,
				Score:   c.best,
				Fused:   c.fused,
			},
			chunkIndex: entry.ChunkIndex,
			parent:     entry.ParentDocumentID,
		}
		if entry.AttachmentID != "" {
			item.AttachmentURL = fmt.Sprintf("/v1/projects/%s/kb/%s/attachment", projectID, c.id)
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Fused != items[j].Fused {
			return items[i].Fused > items[j].Fused
		}
		if items[i].chunkIndex != items[j].chunkIndex {
			return items[i].chunkIndex < items[j].chunkIndex
		}
		return items[i].ID < items[j].ID
	})

	seen := make(map[string]bool)
	out := make([]Source, 0, len(items))
	for _, item := range items {
		if item.parent != "" {
			if seen[item.parent] {
				continue
			}
			seen[item.parent] = true
		}
		out = append(out, item.Source)
	}
	return out
}

func truncate(sources []Source, k int) []Source {
	if len(sources) > k {
		return sources[:k]
	}
	return sources
}
