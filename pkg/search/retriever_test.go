package search

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/index"
	"github.com/platinummonkey/kbai/pkg/observability"
	"github.com/platinummonkey/kbai/pkg/storage"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newTestRetriever(t *testing.T) (*Retriever, *index.Manager, storage.Storage) {
	t.Helper()
	store, err := storage.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	builder := index.NewBuilder(store, nil, testLogger())
	manager := index.NewManager(store, builder, testLogger())
	return NewRetriever(manager, builder, nil, testLogger()), manager, store
}

func seedContent(t *testing.T, store storage.Storage) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.PutFAQs(ctx, "95", []*api.FAQ{
		{ID: "f1", ProjectID: "95", Question: "What does ASPCA stand for?",
			Answer: "American Society for the Prevention of Cruelty to Animals."},
		{ID: "f2", ProjectID: "95", Question: "What are adoption hours?",
			Answer: "Adoption hours are 9am to 5pm every day."},
	}))
	idx0, idx1 := 0, 1
	require.NoError(t, store.PutKB(ctx, "95", []*api.KBEntry{
		{ID: "c0", ProjectID: "95", ArticleTitle: "volunteer-guide.pdf", Source: api.SourceUpload,
			Content: "Volunteers assist with dog walking and cat socialization.",
			ChunkIndex: &idx0, ParentDocumentID: "doc1", AttachmentID: "att1"},
		{ID: "c1", ProjectID: "95", ArticleTitle: "volunteer-guide.pdf", Source: api.SourceUpload,
			Content: "Volunteer shifts for dog walking run mornings and evenings.",
			ChunkIndex: &idx1, ParentDocumentID: "doc1", AttachmentID: "att1"},
	}))
}

func TestSearchRanksRelevantFirst(t *testing.T) {
	r, m, store := newTestRetriever(t)
	seedContent(t, store)
	ctx := context.Background()
	require.NoError(t, m.Rebuild(ctx, "95"))

	sources, err := r.Search(ctx, "95", "What does ASPCA stand for?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, sources)
	assert.Equal(t, "f1", sources[0].ID)
	assert.Equal(t, api.KindFAQ, sources[0].Kind)
	assert.Equal(t, "What does ASPCA stand for?", sources[0].Title)
	assert.Contains(t, sources[0].Excerpt, "American Society")
	assert.Greater(t, sources[0].Fused, ScoreFloor)
}

func TestSearchDeduplicatesDocumentChunks(t *testing.T) {
	r, m, store := newTestRetriever(t)
	seedContent(t, store)
	ctx := context.Background()
	require.NoError(t, m.Rebuild(ctx, "95"))

	sources, err := r.Search(ctx, "95", "dog walking volunteers", 5)
	require.NoError(t, err)
	require.NotEmpty(t, sources)

	docHits := 0
	for _, s := range sources {
		if s.AttachmentURL != "" {
			docHits++
			assert.Contains(t, s.AttachmentURL, "/v1/projects/95/kb/")
		}
	}
	// Both chunks match but only one result per parent document.
	assert.Equal(t, 1, docHits)
}

func TestSearchNoMatches(t *testing.T) {
	r, m, store := newTestRetriever(t)
	seedContent(t, store)
	ctx := context.Background()
	require.NoError(t, m.Rebuild(ctx, "95"))

	sources, err := r.Search(ctx, "95", "quantum chromodynamics", 5)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestSearchLiveFallbackWithoutIndex(t *testing.T) {
	r, _, store := newTestRetriever(t)
	seedContent(t, store)

	sources, err := r.Search(context.Background(), "95", "adoption hours", 5)
	require.NoError(t, err)
	require.NotEmpty(t, sources)
	assert.Equal(t, "f2", sources[0].ID)
}

func TestSearchEmptyProject(t *testing.T) {
	r, _, _ := newTestRetriever(t)
	sources, err := r.Search(context.Background(), "95", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestSearchRespectsLimit(t *testing.T) {
	r, m, store := newTestRetriever(t)
	ctx := context.Background()
	faqs := make([]*api.FAQ, 0, 10)
	for i := 0; i < 10; i++ {
		faqs = append(faqs, &api.FAQ{
			ID:       string(rune('a' + i)),
			Question: "shelter question",
			Answer:   "shelter answer",
		})
	}
	require.NoError(t, store.PutFAQs(ctx, "95", faqs))
	require.NoError(t, m.Rebuild(ctx, "95"))

	sources, err := r.Search(ctx, "95", "shelter", 3)
	require.NoError(t, err)
	assert.Len(t, sources, 3)
}

func TestFuseFloorsAndBestScore(t *testing.T) {
	lists := [][]index.Scored{
		{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}},
		{{ID: "b", Score: 3.2}, {ID: "c", Score: 1.0}},
	}
	fused := fuse(lists)

	byID := make(map[string]fusedCandidate)
	for _, c := range fused {
		byID[c.id] = c
	}
	require.Len(t, byID, 3)

	// b appears in both lists: rank 2 and rank 1.
	assert.InDelta(t, 1.0/62+1.0/61, byID["b"].fused, 1e-9)
	assert.InDelta(t, 3.2, byID["b"].best, 1e-9)
	assert.InDelta(t, 1.0/61, byID["a"].fused, 1e-9)

	// A single appearance at a deep rank falls below the floor.
	var deep []index.Scored
	for i := 0; i < 70; i++ {
		deep = append(deep, index.Scored{ID: string(rune('A' + i)), Score: 1})
	}
	floored := fuse([][]index.Scored{deep})
	for _, c := range floored {
		assert.GreaterOrEqual(t, c.fused, ScoreFloor)
	}
	assert.Less(t, len(floored), 70)
}
