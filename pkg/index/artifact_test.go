package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "What does ASPCA stand for?", []string{"aspca", "stand"}},
		{"punctuation", "hours: 9am-5pm, daily!", []string{"hours", "9am", "5pm", "daily"}},
		{"stopwords dropped", "the cat is on the mat", []string{"cat", "mat"}},
		{"empty", "", nil},
		{"numbers kept", "call 555 0100", []string{"call", "555", "0100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func testRecords() []Record {
	return []Record{
		{ID: "f1", Kind: "faq", Title: "What does ASPCA stand for?",
			Body: "American Society for the Prevention of Cruelty to Animals."},
		{ID: "f2", Kind: "faq", Title: "What are adoption hours?",
			Body: "Adoption hours are 9am to 5pm every day."},
		{ID: "k1", Kind: "kb", Title: "Spay and neuter",
			Body: "Spay and neuter clinics run weekly at the shelter."},
	}
}

func TestBuildSparseAndSearch(t *testing.T) {
	a := BuildSparse(testRecords())
	assert.Equal(t, 3, a.TotalDocs)
	assert.Greater(t, a.AvgDocLen, 0.0)

	results := a.Search(Tokenize("what does aspca stand for"), 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "f1", results[0].ID)

	results = a.Search(Tokenize("adoption hours"), 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "f2", results[0].ID)
}

func TestSparseSearchNoMatch(t *testing.T) {
	a := BuildSparse(testRecords())
	assert.Empty(t, a.Search([]string{"zebra"}, 5))
	assert.Empty(t, a.Search(nil, 5))
}

func TestSparseEmptyIndex(t *testing.T) {
	a := BuildSparse(nil)
	assert.Empty(t, a.Search([]string{"anything"}, 5))
}

func TestBuildBasicAndSearch(t *testing.T) {
	a := BuildBasic(testRecords())
	require.Len(t, a.Entries, 3)

	results := a.Search(Tokenize("spay clinics"), 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "k1", results[0].ID)
	// Full-token-coverage match scores 1.0.
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestBasicEntryLookup(t *testing.T) {
	a := BuildBasic(testRecords())
	e, ok := a.Entry("f2")
	require.True(t, ok)
	assert.Equal(t, "What are adoption hours?", e.Title)
	assert.Contains(t, e.Excerpt, "9am to 5pm")

	_, ok = a.Entry("missing")
	assert.False(t, ok)
}

func TestBasicExcerptCapped(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	a := BuildBasic([]Record{{ID: "r", Title: "t", Body: string(long)}})
	assert.Len(t, a.Entries[0].Excerpt, excerptLimit)
}

func TestDenseSearch(t *testing.T) {
	a := &DenseArtifact{
		Model: "test",
		Dim:   3,
		Entries: []DenseEntry{
			{ID: "a", Vector: []float32{1, 0, 0}},
			{ID: "b", Vector: []float32{0.9, 0.1, 0}},
			{ID: "c", Vector: []float32{0, 1, 0}},
		},
	}
	results := a.Search([]float32{1, 0, 0}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}

func TestScoredOrderingDeterministic(t *testing.T) {
	s := []Scored{{ID: "b", Score: 1}, {ID: "a", Score: 1}, {ID: "c", Score: 2}}
	sortScored(s)
	assert.Equal(t, "c", s[0].ID)
	assert.Equal(t, "a", s[1].ID)
	assert.Equal(t, "b", s[2].ID)
}

func TestFingerprintStability(t *testing.T) {
	recs := testRecords()
	fp1 := Fingerprint(recs)

	// Order-independent.
	reversed := []Record{recs[2], recs[1], recs[0]}
	assert.Equal(t, fp1, Fingerprint(reversed))

	// Content-sensitive.
	changed := testRecords()
	changed[0].Body = "different"
	assert.NotEqual(t, fp1, Fingerprint(changed))

	assert.NotEmpty(t, Fingerprint(nil))
	assert.NotEqual(t, fp1, Fingerprint(nil))
}
