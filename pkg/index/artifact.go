package index

import (
	"math"
	"sort"
	"strings"
	"time"
)

// BM25 parameters for the sparse artifact.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// excerptLimit caps the stored display excerpt per record.
const excerptLimit = 500

// Record is the unit of indexing: one FAQ or one KB entry/chunk.
type Record struct {
	ID               string
	Kind             string
	Title            string
	Body             string
	ChunkIndex       int
	ParentDocumentID string
	AttachmentID     string
}

// Text returns the indexable text of the record.
func (r Record) Text() string {
	return r.Title + "\n" + r.Body
}

// Scored is one ranked result from a single artifact.
type Scored struct {
	ID    string
	Score float64
}

// DenseArtifact holds one embedding per record.
type DenseArtifact struct {
	Model   string       `json:"model"`
	Dim     int          `json:"dim"`
	Entries []DenseEntry `json:"entries"`
}

// DenseEntry pairs a record ID with its embedding.
type DenseEntry struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

// Search ranks entries by cosine similarity to the query vector,
// returning up to k results with positive similarity.
func (a *DenseArtifact) Search(query []float32, k int) []Scored {
	if a == nil || len(query) == 0 {
		return nil
	}
	scored := make([]Scored, 0, len(a.Entries))
	for _, e := range a.Entries {
		if sim := CosineSimilarity(query, e.Vector); sim > 0 {
			scored = append(scored, Scored{ID: e.ID, Score: sim})
		}
	}
	sortScored(scored)
	return topK(scored, k)
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// zero when dimensions differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SparseArtifact is a BM25 inverted index over record tokens.
type SparseArtifact struct {
	TotalDocs int                  `json:"total_docs"`
	AvgDocLen float64              `json:"avg_doc_len"`
	Docs      []SparseDoc          `json:"docs"`
	Postings  map[string][]Posting `json:"postings"`
}

// SparseDoc records a document's ID and token count.
type SparseDoc struct {
	ID     string `json:"id"`
	Length int    `json:"length"`
}

// Posting is one term occurrence list entry. Doc indexes into Docs.
type Posting struct {
	Doc int `json:"doc"`
	TF  int `json:"tf"`
}

// BuildSparse constructs the BM25 artifact from records.
func BuildSparse(records []Record) *SparseArtifact {
	a := &SparseArtifact{
		TotalDocs: len(records),
		Docs:      make([]SparseDoc, 0, len(records)),
		Postings:  make(map[string][]Posting),
	}
	totalLen := 0
	for i, rec := range records {
		tokens := Tokenize(rec.Text())
		a.Docs = append(a.Docs, SparseDoc{ID: rec.ID, Length: len(tokens)})
		totalLen += len(tokens)

		tf := make(map[string]int)
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok, n := range tf {
			a.Postings[tok] = append(a.Postings[tok], Posting{Doc: i, TF: n})
		}
	}
	if len(records) > 0 {
		a.AvgDocLen = float64(totalLen) / float64(len(records))
	}
	for tok := range a.Postings {
		sort.Slice(a.Postings[tok], func(i, j int) bool {
			return a.Postings[tok][i].Doc < a.Postings[tok][j].Doc
		})
	}
	return a
}

// Search ranks documents by BM25 score for the query tokens.
func (a *SparseArtifact) Search(queryTokens []string, k int) []Scored {
	if a == nil || a.TotalDocs == 0 || len(queryTokens) == 0 {
		return nil
	}
	scores := make(map[int]float64)
	for _, tok := range queryTokens {
		postings, ok := a.Postings[tok]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(a.TotalDocs)-float64(len(postings))+0.5)/(float64(len(postings))+0.5))
		for _, p := range postings {
			docLen := float64(a.Docs[p.Doc].Length)
			tf := float64(p.TF)
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*docLen/a.AvgDocLen))
			scores[p.Doc] += idf * norm
		}
	}
	scored := make([]Scored, 0, len(scores))
	for doc, score := range scores {
		scored = append(scored, Scored{ID: a.Docs[doc].ID, Score: score})
	}
	sortScored(scored)
	return topK(scored, k)
}

// BasicArtifact supports keyword-overlap matching and carries the
// display fields for search results.
type BasicArtifact struct {
	Entries []BasicEntry `json:"entries"`
}

// BasicEntry is one searchable record with its display metadata.
type BasicEntry struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	Title            string `json:"title"`
	Excerpt          string `json:"excerpt"`
	ChunkIndex       int    `json:"chunk_index"`
	ParentDocumentID string `json:"parent_document_id,omitempty"`
	AttachmentID     string `json:"attachment_id,omitempty"`
	Text             string `json:"text"`
}

// BuildBasic constructs the basic artifact from records.
func BuildBasic(records []Record) *BasicArtifact {
	a := &BasicArtifact{Entries: make([]BasicEntry, 0, len(records))}
	for _, rec := range records {
		excerpt := rec.Body
		if len(excerpt) > excerptLimit {
			excerpt = excerpt[:excerptLimit]
		}
		a.Entries = append(a.Entries, BasicEntry{
			ID:               rec.ID,
			Kind:             rec.Kind,
			Title:            rec.Title,
			Excerpt:          excerpt,
			ChunkIndex:       rec.ChunkIndex,
			ParentDocumentID: rec.ParentDocumentID,
			AttachmentID:     rec.AttachmentID,
			Text:             strings.ToLower(rec.Text()),
		})
	}
	return a
}

// Search ranks entries by the fraction of query tokens present.
func (a *BasicArtifact) Search(queryTokens []string, k int) []Scored {
	if a == nil || len(queryTokens) == 0 {
		return nil
	}
	var scored []Scored
	for _, e := range a.Entries {
		hits := 0
		for _, tok := range queryTokens {
			if strings.Contains(e.Text, tok) {
				hits++
			}
		}
		if hits > 0 {
			scored = append(scored, Scored{ID: e.ID, Score: float64(hits) / float64(len(queryTokens))})
		}
	}
	sortScored(scored)
	return topK(scored, k)
}

// Entry returns the basic entry for a record ID.
func (a *BasicArtifact) Entry(id string) (BasicEntry, bool) {
	if a == nil {
		return BasicEntry{}, false
	}
	for _, e := range a.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return BasicEntry{}, false
}

// BuildMeta describes one published index version.
type BuildMeta struct {
	ProjectID      string    `json:"project_id"`
	Version        uint64    `json:"version"`
	BuiltAt        time.Time `json:"built_at"`
	Fingerprint    string    `json:"fingerprint"`
	RecordCount    int       `json:"record_count"`
	HasDense       bool      `json:"has_dense"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	HasSparse      bool      `json:"has_sparse"`
}

func sortScored(s []Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].ID < s[j].ID
	})
}

func topK(s []Scored, k int) []Scored {
	if k > 0 && len(s) > k {
		return s[:k]
	}
	return s
}
