package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintDeterministic(t *testing.T) {
	a := Mint("faq", "95", "What does ASPCA stand for?")
	b := Mint("faq", "95", "What does ASPCA stand for?")
	assert.Equal(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestMintDistinguishesKindAndParts(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"different kind", Mint("faq", "95", "q"), Mint("kb", "95", "q")},
		{"different project", Mint("faq", "95", "q"), Mint("faq", "96", "q")},
		{"different part", Mint("faq", "95", "q1"), Mint("faq", "95", "q2")},
		{"part order", Mint("faq", "a", "b"), Mint("faq", "b", "a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a, tt.b)
		})
	}
}

func TestMintFAQIgnoresAnswer(t *testing.T) {
	// Same question must yield the same ID regardless of the answer,
	// so that re-adding a question replaces the record.
	id1 := MintFAQ("95", "What does ASPCA stand for?")
	id2 := MintFAQ("95", "What does ASPCA stand for?")
	assert.Equal(t, id1, id2)
}

func TestMintKBIgnoresContent(t *testing.T) {
	// Same title must yield the same ID regardless of content, so that
	// rewriting an article replaces the record instead of duplicating it.
	assert.Equal(t, MintKB("95", "Adoption Policy"), MintKB("95", "Adoption Policy"))

	// The title-only formula makes an article and its chunk 0 distinct
	// records: the chunk carries the index as an extra part.
	assert.NotEqual(t, MintKB("95", "Adoption Policy"), MintChunk("95", "Adoption Policy", 0))
}

func TestMintChunkOrdering(t *testing.T) {
	c0 := MintChunk("95", "manual.pdf", 0)
	c1 := MintChunk("95", "manual.pdf", 1)
	assert.NotEqual(t, c0, c1)
	assert.Equal(t, c0, MintChunk("95", "manual.pdf", 0))
	assert.Equal(t, Mint("kb", "95", "manual.pdf", "0"), c0)
}

func TestContentHash(t *testing.T) {
	assert.Len(t, ContentHash("hello"), 64)
	assert.Equal(t, ContentHash("hello"), ContentHash("hello"))
	assert.NotEqual(t, ContentHash("hello"), ContentHash("world"))
	assert.Equal(t, ContentHash("hello"), HashBytes([]byte("hello")))
}
