// Package identity mints deterministic identifiers for knowledge base
// records. The same logical record always receives the same ID, which
// makes content writes idempotent across retries and re-imports.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Mint derives a UUIDv5 from a record kind and its identifying parts,
// joined with "|" in order.
func Mint(kind string, parts ...string) string {
	name := kind
	if len(parts) > 0 {
		name += "|" + strings.Join(parts, "|")
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// MintFAQ returns the ID of a FAQ record. Only the question
// participates, so updating an answer keeps the ID stable.
func MintFAQ(projectID, question string) string {
	return Mint("faq", projectID, question)
}

// MintKB returns the ID of a manually created KB article. Only the
// title participates, so rewriting an article's content upserts it
// in place.
func MintKB(projectID, title string) string {
	return Mint("kb", projectID, title)
}

// MintChunk returns the ID of one chunk of an ingested document,
// keyed by the article title and the chunk position.
func MintChunk(projectID, articleTitle string, chunkIndex int) string {
	return Mint("kb", projectID, articleTitle, strconv.Itoa(chunkIndex))
}

// MintDocument returns the parent document ID for an uploaded file.
func MintDocument(projectID, filename, contentHash string) string {
	return Mint("doc", projectID, filename, contentHash)
}

// ContentHash returns the hex SHA-256 of content. Used both as an ID
// component and for change detection.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex SHA-256 of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
