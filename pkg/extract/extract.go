// Package extract turns uploaded documents into plain text chunks
// suitable for knowledge base indexing. Extraction is keyed by MIME
// type and pluggable, with built-in support for plain text, PDF and
// DOCX payloads.
package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/platinummonkey/kbai/pkg/api"
)

// TextExtractor converts a raw document into plain text. It reports the
// page count when the format has pages, zero otherwise.
type TextExtractor func(data []byte) (text string, pages int, err error)

// Chunk is one indexable slice of a document.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Result holds the output of extracting and chunking one document.
type Result struct {
	Chunks    []Chunk `json:"chunks"`
	PageCount int     `json:"page_count"`
	WordCount int     `json:"word_count"`
}

// Extractor routes documents to a TextExtractor by MIME type.
type Extractor struct {
	byMime map[string]TextExtractor
}

// New returns an Extractor with the built-in formats registered.
func New() *Extractor {
	e := &Extractor{byMime: make(map[string]TextExtractor)}
	for _, mime := range []string{"text/plain", "text/markdown", "text/csv"} {
		e.Register(mime, extractPlainText)
	}
	e.Register("application/pdf", extractPDFText)
	e.Register("application/vnd.openxmlformats-officedocument.wordprocessingml.document", extractDOCXText)
	return e
}

// Register installs or replaces the extractor for a MIME type.
func (e *Extractor) Register(mime string, fn TextExtractor) {
	e.byMime[normalizeMime(mime)] = fn
}

// Supported reports whether a MIME type has a registered extractor.
func (e *Extractor) Supported(mime string) bool {
	_, ok := e.byMime[normalizeMime(mime)]
	return ok
}

// Extract converts a document to text and splits it into chunks.
// Unknown MIME types return api.ErrUnsupportedMime; documents with no
// usable text return api.ErrEmptyContent.
func (e *Extractor) Extract(data []byte, mime string) (*Result, error) {
	fn, ok := e.byMime[normalizeMime(mime)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnsupportedMime, mime)
	}

	text, pages, err := fn(data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, api.ErrEmptyContent
	}

	pieces := chunkText(text)
	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, Chunk{Index: i, Text: p})
	}

	return &Result{
		Chunks:    chunks,
		PageCount: pages,
		WordCount: len(strings.Fields(text)),
	}, nil
}

// normalizeMime lowercases the type and strips parameters such as
// "; charset=utf-8".
func normalizeMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

func extractPlainText(data []byte) (string, int, error) {
	if !utf8.Valid(data) {
		return "", 0, fmt.Errorf("payload is not valid UTF-8")
	}
	return string(data), 0, nil
}
