package extract

import (
	"regexp"
	"strings"
)

// Chunk size bounds in characters. Chunks target ~1200 characters and
// never exceed maxChunkSize. Paragraphs longer than longParagraphSize
// are split at sentence or whitespace boundaries.
const (
	targetChunkSize   = 1200
	maxChunkSize      = 1400
	longParagraphSize = 2400
)

var paragraphSep = regexp.MustCompile(`\n\s*\n`)

// chunkText splits text into chunks on paragraph boundaries, packing
// consecutive paragraphs together until the target size is reached.
func chunkText(text string) []string {
	var pieces []string
	for _, para := range paragraphSep.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > longParagraphSize {
			pieces = append(pieces, splitLongParagraph(para)...)
		} else {
			pieces = append(pieces, para)
		}
	}

	var chunks []string
	var cur strings.Builder
	for _, p := range pieces {
		if cur.Len() > 0 && cur.Len()+2+len(p) > maxChunkSize {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		if cur.Len() >= targetChunkSize {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitLongParagraph breaks an oversized paragraph into pieces no
// larger than maxChunkSize, preferring sentence endings and falling
// back to whitespace, then to a hard cut.
func splitLongParagraph(para string) []string {
	var out []string
	for len(para) > maxChunkSize {
		cut := findCut(para, maxChunkSize)
		out = append(out, strings.TrimSpace(para[:cut]))
		para = strings.TrimSpace(para[cut:])
	}
	if para != "" {
		out = append(out, para)
	}
	return out
}

func findCut(s string, limit int) int {
	window := s[:limit]

	// Prefer a sentence boundary in the back half of the window.
	best := -1
	for _, end := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if i := strings.LastIndex(window, end); i > best {
			best = i + len(end)
		}
	}
	if best >= limit/2 {
		return best
	}

	if i := strings.LastIndexFunc(window, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t'
	}); i > 0 {
		return i + 1
	}
	return limit
}
