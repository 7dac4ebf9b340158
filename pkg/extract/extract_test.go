package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/kbai/pkg/api"
)

func TestExtractPlainText(t *testing.T) {
	e := New()
	res, err := e.Extract([]byte("Adoption hours are 9am to 5pm.\n\nWalk-ins welcome."), "text/plain")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 0, res.Chunks[0].Index)
	assert.Contains(t, res.Chunks[0].Text, "Adoption hours")
	assert.Contains(t, res.Chunks[0].Text, "Walk-ins welcome")
	assert.Equal(t, 9, res.WordCount)
}

func TestExtractMimeParameters(t *testing.T) {
	e := New()
	_, err := e.Extract([]byte("hello"), "text/plain; charset=utf-8")
	assert.NoError(t, err)
	_, err = e.Extract([]byte("hello"), "TEXT/PLAIN")
	assert.NoError(t, err)
}

func TestExtractUnsupportedMime(t *testing.T) {
	e := New()
	_, err := e.Extract([]byte("xx"), "image/png")
	assert.ErrorIs(t, err, api.ErrUnsupportedMime)
}

func TestExtractEmptyContent(t *testing.T) {
	e := New()
	_, err := e.Extract([]byte("   \n\n  "), "text/plain")
	assert.ErrorIs(t, err, api.ErrEmptyContent)
}

func TestExtractRegisterOverride(t *testing.T) {
	e := New()
	e.Register("application/x-custom", func(data []byte) (string, int, error) {
		return "custom text", 3, nil
	})
	require.True(t, e.Supported("application/x-custom"))
	res, err := e.Extract(nil, "application/x-custom")
	require.NoError(t, err)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, "custom text", res.Chunks[0].Text)
}

func TestChunkTextPacksParagraphs(t *testing.T) {
	para := strings.Repeat("word ", 80) // ~400 chars
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 6))
	chunks := chunkText(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxChunkSize)
	}
	// Six 400-char paragraphs should not produce six chunks.
	assert.Less(t, len(chunks), 6)
}

func TestChunkTextSplitsLongParagraph(t *testing.T) {
	sentence := "This is a sentence about animal welfare and shelter operations. "
	long := strings.Repeat(sentence, 60) // ~3800 chars, no blank lines
	chunks := chunkText(long)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxChunkSize)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestChunkTextNoWhitespaceFallback(t *testing.T) {
	blob := strings.Repeat("a", 3000)
	chunks := chunkText(blob)
	require.Greater(t, len(chunks), 1)
	total := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxChunkSize)
		total += len(c)
	}
	assert.Equal(t, 3000, total)
}

func TestChunkIndexesAreSequential(t *testing.T) {
	e := New()
	text := strings.TrimSpace(strings.Repeat(strings.Repeat("chunky content ", 60)+"\n\n", 4))
	res, err := e.Extract([]byte(text), "text/plain")
	require.NoError(t, err)
	require.Greater(t, len(res.Chunks), 1)
	for i, c := range res.Chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestExtractPDFLiteralStrings(t *testing.T) {
	pdf := "%PDF-1.4\n" +
		"1 0 obj << /Type /Page >> endobj\n" +
		"BT (Adoption fees start at) Tj (fifty dollars.) Tj ET\n" +
		"(ignored metadata string)\n" +
		"%%EOF"
	text, pages, err := extractPDFText([]byte(pdf))
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Contains(t, text, "Adoption fees start at")
	assert.Contains(t, text, "fifty dollars.")
	assert.NotContains(t, text, "ignored metadata")
}

func TestExtractPDFBadHeader(t *testing.T) {
	_, _, err := extractPDFText([]byte("not a pdf"))
	assert.Error(t, err)
}

func TestExtractDOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body>` +
		`<w:p><w:r><w:t>Spay and neuter services</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>are offered weekly.</w:t></w:r></w:p>` +
		`</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	text, _, err := extractDOCXText(buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, text, "Spay and neuter services")
	assert.Contains(t, text, "are offered weekly.")
}

func TestExtractDOCXNotAZip(t *testing.T) {
	_, _, err := extractDOCXText([]byte("plain bytes"))
	assert.Error(t, err)
}
