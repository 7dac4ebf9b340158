package extract

import (
	"bytes"
	"fmt"
	"strings"
)

// extractPDFText is a minimal fallback reader for uncompressed PDF
// content streams. It collects the literal strings of Tj/TJ text
// operators and counts /Type /Page objects. Scanned or fully
// compressed PDFs yield no text and surface as api.ErrEmptyContent
// upstream; deployments needing full fidelity register a richer
// TextExtractor.
func extractPDFText(data []byte) (string, int, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", 0, fmt.Errorf("missing PDF header")
	}

	pages := bytes.Count(data, []byte("/Type /Page")) - bytes.Count(data, []byte("/Type /Pages"))
	pages += bytes.Count(data, []byte("/Type/Page")) - bytes.Count(data, []byte("/Type/Pages"))
	if pages < 0 {
		pages = 0
	}

	var sb strings.Builder
	for i := 0; i < len(data); i++ {
		if data[i] != '(' {
			continue
		}
		lit, end, ok := readLiteralString(data, i)
		if !ok {
			continue
		}
		// Only keep literals actually used by a text-showing operator.
		if followedByTextOperator(data, end) {
			sb.WriteString(lit)
			sb.WriteByte(' ')
		}
		i = end
	}

	text := strings.TrimSpace(sb.String())
	if text != "" && pages == 0 {
		pages = 1
	}
	return text, pages, nil
}

// readLiteralString parses a PDF literal string starting at the '(' at
// position start. It returns the decoded text and the index of the
// closing ')'.
func readLiteralString(data []byte, start int) (string, int, bool) {
	var sb strings.Builder
	depth := 0
	for i := start; i < len(data); i++ {
		c := data[i]
		switch c {
		case '\\':
			if i+1 >= len(data) {
				return "", 0, false
			}
			i++
			switch data[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r', 'f', 'b':
				sb.WriteByte(' ')
			case '(', ')', '\\':
				sb.WriteByte(data[i])
			}
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(c)
			}
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i, true
			}
			sb.WriteByte(c)
		default:
			if c >= 0x20 && c < 0x7f || c == '\n' {
				sb.WriteByte(c)
			}
		}
	}
	return "", 0, false
}

// followedByTextOperator reports whether the bytes after a literal
// string close form a Tj, TJ or ' operator.
func followedByTextOperator(data []byte, closeIdx int) bool {
	i := closeIdx + 1
	for i < len(data) && (data[i] == ' ' || data[i] == '\r' || data[i] == '\n' || data[i] == ']') {
		i++
	}
	if i >= len(data) {
		return false
	}
	rest := data[i:]
	return bytes.HasPrefix(rest, []byte("Tj")) ||
		bytes.HasPrefix(rest, []byte("TJ")) ||
		rest[0] == '\''
}
