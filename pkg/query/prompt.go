package query

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/kbai/pkg/search"
)

// promptCharLimit caps the composed user prompt.
const promptCharLimit = 8000

// minExcerptChars is the floor an excerpt shrinks to before whole
// sources start being dropped.
const minExcerptChars = 80

const systemPrompt = "You are a support assistant answering questions from an " +
	"organization's knowledge base. Answer using only the numbered sources and " +
	"tool outputs provided. Cite sources as [1], [2] and so on. If the sources " +
	"do not contain the answer, say so plainly."

// composePrompt builds the user prompt: the question, numbered source
// sections and any tool output sections. When the prompt exceeds the
// character limit, excerpts are truncated starting with the earliest
// source; sources are dropped (from the end) only if truncation alone
// cannot fit the limit.
func composePrompt(question string, sources []search.Source, toolSections []string) string {
	excerpts := make([]string, len(sources))
	for i, s := range sources {
		excerpts[i] = s.Excerpt
	}

	render := func() string {
		var sb strings.Builder
		sb.WriteString("Question: ")
		sb.WriteString(question)
		sb.WriteString("\n\n")
		if len(sources) > 0 {
			sb.WriteString("Knowledge base sources:\n")
			for i, s := range sources {
				fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, s.Title, excerpts[i])
			}
		} else {
			sb.WriteString("No knowledge base sources matched.\n\n")
		}
		for _, section := range toolSections {
			sb.WriteString(section)
			sb.WriteString("\n\n")
		}
		sb.WriteString("Answer:")
		return sb.String()
	}

	prompt := render()
	for i := 0; len(prompt) > promptCharLimit && i < len(excerpts); i++ {
		over := len(prompt) - promptCharLimit
		keep := len(excerpts[i]) - over
		if keep < minExcerptChars {
			keep = minExcerptChars
		}
		if keep < len(excerpts[i]) {
			excerpts[i] = excerpts[i][:keep]
			prompt = render()
		}
	}
	for len(prompt) > promptCharLimit && len(sources) > 1 {
		sources = sources[:len(sources)-1]
		excerpts = excerpts[:len(excerpts)-1]
		prompt = render()
	}
	return prompt
}

// fallbackAnswer builds a deterministic extractive answer for when no
// completion backend is configured or the backend fails. Always
// non-empty.
func fallbackAnswer(sources []search.Source) string {
	if len(sources) == 0 {
		return "I could not find relevant information in the knowledge base for this question."
	}
	var sb strings.Builder
	sb.WriteString("Here is the most relevant information from the knowledge base:\n")
	limit := 3
	if len(sources) < limit {
		limit = len(sources)
	}
	for _, s := range sources[:limit] {
		fmt.Fprintf(&sb, "\n- %s: %s", s.Title, s.Excerpt)
	}
	return sb.String()
}
