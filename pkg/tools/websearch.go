package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultSearchResults is the result count when the caller does not
// specify one; MaxSearchResults caps what a caller may ask for.
const (
	DefaultSearchResults = 5
	MaxSearchResults     = 10
)

// WebSearchTool queries a SearxNG-compatible metasearch endpoint. A
// network or upstream failure is reported as an unsuccessful Result so
// queries degrade to knowledge-base-only answers.
type WebSearchTool struct {
	baseURL string
	client  *http.Client
}

// NewWebSearchTool creates the web search tool. Returns nil when
// baseURL is empty, leaving the tool unregistered.
func NewWebSearchTool(baseURL string, timeout time.Duration) *WebSearchTool {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &WebSearchTool{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Searches the web for current information beyond the knowledge base."
}

func (t *WebSearchTool) Params() []Param {
	return []Param{
		{Name: "query", Type: "string", Description: "Search query", Required: true},
		{Name: "max_results", Type: "int", Description: "Maximum results to return, at most 10", Required: false, Default: DefaultSearchResults},
	}
}

type searxResponse struct {
	Results []struct {
		Title   string   `json:"title"`
		URL     string   `json:"url"`
		Content string   `json:"content"`
		Engines []string `json:"engines"`
	} `json:"results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]interface{}) Result {
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return Fail("query must not be empty")
	}
	maxResults := DefaultSearchResults
	if n, ok := params["max_results"].(int); ok && n > 0 {
		maxResults = n
	}
	if maxResults > MaxSearchResults {
		maxResults = MaxSearchResults
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Fail("failed to build search request: %v", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("web search unavailable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("web search returned status %d", resp.StatusCode)
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Fail("failed to parse search response: %v", err)
	}

	results := make([]map[string]interface{}, 0, maxResults)
	for i, r := range parsed.Results {
		if i >= maxResults {
			break
		}
		results = append(results, map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Content,
			"engines": r.Engines,
		})
	}

	return OK(map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

var (
	_ Tool = (*WebSearchTool)(nil)
	_ Tool = (*DatetimeTool)(nil)
)
