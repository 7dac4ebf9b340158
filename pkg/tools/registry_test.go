package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/kbai/pkg/api"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Params() []Param {
	return []Param{
		{Name: "text", Type: "string", Required: true},
		{Name: "repeat", Type: "int", Required: false, Default: 1},
		{Name: "mode", Type: "string", Required: false, Enum: []string{"plain", "loud"}},
	}
}
func (echoTool) Execute(ctx context.Context, params map[string]interface{}) Result {
	return OK(map[string]interface{}{"text": params["text"], "repeat": params["repeat"]})
}

func TestRegistryRegisterAndList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))
	require.NoError(t, r.Register(NewDatetimeTool()))

	assert.ErrorIs(t, r.Register(echoTool{}), api.ErrConflict)

	list := r.List()
	require.Len(t, list, 2)
	// Sorted by name.
	assert.Equal(t, "datetime", list[0].Name)
	assert.Equal(t, "echo", list[1].Name)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestExecuteParamValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))
	ctx := context.Background()

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{"missing required", map[string]interface{}{}},
		{"unknown param", map[string]interface{}{"text": "hi", "bogus": 1}},
		{"wrong type", map[string]interface{}{"text": 42}},
		{"non-integer", map[string]interface{}{"text": "hi", "repeat": 1.5}},
		{"enum violation", map[string]interface{}{"text": "hi", "mode": "silent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(ctx, "echo", tt.params)
			assert.ErrorIs(t, err, api.ErrBadRequest)
		})
	}
}

func TestExecuteAppliesDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))

	res, err := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Data["repeat"])
}

func TestExecuteCoercesJSONNumbers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool{}))

	// JSON unmarshals numbers as float64.
	res, err := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi", "repeat": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Data["repeat"])
}

func TestDatetimeTool(t *testing.T) {
	tool := NewDatetimeTool()
	fixed := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	tool.now = func() time.Time { return fixed }

	res := tool.Execute(context.Background(), map[string]interface{}{"timezone": "UTC"})
	require.True(t, res.Success)
	assert.Equal(t, "2025-06-15", res.Data["iso_date"])
	assert.Equal(t, "Sunday", res.Data["weekday"])
	assert.Equal(t, fixed.Unix(), res.Data["unix"])
}

func TestDatetimeToolCustomFormat(t *testing.T) {
	tool := NewDatetimeTool()
	fixed := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	tool.now = func() time.Time { return fixed }

	res := tool.Execute(context.Background(), map[string]interface{}{"timezone": "UTC", "format": "2006-01-02"})
	require.True(t, res.Success)
	assert.Equal(t, "2025-06-15", res.Data["datetime"])
}

func TestDatetimeToolBadInputs(t *testing.T) {
	tool := NewDatetimeTool()

	res := tool.Execute(context.Background(), map[string]interface{}{"timezone": "Not/AZone"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timezone")

	res = tool.Execute(context.Background(), map[string]interface{}{"timezone": "UTC", "format": "not a layout"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "format")
}

func TestWebSearchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "shelter news", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"title": "r1", "url": "http://a", "content": "c1", "engines": []string{"ddg"}},
				{"title": "r2", "url": "http://b", "content": "c2"},
				{"title": "r3", "url": "http://c", "content": "c3"},
			},
		})
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL, time.Second)
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "shelter news", "max_results": 2})
	require.True(t, res.Success)
	assert.Equal(t, 2, res.Data["count"])
}

func TestWebSearchToolCapsMaxResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := make([]map[string]interface{}, 0, 25)
		for i := 0; i < 25; i++ {
			results = append(results, map[string]interface{}{"title": "r", "url": "http://x", "content": "c"})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL, time.Second)
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "anything", "max_results": 50})
	require.True(t, res.Success)
	assert.Equal(t, MaxSearchResults, res.Data["count"])
}

func TestWebSearchToolNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // force connection errors

	tool := NewWebSearchTool(srv.URL, time.Second)
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "anything"})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestWebSearchToolUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tool := NewWebSearchTool(srv.URL, time.Second)
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "anything"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "502")
}

func TestWebSearchToolEmptyQuery(t *testing.T) {
	tool := NewWebSearchTool("http://localhost:1", time.Second)
	res := tool.Execute(context.Background(), map[string]interface{}{"query": "  "})
	assert.False(t, res.Success)
}

func TestWebSearchToolDisabledWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewWebSearchTool("", time.Second))
}
