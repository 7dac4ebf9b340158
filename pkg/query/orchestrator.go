package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/observability"
	"github.com/platinummonkey/kbai/pkg/search"
	"github.com/platinummonkey/kbai/pkg/storage"
	"github.com/platinummonkey/kbai/pkg/tools"
)

// Request is one question against a project's knowledge base.
type Request struct {
	ProjectID  string `json:"project_id"`
	Question   string `json:"question"`
	MaxSources int    `json:"max_sources,omitempty"`
	UseTools   *bool  `json:"use_tools,omitempty"`
}

// ToolUsage records one tool invocation made while answering.
type ToolUsage struct {
	Tool       string                 `json:"tool"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
}

// Response is the answer to a Request.
type Response struct {
	ProjectID    string          `json:"project_id"`
	Question     string          `json:"question"`
	Answer       string          `json:"answer"`
	Sources      []search.Source `json:"sources"`
	ToolsUsed    []ToolUsage     `json:"tools_used,omitempty"`
	Model        string          `json:"model,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	ProcessingMS int64           `json:"processing_ms"`
}

// Question phrasing that suggests the datetime tool is relevant.
var datetimeKeywords = []string{"time", "date", "today", "now", "current"}

// Question phrasing that suggests fresher information than the knowledge
// base may hold.
var webSearchKeywords = []string{"latest", "news", "current events", "search", "web"}

// Orchestrator answers questions by combining retrieval, tools and a
// completion backend.
type Orchestrator struct {
	storage   storage.Storage
	retriever *search.Retriever
	registry  *tools.Registry
	completer Completer
	logger    *observability.Logger
	tracer    oteltrace.Tracer
}

// NewOrchestrator creates an Orchestrator. completer may be nil, in
// which case every answer is extractive.
func NewOrchestrator(store storage.Storage, retriever *search.Retriever, registry *tools.Registry, completer Completer, logger *observability.Logger) *Orchestrator {
	return &Orchestrator{
		storage:   store,
		retriever: retriever,
		registry:  registry,
		completer: completer,
		logger:    logger,
		tracer:    otel.Tracer("kbai/query"),
	}
}

// Answer processes one request end to end.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", api.ErrBadRequest)
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", api.ErrBadRequest)
	}

	ctx, span := o.tracer.Start(ctx, "query.answer", oteltrace.WithAttributes(
		attribute.String("project.id", req.ProjectID),
	))
	defer span.End()

	project, err := o.storage.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !project.Active {
		return nil, fmt.Errorf("project %s: %w", req.ProjectID, api.ErrNotFound)
	}

	sources, err := o.retriever.Search(ctx, req.ProjectID, question, req.MaxSources)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	var toolsUsed []ToolUsage
	if req.UseTools == nil || *req.UseTools {
		toolsUsed = o.runTools(ctx, question, sources)
	}

	answer, model := o.generate(ctx, question, sources, toolsUsed)

	span.SetAttributes(
		attribute.Int("query.sources", len(sources)),
		attribute.Int("query.tools", len(toolsUsed)),
	)
	return &Response{
		ProjectID:    req.ProjectID,
		Question:     question,
		Answer:       answer,
		Sources:      sources,
		ToolsUsed:    toolsUsed,
		Model:        model,
		Timestamp:    time.Now().UTC(),
		ProcessingMS: time.Since(started).Milliseconds(),
	}, nil
}

// runTools decides which auxiliary tools apply to the question and
// executes them. Tool failures are recorded, never fatal.
func (o *Orchestrator) runTools(ctx context.Context, question string, sources []search.Source) []ToolUsage {
	var used []ToolUsage
	lower := strings.ToLower(question)

	if matchesAny(lower, datetimeKeywords) {
		if usage, ok := o.execute(ctx, "datetime", map[string]interface{}{}); ok {
			used = append(used, usage)
		}
	}

	// Web search needs both a freshness cue in the question and weak
	// knowledge base coverage; either alone is not enough.
	if matchesAny(lower, webSearchKeywords) && !sufficientContext(sources) {
		params := map[string]interface{}{"query": question}
		if usage, ok := o.execute(ctx, "web_search", params); ok {
			used = append(used, usage)
		}
	}
	return used
}

// sufficientContext reports whether retrieval alone is strong enough to
// answer without a web search.
func sufficientContext(sources []search.Source) bool {
	return len(sources) > 0 && sources[0].Fused > search.SufficiencyFloor
}

// execute runs one registered tool. Unregistered tools are skipped
// silently; schema errors and runtime failures are recorded as
// unsuccessful usages.
func (o *Orchestrator) execute(ctx context.Context, name string, params map[string]interface{}) (ToolUsage, bool) {
	if _, err := o.registry.Get(name); err != nil {
		return ToolUsage{}, false
	}

	started := time.Now()
	result, err := o.registry.Execute(ctx, name, params)
	usage := ToolUsage{
		Tool:       name,
		Params:     params,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		usage.Error = err.Error()
	} else {
		usage.Success = result.Success
		usage.Error = result.Error
		usage.Data = result.Data
	}
	if usage.Error != "" {
		o.logger.WithField("tool", name).WithField("error", usage.Error).Warn("tool execution failed")
	}
	return usage, true
}

// generate produces the final answer, falling back to an extractive
// answer when no completer is configured or the completion fails.
func (o *Orchestrator) generate(ctx context.Context, question string, sources []search.Source, toolsUsed []ToolUsage) (string, string) {
	if o.completer == nil {
		return fallbackAnswer(sources), ""
	}

	prompt := composePrompt(question, sources, toolSections(toolsUsed))
	answer, err := o.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		o.logger.WithError(err).Warn("completion failed, returning extractive answer")
		return fallbackAnswer(sources), ""
	}
	return answer, o.completer.Model()
}

// toolSections renders successful tool outputs for the prompt.
func toolSections(toolsUsed []ToolUsage) []string {
	var sections []string
	for _, u := range toolsUsed {
		if !u.Success {
			continue
		}
		data, err := json.Marshal(u.Data)
		if err != nil {
			continue
		}
		sections = append(sections, fmt.Sprintf("Tool %s output:\n%s", u.Tool, data))
	}
	return sections
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
			return r == ' ' || r == '?' || r == '!' || r == '.' || r == ',' || r == '\'' || r == '"'
		}) {
			if tok == kw {
				return true
			}
		}
	}
	return false
}
