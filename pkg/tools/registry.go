// Package tools hosts the auxiliary tools the query orchestrator can
// invoke: a registry with parameter schema validation plus the built-in
// datetime and web search tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/kbai/pkg/api"
)

// DefaultExecTimeout bounds one tool execution.
const DefaultExecTimeout = 10 * time.Second

// Param describes one tool parameter. Type is one of "string", "int",
// "number" or "bool".
type Param struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// Result is a tool execution outcome. Failed executions carry Error and
// leave Data nil; tool failures are results, not Go errors, so one bad
// tool does not fail the whole query.
type Result struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Tool is an invokable capability.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Execute(ctx context.Context, params map[string]interface{}) Result
}

// Descriptor is the listable form of a registered tool.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Registry holds the registered tools. Execution validates arguments
// against the tool's schema and applies defaults before dispatch.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: DefaultExecTimeout,
	}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: tool %q already registered", api.ErrConflict, t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q: %w", name, api.ErrNotFound)
	}
	return t, nil
}

// List returns descriptors for all tools sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{Name: t.Name(), Description: t.Description(), Params: t.Params()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates params against the tool schema and runs the tool
// under the execution timeout. Schema violations return an error;
// runtime tool failures come back as an unsuccessful Result.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) (Result, error) {
	tool, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}

	resolved, err := resolveParams(tool.Params(), params)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return tool.Execute(ctx, resolved), nil
}

// resolveParams checks arguments against the schema: unknown names and
// missing required parameters are rejected, defaults fill the gaps, and
// types and enums are enforced.
func resolveParams(schema []Param, params map[string]interface{}) (map[string]interface{}, error) {
	byName := make(map[string]Param, len(schema))
	for _, p := range schema {
		byName[p.Name] = p
	}
	for name := range params {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", api.ErrBadRequest, name)
		}
	}

	resolved := make(map[string]interface{}, len(schema))
	for _, p := range schema {
		val, present := params[p.Name]
		if !present || val == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: missing required parameter %q", api.ErrBadRequest, p.Name)
			}
			if p.Default != nil {
				resolved[p.Name] = p.Default
			}
			continue
		}
		coerced, err := coerceParam(p, val)
		if err != nil {
			return nil, err
		}
		resolved[p.Name] = coerced
	}
	return resolved, nil
}

func coerceParam(p Param, val interface{}) (interface{}, error) {
	switch p.Type {
	case "string":
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q must be a string", api.ErrBadRequest, p.Name)
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if s == allowed {
					return s, nil
				}
			}
			return nil, fmt.Errorf("%w: parameter %q must be one of %v", api.ErrBadRequest, p.Name, p.Enum)
		}
		return s, nil
	case "int":
		switch v := val.(type) {
		case int:
			return v, nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("%w: parameter %q must be an integer", api.ErrBadRequest, p.Name)
			}
			return int(v), nil
		}
		return nil, fmt.Errorf("%w: parameter %q must be an integer", api.ErrBadRequest, p.Name)
	case "number":
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
		return nil, fmt.Errorf("%w: parameter %q must be a number", api.ErrBadRequest, p.Name)
	case "bool":
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q must be a boolean", api.ErrBadRequest, p.Name)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: parameter %q has unsupported type %q", api.ErrBadRequest, p.Name, p.Type)
	}
}

// Fail builds an unsuccessful result.
func Fail(format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// OK builds a successful result.
func OK(data map[string]interface{}) Result {
	return Result{Success: true, Data: data}
}
