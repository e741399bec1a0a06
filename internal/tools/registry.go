// Package tools exposes canvas operations to an external agent as named,
// schema-checked calls.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownTool is returned by Call for a name nobody registered.
	ErrUnknownTool = errors.New("tools: unknown tool")
	// ErrInvalidArguments is returned when arguments fail schema validation.
	ErrInvalidArguments = errors.New("tools: invalid arguments")
)

// Handler runs a tool. args has already been validated against the schema.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool describes one callable operation.
type Tool struct {
	Name        string
	Description string
	// Schema is a JSON Schema document for the arguments object.
	Schema  map[string]any
	Handler Handler
}

// Descriptor is the public description of a registered tool.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"inputSchema"`
}

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry holds the registered tools. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]entry),
		logger: logger.With("component", "tools"),
	}
}

// Register compiles the tool's schema and adds it. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tools: tool without name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: %s has no handler", t.Name)
	}
	if t.Schema == nil {
		t.Schema = map[string]any{"type": "object"}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Schema))
	if err != nil {
		return fmt.Errorf("tools: compile schema for %s: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tools: %s already registered", t.Name)
	}
	r.tools[t.Name] = entry{tool: t, schema: schema}
	return nil
}

// Call validates args and runs the named tool. Empty args mean {}.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := e.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		r.logger.Warn("tool arguments failed schema validation", "tool", name, "errors", msgs)
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidArguments, name, strings.Join(msgs, "; "))
	}

	r.logger.Debug("calling tool", "tool", name)
	out, err := e.tool.Handler(ctx, args)
	if err != nil {
		// Partial outcomes, e.g. some shapes deleted and some locked, are
		// returned with the error.
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// List returns every tool sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, Descriptor{Name: e.tool.Name, Description: e.tool.Description, Schema: e.tool.Schema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Decode unmarshals validated arguments into v.
func Decode(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Object builds an object schema from property schemas. Names listed in
// required must be present; additional properties are rejected.
func Object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
