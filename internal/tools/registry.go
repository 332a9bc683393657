// Package tools implements the built-in tool set and the registry that
// exposes it to the LLM.
//
// Tool failures are values: Execute returns strings beginning "Error: "
// instead of Go errors, so the agent loop can hand diagnostics straight
// back to the model and keep reasoning.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/blackcat-ai/blackcat/internal/schema"
)

// Registry is a name-indexed tool catalog. It validates arguments against
// each tool's declared JSON Schema before dispatching.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]schema.Tool
	schemas map[string]*jsonschema.Schema // compiled lazily, nil on compile failure
}

// NewRegistry returns a Registry pre-populated with the given tools.
func NewRegistry(ts ...schema.Tool) *Registry {
	r := &Registry{
		tools:   make(map[string]schema.Tool, len(ts)),
		schemas: make(map[string]*jsonschema.Schema, len(ts)),
	}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t schema.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	delete(r.schemas, t.Name())
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns the tool with the given name, or nil.
func (r *Registry) Get(name string) schema.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Definitions returns all tool definitions in OpenAI function-calling format.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		var params any
		if err := json.Unmarshal(t.Parameters(), &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		list = append(list, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  params,
			},
		})
	}
	return list
}

// Execute validates args against the tool's parameter schema and runs it.
// Unknown tools and validation failures come back as diagnostic strings.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return fmt.Sprintf("Error: Tool '%s' not found", name), nil
	}

	if msg := r.validate(t, args); msg != "" {
		return msg, nil
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return result, nil
}

// validate checks args against the tool's compiled schema. An uncompilable
// schema disables validation for that tool rather than blocking it.
func (r *Registry) validate(t schema.Tool, args map[string]any) string {
	compiled := r.compiledSchema(t)
	if compiled == nil {
		return ""
	}

	// Round-trip through JSON so numbers and nested maps take the shapes
	// the validator expects.
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("Error: invalid arguments for %s: %v", t.Name(), err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Sprintf("Error: invalid arguments for %s: %v", t.Name(), err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Sprintf("Error: invalid arguments for %s: %s", t.Name(), flattenValidationError(err))
	}
	return ""
}

func (r *Registry) compiledSchema(t schema.Tool) *jsonschema.Schema {
	name := t.Name()

	r.mu.RLock()
	compiled, cached := r.schemas[name]
	r.mu.RUnlock()
	if cached {
		return compiled
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(t.Parameters()))
	if err != nil {
		compiled = nil
	}

	r.mu.Lock()
	r.schemas[name] = compiled
	r.mu.Unlock()
	return compiled
}

// flattenValidationError reduces the validator's error tree to one line
// naming the offending fields.
func flattenValidationError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaves := ve.BasicOutput().Errors
	var parts []string
	for _, l := range leaves {
		if l.Error == "" {
			continue
		}
		loc := strings.TrimPrefix(l.InstanceLocation, "/")
		if loc == "" {
			parts = append(parts, l.Error)
		} else {
			parts = append(parts, loc+": "+l.Error)
		}
	}
	if len(parts) == 0 {
		return ve.Message
	}
	return strings.Join(parts, "; ")
}
