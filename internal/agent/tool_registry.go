package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// Tool parameter limits, preventing resource exhaustion from a malicious
// or buggy model response (mirrors the teacher's agent.ToolRegistry
// constants).
const (
	MaxToolNameLength  = 256
	MaxToolParamsSize  = 10 << 20
)

// ToolRegistry is a name-keyed, thread-safe map of tool descriptors. The
// loop reads Descriptors() afresh at the start of every turn and the
// executor looks each tool up by name when it dispatches the call, so a
// Register or Unregister during a loop invocation takes effect from the
// next turn or dispatch.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]agentmodel.ToolDescriptor

	schemaMu    sync.Mutex
	schemaCache map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:       make(map[string]agentmodel.ToolDescriptor),
		schemaCache: make(map[string]*jsonschema.Schema),
	}
}

// Register adds or replaces a tool descriptor by name.
func (r *ToolRegistry) Register(desc agentmodel.ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = desc
}

// Unregister removes a tool descriptor by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a descriptor by name.
func (r *ToolRegistry) Get(name string) (agentmodel.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Descriptors returns a snapshot of every registered descriptor, for
// advertising to the provider adapter (spec §4.3 "the set is fixed for
// the duration of a loop invocation").
func (r *ToolRegistry) Descriptors() []agentmodel.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agentmodel.ToolDescriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// ValidateArgs validates raw arguments against a tool's JSON-schema
// parameters, grounded on pkg/pluginsdk/validation.go's compile-and-cache
// pattern (schema text is the cache key, guarded by a mutex rather than
// sync.Map since compilation itself is not safe to race). A tool name
// longer than MaxToolNameLength or arguments larger than
// MaxToolParamsSize are rejected; a tool with no Parameters schema
// accepts any arguments within those limits.
func (r *ToolRegistry) ValidateArgs(desc agentmodel.ToolDescriptor, args json.RawMessage) error {
	if len(desc.Name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds %d bytes", MaxToolNameLength)
	}
	if len(args) > MaxToolParamsSize {
		return fmt.Errorf("arguments for %s exceed %d bytes", desc.Name, MaxToolParamsSize)
	}
	if len(desc.Parameters) == 0 {
		return nil
	}
	schema, err := r.compileSchema(desc.Parameters)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", desc.Name, err)
	}
	var decoded any
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(decoded)
}

func (r *ToolRegistry) compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if cached, ok := r.schemaCache[key]; ok {
		return cached, nil
	}
	compiled, err := jsonschema.CompileString("tool-args.schema.json", key)
	if err != nil {
		return nil, err
	}
	r.schemaCache[key] = compiled
	return compiled, nil
}
