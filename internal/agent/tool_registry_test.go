package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

func TestToolRegistry_RegisterGetUnregister(t *testing.T) {
	r := NewToolRegistry()
	_, ok := r.Get("missing")
	require.False(t, ok)

	r.Register(agentmodel.ToolDescriptor{Name: "search"})
	desc, ok := r.Get("search")
	require.True(t, ok)
	require.Equal(t, "search", desc.Name)

	r.Unregister("search")
	_, ok = r.Get("search")
	require.False(t, ok)
}

func TestToolRegistry_DescriptorsSnapshotsCurrentSet(t *testing.T) {
	r := NewToolRegistry()
	r.Register(agentmodel.ToolDescriptor{Name: "a"})
	r.Register(agentmodel.ToolDescriptor{Name: "b"})
	require.Len(t, r.Descriptors(), 2)
}

func TestToolRegistry_ValidateArgs_NoSchemaAcceptsAnything(t *testing.T) {
	r := NewToolRegistry()
	desc := agentmodel.ToolDescriptor{Name: "free-form"}
	require.NoError(t, r.ValidateArgs(desc, json.RawMessage(`{"anything":"goes"}`)))
	require.NoError(t, r.ValidateArgs(desc, nil))
}

func TestToolRegistry_ValidateArgs_RejectsSchemaViolation(t *testing.T) {
	r := NewToolRegistry()
	desc := agentmodel.ToolDescriptor{
		Name:       "typed",
		Parameters: json.RawMessage(`{"type":"object","properties":{"n":{"type":"number"}},"required":["n"]}`),
	}
	require.NoError(t, r.ValidateArgs(desc, json.RawMessage(`{"n":42}`)))
	require.Error(t, r.ValidateArgs(desc, json.RawMessage(`{"n":"not a number"}`)))
	require.Error(t, r.ValidateArgs(desc, json.RawMessage(`{}`)), "required field missing")
}

func TestToolRegistry_ValidateArgs_SchemaCompileIsCached(t *testing.T) {
	r := NewToolRegistry()
	schema := json.RawMessage(`{"type":"object","properties":{"n":{"type":"number"}}}`)
	desc := agentmodel.ToolDescriptor{Name: "cached", Parameters: schema}

	require.NoError(t, r.ValidateArgs(desc, json.RawMessage(`{"n":1}`)))
	require.Len(t, r.schemaCache, 1)
	require.NoError(t, r.ValidateArgs(desc, json.RawMessage(`{"n":2}`)))
	require.Len(t, r.schemaCache, 1, "a second call with the same schema text reuses the cached compile")
}
