package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionalDistinguishesOmittedNullAndValue(t *testing.T) {
	var in AgentInput
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Router","tools":null,"dataComponents":["dc1"]}`), &in))

	assert.True(t, in.Name.HasValue())
	assert.Equal(t, "Router", in.Name.Value)

	assert.True(t, in.Tools.Set)
	assert.True(t, in.Tools.Null)
	assert.False(t, in.Tools.HasValue())

	assert.Equal(t, []string{"dc1"}, in.DataComponents.Value)

	assert.False(t, in.Prompt.Set)
	assert.False(t, in.CanTransferTo.Set)
	assert.Equal(t, "fallback", in.Prompt.Or("fallback"))
}

func TestOptionalMarshalOmitsUnsetFields(t *testing.T) {
	in := AgentInput{
		Name:  Some("Router"),
		Tools: Null[[]string](),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Router","tools":null}`, string(data))
}

func TestAgentViewShapeDependsOnType(t *testing.T) {
	internal := NewAgentView(&Agent{ID: "a1", Type: AgentTypeInternal, Name: "A1"})
	internal.AddTarget(RelationTransfer, "a2")

	data, err := json.Marshal(internal)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, []any{"a2"}, got["canTransferTo"])
	assert.Equal(t, []any{}, got["canDelegateTo"])
	assert.Equal(t, []any{}, got["tools"])
	assert.NotContains(t, got, "baseUrl")

	external := NewAgentView(&Agent{ID: "x1", Type: AgentTypeExternal, Name: "X", BaseURL: "https://x.example"})
	data, err = json.Marshal(external)
	require.NoError(t, err)

	got = map[string]any{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "https://x.example", got["baseUrl"])
	assert.NotContains(t, got, "canTransferTo")
	assert.NotContains(t, got, "canDelegateTo")
	assert.NotContains(t, got, "tools")
}

func TestAgentSameContent(t *testing.T) {
	a := &Agent{ID: "a1", Type: AgentTypeInternal, Name: "A", Tools: []string{"t1"}}
	b := &Agent{ID: "a1", Type: AgentTypeInternal, Name: "A", Tools: []string{"t1"}}
	assert.True(t, a.SameContent(b))

	b.Tools = []string{"t1", "t2"}
	assert.False(t, a.SameContent(b))

	b.Tools = []string{"t1"}
	b.CanUse = []ToolSelection{{ToolID: "t1"}}
	assert.False(t, a.SameContent(b))
}
