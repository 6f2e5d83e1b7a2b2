package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxcore/internal/llm"
)

func assistantWithLostCalls(ids ...string) llm.Message {
	m := llm.Message{Role: "assistant", Content: "calling tools"}
	for _, id := range ids {
		m.ToolCalls = append(m.ToolCalls, llm.ToolCall{ID: id, Name: "fn_" + id, Args: json.RawMessage(`{}`)})
	}
	return m
}

func TestFlattenNarratesAllLostToolCalls(t *testing.T) {
	msgs := []llm.Message{assistantWithLostCalls("call_1", "call_2", "call_3")}

	out := flatten(msgs)

	require.Len(t, out, 4) // narrated assistant + 3 synthetic tool messages
	assert.Empty(t, out[0].ToolCalls)
	for i, id := range []string{"call_1", "call_2", "call_3"} {
		tm := out[i+1]
		assert.Equal(t, "tool", tm.Role)
		assert.Equal(t, id, tm.ToolCallID)
	}
	assert.True(t, pairingSatisfied(out))
}

func TestFlattenIsIdempotentWithMultipleLostToolCalls(t *testing.T) {
	msgs := []llm.Message{assistantWithLostCalls("call_1", "call_2", "call_3")}

	once := flatten(msgs)
	twice := flatten(once)

	assert.Equal(t, once, twice, "a second flatten pass must not drop any synthetic tool message")
	assert.Len(t, twice, 4)
}

func TestFlattenSurvivesJSONRoundTripOfMetadata(t *testing.T) {
	msgs := []llm.Message{assistantWithLostCalls("call_1", "call_2")}
	once := flatten(msgs)

	raw, err := json.Marshal(once)
	require.NoError(t, err)
	var reloaded []llm.Message
	require.NoError(t, json.Unmarshal(raw, &reloaded))

	twice := flatten(reloaded)
	assert.Len(t, twice, 3, "synthetic tool messages must still be recognized as owned after a JSON round trip")
}

func TestFlattenDropsTrulyDanglingToolMessage(t *testing.T) {
	msgs := []llm.Message{
		{Role: "tool", Content: "orphaned", ToolCallID: "call_x"},
	}
	out := flatten(msgs)
	assert.Empty(t, out)
}
