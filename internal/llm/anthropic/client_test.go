package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxcore/internal/config"
	"ctxcore/internal/llm"
)

func TestAdaptMessagesSplitsSystemFromTurns(t *testing.T) {
	msgs := []llm.Message{
		{Role: "system", Content: "be concise"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	sys, out, err := adaptMessages(msgs, config.AnthropicPromptCacheConfig{})
	require.NoError(t, err)
	require.Len(t, sys, 1)
	assert.Equal(t, "be concise", sys[0].Text)
	assert.Len(t, out, 2)
}

func TestAdaptMessagesRejectsUnknownRole(t *testing.T) {
	_, _, err := adaptMessages([]llm.Message{{Role: "narrator", Content: "x"}}, config.AnthropicPromptCacheConfig{})
	assert.Error(t, err)
}

func TestAdaptToolsRequiresName(t *testing.T) {
	_, err := adaptTools([]llm.ToolSchema{{Name: "", Parameters: map[string]any{}}}, config.AnthropicPromptCacheConfig{})
	assert.Error(t, err)
}

func TestToolBufferAccumulatesStreamedJSON(t *testing.T) {
	tb := &toolBuffer{name: "search"}
	tb.appendInitial(json.RawMessage("{}"))
	tb.appendPartial(`{"query"`)
	tb.appendPartial(`:"hello"}`)
	call := tb.toToolCall()
	assert.Equal(t, "search", call.Name)
	assert.JSONEq(t, `{"query":"hello"}`, string(call.Args))
}

func TestThinkingBudgetTokensGatedOnModelSupport(t *testing.T) {
	half := 0.5
	assert.Zero(t, thinkingBudgetTokens(&half, "claude-3-5-haiku-latest"))
	assert.Greater(t, thinkingBudgetTokens(&half, "claude-sonnet-4-5"), int64(1024))
	assert.Zero(t, thinkingBudgetTokens(nil, "claude-sonnet-4-5"))
}
