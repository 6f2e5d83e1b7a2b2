package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ctxcore/internal/llm"
)

func TestAdaptMessagesFillsPlaceholderContent(t *testing.T) {
	out := adaptMessages([]llm.Message{
		{Role: "user", Content: ""},
		{Role: "assistant", Content: "", ToolCalls: []llm.ToolCall{{ID: "1", Name: "f", Args: []byte(`{}`)}}},
	})
	assert := assert.New(t)
	assert.Len(out, 2)
}

func TestIsEmptyArgsBytes(t *testing.T) {
	assert.True(t, isEmptyArgsBytes(nil))
	assert.True(t, isEmptyArgsBytes([]byte("{}")))
	assert.False(t, isEmptyArgsBytes([]byte(`{"x":1}`)))
}
