package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxcore/internal/llm"
)

func TestToContentsRejectsUnknownRole(t *testing.T) {
	_, err := toContents([]llm.Message{{Role: "narrator", Content: "x"}})
	assert.Error(t, err)
}

func TestToContentsMapsToolResponses(t *testing.T) {
	contents, err := toContents([]llm.Message{
		{Role: "assistant", ToolCalls: []llm.ToolCall{{ID: "1", Name: "search", Args: []byte(`{}`)}}},
		{Role: "tool", ToolCallID: "1", Content: `{"result":"ok"}`},
	})
	require.NoError(t, err)
	require.Len(t, contents, 2)
}

func TestAdaptToolsRequiresName(t *testing.T) {
	_, _, err := adaptTools([]llm.ToolSchema{{Name: ""}})
	assert.Error(t, err)
}
