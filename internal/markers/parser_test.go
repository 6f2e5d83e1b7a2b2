package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S2 — Marker-split across chunks.
func TestMarkerSplitAcrossChunks(t *testing.T) {
	p := New()
	var out string
	out += p.Feed("text @@model")
	out += p.Feed("-change('son")
	out += p.Feed("net')@@ more")
	out += p.Flush()

	require.Len(t, p.Events(), 1)
	assert.Equal(t, "model-change", p.Events()[0].Name)
	assert.Equal(t, "sonnet", p.Events()[0].Arg)
	assert.Equal(t, "text 🔀 more", out)
}

func TestBareDirective(t *testing.T) {
	p := New()
	out := p.Feed("going to sleep @@sleep@@ now") + p.Flush()
	require.Len(t, p.Events(), 1)
	assert.Equal(t, "sleep", p.Events()[0].Name)
	assert.False(t, p.Events()[0].HasArg)
	assert.Equal(t, "going to sleep 😴 now", out)
}

func TestFunctionFormDoubleQuoted(t *testing.T) {
	p := New()
	out := p.Feed(`@@importance("0.9")@@`) + p.Flush()
	require.Len(t, p.Events(), 1)
	assert.Equal(t, "importance", p.Events()[0].Name)
	assert.Equal(t, "0.9", p.Events()[0].Arg)
	assert.Equal(t, "⭐", out)
}

func TestFunctionFormUnquoted(t *testing.T) {
	p := New()
	p.Feed("@@thinking(0.8)@@")
	p.Flush()
	require.Len(t, p.Events(), 1)
	assert.Equal(t, "0.8", p.Events()[0].Arg)
}

func TestColonFormMultipleDimensions(t *testing.T) {
	p := New()
	p.Feed("@@working:128000,page:20000@@")
	p.Flush()
	require.Len(t, p.Events(), 2)
	assert.Equal(t, "working", p.Events()[0].Name)
	assert.Equal(t, 128000.0, p.Events()[0].Value)
	assert.Equal(t, "page", p.Events()[1].Name)
	assert.Equal(t, 20000.0, p.Events()[1].Value)
}

func TestColonFormNumericSuffixes(t *testing.T) {
	p := New()
	p.Feed("@@max-context:128k@@")
	p.Flush()
	require.Len(t, p.Events(), 1)
	assert.Equal(t, 128000.0, p.Events()[0].Value)
}

func TestAvatarForm(t *testing.T) {
	p := New()
	out := p.Feed("@@[joy:0.8, trust:0.5]@@") + p.Flush()
	require.Len(t, p.Events(), 2)
	assert.Equal(t, "joy", p.Events()[0].Name)
	assert.Equal(t, 0.8, p.Events()[0].Value)
	assert.Equal(t, "trust", p.Events()[1].Name)
	assert.NotEmpty(t, out)
}

func TestEmotionOutOfRangeDropped(t *testing.T) {
	var warned bool
	p := New()
	p.Warnf = func(string, ...any) { warned = true }
	p.Feed("@@joy:4.0@@")
	p.Flush()
	assert.Empty(t, p.Events())
	assert.True(t, warned)
}

func TestEscapedMarkerNotFired(t *testing.T) {
	p := New()
	out := p.Feed(`text \@@not-a-marker@@ end`) + p.Flush()
	assert.Empty(t, p.Events())
	assert.Contains(t, out, "@@not-a-marker@@")
}

func TestUnterminatedMarkerFlushedVerbatim(t *testing.T) {
	p := New()
	out := p.Feed("hello @@model-change('son")
	out += p.Flush()
	assert.Empty(t, p.Events())
	assert.Equal(t, "hello @@model-change('son", out)
}

func TestMalformedContentPassesThroughLiterally(t *testing.T) {
	p := New()
	out := p.Feed("@@1bad@@") + p.Flush()
	assert.Empty(t, p.Events())
	assert.Equal(t, "@@1bad@@", out)
}

func TestUnknownNameAcceptedWithWarning(t *testing.T) {
	var warned bool
	p := New()
	p.Warnf = func(string, ...any) { warned = true }
	p.Feed("@@totally-unknown:3@@")
	p.Flush()
	require.Len(t, p.Events(), 1)
	assert.True(t, warned)
}

func TestOnEventCallbackFiresInOrder(t *testing.T) {
	var names []string
	p := New()
	p.OnEvent = func(ev Event) { names = append(names, ev.Name) }
	p.Feed("@@sleep@@ @@wake@@")
	p.Flush()
	assert.Equal(t, []string{"sleep", "wake"}, names)
}

func TestThinkingBudgetRegressesTowardMidpoint(t *testing.T) {
	tb := NewThinkingBudget()
	tb.Set(1.0)
	tb.RegressTowardMidpoint()
	assert.InDelta(t, 0.9, tb.Value, 1e-9)
	assert.Equal(t, "high", tb.Tier())
}

func TestThinkingBudgetThinkAndRelaxClamp(t *testing.T) {
	tb := NewThinkingBudget()
	tb.Set(0.9)
	tb.Think()
	assert.Equal(t, 1.0, tb.Value)
	tb.Set(0.1)
	tb.Relax()
	assert.Equal(t, 0.0, tb.Value)
}

func TestParseSizeRejectsBelowFloor(t *testing.T) {
	_, ok := ParseSize("512")
	assert.False(t, ok)
	n, ok := ParseSize("4kb")
	assert.True(t, ok)
	assert.Equal(t, int64(4000), n)
}
