package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxcore/internal/llm"
)

// fakeSummarizer returns a fixed digest, recording every call.
type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text, label string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", assert.AnError
	}
	return "digest: " + label, nil
}

// memPageStore is an in-memory PageStore for tests.
type memPageStore struct {
	mu    sync.Mutex
	pages map[string]Page
}

func newMemPageStore() *memPageStore {
	return &memPageStore{pages: map[string]Page{}}
}

func (m *memPageStore) SavePage(ctx context.Context, sessionID string, p Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[p.ID] = p
	return nil
}

func (m *memPageStore) LoadPage(ctx context.Context, sessionID, pageID string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID]
	if !ok {
		return Page{}, ErrCorruptJournal
	}
	return p, nil
}

func (m *memPageStore) DeletePage(ctx context.Context, sessionID, pageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, pageID)
	return nil
}

func (m *memPageStore) ListPageIDs(ctx context.Context, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.pages {
		ids = append(ids, id)
	}
	return ids, nil
}

func tinyBudgets() Budgets {
	return Budgets{
		ContextTokens:      2_000,
		ReserveHeader:      0,
		ReserveResponse:    0,
		PageSlotTokens:     2_000,
		HighWatermark:      0.5,
		LowWatermark:       0.2,
		MinRecentPerLane:   1,
		KeepRecentTools:    1,
		ToolContentMaxChar: 24_000,
	}
}

func userMsg(content string) llm.Message {
	return llm.Message{Role: "user", Content: content}
}

func assistantMsg(content string) llm.Message {
	return llm.Message{Role: "assistant", Content: content}
}

func TestAddTriggersCompactionOverHighWatermark(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{}
	s := New("sess1", "test-model", tinyBudgets(), ps, sum)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, llm.Message{Role: "system", Content: "you are an assistant"}))
	big := make([]byte, 400)
	for i := range big {
		big[i] = 'x'
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add(ctx, userMsg(string(big))))
		require.NoError(t, s.Add(ctx, assistantMsg(string(big))))
	}

	msgs := s.Messages()
	budget := tinyBudgets().WorkingBudget()
	got := estimateSequenceTokens(msgs, tinyBudgets().ToolContentMaxChar)
	assert.LessOrEqualf(t, got, budget*2, "expected compaction to bring sequence near budget, got %d tokens vs budget %d", got, budget)

	foundMemory := false
	for _, m := range msgs {
		if m.Role == "memory" {
			foundMemory = true
		}
	}
	assert.True(t, foundMemory, "expected at least one page summary in rendered sequence")
}

func TestSystemMessageAlwaysPinned(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{}
	s := New("sess2", "test-model", tinyBudgets(), ps, sum)
	ctx := context.Background()

	sysMsg := llm.Message{Role: "system", Content: "pinned system prompt"}
	require.NoError(t, s.Add(ctx, sysMsg))
	big := make([]byte, 400)
	for i := range big {
		big[i] = 'y'
	}
	for i := 0; i < 12; i++ {
		require.NoError(t, s.Add(ctx, userMsg(string(big))))
	}

	msgs := s.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "pinned system prompt", msgs[0].Content)
}

func TestToolPairKeptAtomicAcrossCompaction(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{}
	s := New("sess3", "test-model", tinyBudgets(), ps, sum)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, llm.Message{Role: "system", Content: "sys"}))
	big := make([]byte, 300)
	for i := range big {
		big[i] = 'z'
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Add(ctx, userMsg(string(big))))
	}

	toolCallMsg := llm.Message{
		Role:    "assistant",
		Content: "calling a tool",
		ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "lookup", Args: json.RawMessage(`{"q":"x"}`)},
		},
	}
	require.NoError(t, s.Add(ctx, toolCallMsg))
	require.NoError(t, s.Add(ctx, llm.Message{Role: "tool", Content: "result", ToolCallID: "call-1", ToolName: "lookup"}))

	for i := 0; i < 6; i++ {
		require.NoError(t, s.Add(ctx, userMsg(string(big))))
	}

	msgs := s.Messages()
	assert.True(t, pairingSatisfied(msgs), "pairing invariant must hold after compaction: %+v", msgs)
}

func TestForceCompactLeavesNoSentinel(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{}
	s := New("sess4", "test-model", tinyBudgets(), ps, sum)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, userMsg("hello")))
	require.NoError(t, s.ForceCompact(ctx))

	for _, m := range s.Messages() {
		assert.False(t, isSentinel(m))
	}
}

func TestSummarizerFailureFallsBackWithoutError(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{fail: true}
	s := New("sess5", "test-model", tinyBudgets(), ps, sum)
	ctx := context.Background()

	big := make([]byte, 400)
	for i := range big {
		big[i] = 'q'
	}
	for i := 0; i < 12; i++ {
		require.NoError(t, s.Add(ctx, userMsg(string(big))))
	}

	var sawFallback bool
	for _, m := range s.Messages() {
		if m.Role == "memory" && m.Content == "(content was summarized)" {
			sawFallback = true
		}
	}
	assert.True(t, sawFallback, "expected fallback summary text on summarizer error")
}

func TestOnPageCreatedFiresOnEveryPage(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{}
	var created []string
	var mu sync.Mutex
	s := New("sess6", "test-model", tinyBudgets(), ps, sum, WithOnPageCreated(func(id, summary, label string) {
		mu.Lock()
		defer mu.Unlock()
		created = append(created, id)
	}))
	ctx := context.Background()

	big := make([]byte, 400)
	for i := range big {
		big[i] = 'w'
	}
	for i := 0; i < 12; i++ {
		require.NoError(t, s.Add(ctx, userMsg(string(big))))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, created)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{}
	dir := t.TempDir()
	s := New("sess7", "test-model", DefaultBudgets(), ps, sum, WithClock(func() time.Time { return time.Unix(1000, 0) }))
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, llm.Message{Role: "system", Content: "sys"}))
	require.NoError(t, s.Add(ctx, userMsg("hi")))
	require.NoError(t, s.Add(ctx, assistantMsg("hello back")))
	require.NoError(t, s.Save(dir))

	s2 := New("sess7", "", DefaultBudgets(), ps, sum)
	require.NoError(t, s2.Load(dir))

	assert.Equal(t, s.Messages(), s2.Messages())
}

func TestRefStopsLoadingPastPageSlotBudget(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{}
	budgets := tinyBudgets()
	budgets.PageSlotTokens = 20
	s := New("sess8", "test-model", budgets, ps, sum)
	ctx := context.Background()

	require.NoError(t, ps.SavePage(ctx, "sess8", Page{ID: "pg_a", Label: "a", Summary: "short summary one"}))
	require.NoError(t, ps.SavePage(ctx, "sess8", Page{ID: "pg_b", Label: "b", Summary: "short summary two, quite a bit longer than the first one so it blows the budget"}))

	require.NoError(t, s.Ref(ctx, "pg_a"))
	require.NoError(t, s.Ref(ctx, "pg_b"))

	s.mu.Lock()
	loaded := append([]string(nil), s.loadedPages...)
	s.mu.Unlock()
	assert.Contains(t, loaded, "pg_a")
}

func TestHotReloadConfigRejectsImpossibleBudget(t *testing.T) {
	ps := newMemPageStore()
	sum := &fakeSummarizer{}
	s := New("sess9", "test-model", DefaultBudgets(), ps, sum)
	ctx := context.Background()

	bad := Budgets{ContextTokens: 100, ReserveHeader: 90, ReserveResponse: 50}
	err := s.HotReloadConfig(ctx, bad)
	assert.ErrorIs(t, err, ErrBudgetImpossible)
}
