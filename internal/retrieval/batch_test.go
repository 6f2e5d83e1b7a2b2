package retrieval

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxcore/internal/bus"
	"ctxcore/internal/llm/embedder"
	"ctxcore/internal/store"
)

// memPageStore is a minimal in-memory store.PageStore for batch tests.
type memPageStore struct {
	mu    sync.Mutex
	pages map[string]store.Page
}

func newMemPageStore() *memPageStore {
	return &memPageStore{pages: map[string]store.Page{}}
}

func (m *memPageStore) SavePage(ctx context.Context, sessionID string, p store.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[p.ID] = p
	return nil
}

func (m *memPageStore) LoadPage(ctx context.Context, sessionID, pageID string) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID]
	if !ok {
		return store.Page{}, fmt.Errorf("no such page: %s", pageID)
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

// countingSummarizer returns a fixed digest, counting how many times it
// was invoked so tests can assert on skip-vs-summarize counts.
type countingSummarizer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSummarizer) Summarize(ctx context.Context, text, label string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "fresh summary: " + label, nil
}

func (c *countingSummarizer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestBatchSummarizer(dir string, pages store.PageStore, summarizer *countingSummarizer) *BatchSummarizer {
	return &BatchSummarizer{
		SessionID:  "sess-1",
		Dir:        dir,
		PageStore:  pages,
		Summarizer: summarizer,
		Embedder:   embedder.NewDeterministic(16, 1),
		Lock:       NewLocalBatchLock(),
		Bus:        bus.NopBus{},
	}
}

func seedPages(t *testing.T, ps *memPageStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%04d", i)
		content := fmt.Sprintf("conversation content for page %d", i)
		require.NoError(t, ps.SavePage(context.Background(), "sess-1", store.Page{
			ID:          id,
			Label:       id,
			Summary:     "old summary",
			Content:     content,
			ContentHash: contentHashForTest(content),
		}))
	}
}

// contentHashForTest mirrors store's internal contentHash just closely
// enough for test fixtures; the exact algorithm doesn't matter here,
// only that it is stable per content string.
func contentHashForTest(s string) string {
	sum := 0
	for _, r := range s {
		sum = sum*31 + int(r)
	}
	return fmt.Sprintf("%x", sum)
}

func TestBatchSummarizerRunSummarizesAllPagesFirstPass(t *testing.T) {
	dir := t.TempDir()
	ps := newMemPageStore()
	seedPages(t, ps, 3)
	summarizer := &countingSummarizer{}
	b := newTestBatchSummarizer(dir, ps, summarizer)

	require.NoError(t, b.Run(context.Background(), false))
	assert.Equal(t, 3, summarizer.count(), "first pass must summarize every page")

	idx := NewFileIndex(dir, b.Embedder)
	require.NoError(t, idx.Load(context.Background()))
	assert.Equal(t, 3, idx.Size())
}

func TestBatchSummarizerRunSkipsUnchangedPagesOnSecondCompletedRun(t *testing.T) {
	dir := t.TempDir()
	ps := newMemPageStore()
	seedPages(t, ps, 3)
	summarizer := &countingSummarizer{}
	b := newTestBatchSummarizer(dir, ps, summarizer)

	require.NoError(t, b.Run(context.Background(), false))
	require.Equal(t, 3, summarizer.count())

	// A second, completely separate Run (new BatchSummarizer value,
	// same directory) must skip every page: their content hasn't
	// changed since the first run's shadow-swap landed on disk.
	b2 := newTestBatchSummarizer(dir, ps, summarizer)
	require.NoError(t, b2.Run(context.Background(), false))
	assert.Equal(t, 3, summarizer.count(), "second completed run must summarize 0 of 3 unchanged pages")
}

func TestBatchSummarizerRunReSummarizesChangedPage(t *testing.T) {
	dir := t.TempDir()
	ps := newMemPageStore()
	seedPages(t, ps, 2)
	summarizer := &countingSummarizer{}
	b := newTestBatchSummarizer(dir, ps, summarizer)

	require.NoError(t, b.Run(context.Background(), false))
	require.Equal(t, 2, summarizer.count())

	changed := "this page's content changed since the last batch pass"
	require.NoError(t, ps.SavePage(context.Background(), "sess-1", store.Page{
		ID:          "p0000",
		Label:       "p0000",
		Summary:     "old summary",
		Content:     changed,
		ContentHash: contentHashForTest(changed),
	}))

	b2 := newTestBatchSummarizer(dir, ps, summarizer)
	require.NoError(t, b2.Run(context.Background(), false))
	assert.Equal(t, 3, summarizer.count(), "only the changed page should be re-summarized")
}

func TestBatchSummarizerRunForceResummarizesEverything(t *testing.T) {
	dir := t.TempDir()
	ps := newMemPageStore()
	seedPages(t, ps, 2)
	summarizer := &countingSummarizer{}
	b := newTestBatchSummarizer(dir, ps, summarizer)

	require.NoError(t, b.Run(context.Background(), false))
	require.Equal(t, 2, summarizer.count())

	b2 := newTestBatchSummarizer(dir, ps, summarizer)
	require.NoError(t, b2.Run(context.Background(), true))
	assert.Equal(t, 4, summarizer.count(), "force=true re-summarizes every page regardless of content hash")
}
