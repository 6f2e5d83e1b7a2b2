package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxcore/internal/llm"
)

func TestSelectQueryPrefersUserFallsBackToAssistant(t *testing.T) {
	a := &AutoRetriever{}

	msgs := []llm.Message{
		{Role: "user", Content: "a reasonably long question about the project"},
		{Role: "assistant", Content: "here is a long answer"},
	}
	q, ok := a.SelectQuery(msgs)
	assert.True(t, ok)
	assert.Equal(t, "a reasonably long question about the project", q)

	short := []llm.Message{
		{Role: "user", Content: "ok"},
		{Role: "assistant", Content: "a sufficiently long assistant reply to fall back to"},
	}
	q2, ok2 := a.SelectQuery(short)
	assert.True(t, ok2)
	assert.Equal(t, "a sufficiently long assistant reply to fall back to", q2)
}

func TestSelectQueryEmptyReturnsFalse(t *testing.T) {
	a := &AutoRetriever{}
	q, ok := a.SelectQuery(nil)
	assert.False(t, ok)
	assert.Empty(t, q)
}

func TestAutoRetrieverDedupesRepeatedQuery(t *testing.T) {
	idx := &fakeIndex{} // empty results: Run never reaches store.Ref
	a := &AutoRetriever{Index: idx, K: 3}

	msgs := []llm.Message{{Role: "user", Content: "a reasonably long question right here"}}
	_, err := a.Run(context.Background(), "sess", msgs, map[string]bool{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.searchCalls)

	_, err = a.Run(context.Background(), "sess", msgs, map[string]bool{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.searchCalls, "same query on the next turn must not re-search")
}

// fakeIndex is a minimal Index stub for auto-retrieve tests that don't
// need real embeddings.
type fakeIndex struct {
	results     []SearchResult
	searchCalls int
}

func (f *fakeIndex) IndexPage(ctx context.Context, pageID, text, label, contentHash string) error {
	return nil
}
func (f *fakeIndex) RemovePage(ctx context.Context, pageID string) error             { return nil }
func (f *fakeIndex) Search(ctx context.Context, queryText string, k int, minScore float64) ([]SearchResult, error) {
	f.searchCalls++
	return f.results, nil
}
func (f *fakeIndex) MissingIDs(ctx context.Context, candidateIDs []string) ([]string, error) {
	return candidateIDs, nil
}
func (f *fakeIndex) Save(ctx context.Context) error { return nil }
func (f *fakeIndex) Load(ctx context.Context) error { return nil }
func (f *fakeIndex) Size() int                      { return len(f.results) }

var _ Index = (*fakeIndex)(nil)
