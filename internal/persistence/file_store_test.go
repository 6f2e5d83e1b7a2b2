package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxcore/internal/store"
)

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	p := store.Page{
		ID:              "p0001",
		Label:           "early turns",
		Lane:            "conversation",
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
		MessageCount:    4,
		EstimatedTokens: 512,
		Summary:         "user asked about X, assistant answered Y",
		Content:         "...",
		ContentHash:     "abc123",
	}
	require.NoError(t, fs.SavePage(ctx, "sess-1", p))

	got, err := fs.LoadPage(ctx, "sess-1", "p0001")
	require.NoError(t, err)
	assert.Equal(t, p.Label, got.Label)
	assert.Equal(t, p.Summary, got.Summary)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
}

func TestFileStoreListPageIDsSortedAndEmptyWhenMissing(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	ids, err := fs.ListPageIDs(ctx, "no-such-session")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, fs.SavePage(ctx, "sess-1", store.Page{ID: "p0002"}))
	require.NoError(t, fs.SavePage(ctx, "sess-1", store.Page{ID: "p0001"}))

	ids, err = fs.ListPageIDs(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p0001", "p0002"}, ids)
}

func TestFileStoreDeletePageIsIdempotent(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, fs.SavePage(ctx, "sess-1", store.Page{ID: "p0001"}))
	require.NoError(t, fs.DeletePage(ctx, "sess-1", "p0001"))
	require.NoError(t, fs.DeletePage(ctx, "sess-1", "p0001")) // already gone, still no error

	_, err := fs.LoadPage(ctx, "sess-1", "p0001")
	assert.Error(t, err)
}

func TestFileStorePageModTimeNeverRegressesOnResave(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, fs.SavePage(ctx, "sess-1", store.Page{ID: "p0001", Content: "v1"}))
	t1, err := fs.PageModTime(ctx, "sess-1", "p0001")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, fs.SavePage(ctx, "sess-1", store.Page{ID: "p0001", Content: "v2"}))
	t2, err := fs.PageModTime(ctx, "sess-1", "p0001")
	require.NoError(t, err)

	assert.True(t, t2.After(t1) || t2.Equal(t1))
}
