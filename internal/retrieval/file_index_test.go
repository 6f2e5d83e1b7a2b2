package retrieval

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxcore/internal/llm/embedder"
)

func TestFileIndexSearchFindsIndexedPage(t *testing.T) {
	dir := t.TempDir()
	emb := embedder.NewDeterministic(32, 1)
	idx := NewFileIndex(dir, emb)

	ctx := context.Background()
	require.NoError(t, idx.IndexPage(ctx, "pg_1", "the quick brown fox jumps over the lazy dog", "page one", "hash1"))
	require.NoError(t, idx.IndexPage(ctx, "pg_2", "completely unrelated text about kafka brokers", "page two", "hash2"))

	results, err := idx.Search(ctx, "the quick brown fox jumps over the lazy dog", 5, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "pg_1", results[0].PageID)
}

func TestFileIndexMissingIDs(t *testing.T) {
	dir := t.TempDir()
	emb := embedder.NewDeterministic(32, 1)
	idx := NewFileIndex(dir, emb)
	ctx := context.Background()

	require.NoError(t, idx.IndexPage(ctx, "pg_1", "hello world", "one", "hash1"))
	missing, err := idx.MissingIDs(ctx, []string{"pg_1", "pg_2", "pg_3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pg_2", "pg_3"}, missing)
}

func TestFileIndexSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	emb := embedder.NewDeterministic(16, 7)
	idx := NewFileIndex(dir, emb)
	ctx := context.Background()

	require.NoError(t, idx.IndexPage(ctx, "pg_1", "persisted content", "p1", "hash1"))
	require.NoError(t, idx.Save(ctx))

	idx2 := NewFileIndex(dir, emb)
	require.NoError(t, idx2.Load(ctx))
	assert.Equal(t, 1, idx2.Size())
}

func TestFileIndexLoadDiscardsOnFingerprintMismatch(t *testing.T) {
	dir := t.TempDir()
	emb1 := embedder.NewDeterministic(16, 1)
	idx := NewFileIndex(dir, emb1)
	ctx := context.Background()
	require.NoError(t, idx.IndexPage(ctx, "pg_1", "x", "p1", "hashx"))
	require.NoError(t, idx.Save(ctx))

	emb2 := embedder.NewDeterministic(32, 1) // different dimension -> different fingerprint
	idx2 := NewFileIndex(dir, emb2)
	require.NoError(t, idx2.Load(ctx))
	assert.Equal(t, 0, idx2.Size())
}

func TestFileIndexSaveRoundTripsContentHash(t *testing.T) {
	dir := t.TempDir()
	emb := embedder.NewDeterministic(16, 7)
	idx := NewFileIndex(dir, emb)
	ctx := context.Background()

	require.NoError(t, idx.IndexPage(ctx, "pg_1", "persisted content", "p1", "abc123"))
	require.NoError(t, idx.Save(ctx))

	fi := idx.(*fileIndex)
	h, ok := fi.entryHash("pg_1")
	require.True(t, ok)
	assert.Equal(t, "abc123", h)

	idx2 := NewFileIndex(dir, emb)
	require.NoError(t, idx2.Load(ctx))
	fi2 := idx2.(*fileIndex)
	h2, ok := fi2.entryHash("pg_1")
	require.True(t, ok)
	assert.Equal(t, "abc123", h2)
}

func TestShadowFileIndexSavesToShadowPathNotLive(t *testing.T) {
	dir := t.TempDir()
	emb := embedder.NewDeterministic(16, 7)

	shadow := newShadowFileIndex(dir, emb)
	ctx := context.Background()
	require.NoError(t, shadow.IndexPage(ctx, "pg_1", "x", "p1", "h1"))
	require.NoError(t, shadow.Save(ctx))

	_, err := os.Stat(shadow.shadowPath())
	require.NoError(t, err, "Save on a shadow instance must write the shadow file")
	_, err = os.Stat(shadow.livePath())
	assert.True(t, os.IsNotExist(err), "Save on a shadow instance must not touch the live file")
}

func TestFileIndexRemovePage(t *testing.T) {
	dir := t.TempDir()
	emb := embedder.NewDeterministic(16, 1)
	idx := NewFileIndex(dir, emb)
	ctx := context.Background()
	require.NoError(t, idx.IndexPage(ctx, "pg_1", "x", "p1", "hashx"))
	require.NoError(t, idx.RemovePage(ctx, "pg_1"))
	assert.Equal(t, 0, idx.Size())
}
