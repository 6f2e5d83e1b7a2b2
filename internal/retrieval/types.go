// Package retrieval implements the semantic retrieval index and the
// batch re-summarizer (spec §4.4): an embedding index over page
// summaries, auto-retrieve for the current turn's query, and a
// cooperative background job that keeps stale summaries fresh via a
// shadow-swap protocol.
package retrieval

import (
	"context"
	"time"
)

// Entry is a single embedding index record (spec §3.4). Valid only
// while Fingerprint matches the currently configured embedder;
// mismatches invalidate the whole index, never a single entry.
type Entry struct {
	PageID             string    `json:"page_id"`
	Embedding          []float32 `json:"embedding"`
	Label              string    `json:"label"`
	SummaryExcerpt     string    `json:"summary_excerpt"`
	CreatedAt          time.Time `json:"created_at"`
	EmbedderFingerprint string   `json:"embedder_fingerprint"`
	// ContentHash is the source page's content_hash at the time this
	// entry was indexed, carried forward across shadow-swaps so the
	// batch re-summarizer can skip unchanged pages across separate
	// completed runs, not just within one (spec §4.4 step 4).
	ContentHash string `json:"content_hash,omitempty"`
}

// Fingerprint identifies an embedding model/provider/dimension combo.
// Two indexes are comparable only if their fingerprints match exactly.
type Fingerprint struct {
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Dimension int    `json:"dimension"`
}

func (f Fingerprint) String() string {
	return f.Provider + "/" + f.Model + "/" + itoa(f.Dimension)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// SearchResult is a single ranked hit from Index.Search.
type SearchResult struct {
	PageID string
	Score  float64
	Label  string
}

// Index is the pluggable embedding index contract (spec §4.4). Two
// implementations satisfy it: fileIndex (default, JSON file +
// shadow-swap) and qdrantIndex (writes straight to its collection; it
// takes no part in the shadow swap).
type Index interface {
	IndexPage(ctx context.Context, pageID, text, label, contentHash string) error
	RemovePage(ctx context.Context, pageID string) error
	Search(ctx context.Context, queryText string, k int, minScore float64) ([]SearchResult, error)
	MissingIDs(ctx context.Context, candidateIDs []string) ([]string, error)
	Save(ctx context.Context) error
	Load(ctx context.Context) error
	Size() int
}
