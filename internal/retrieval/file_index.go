package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ctxcore/internal/llm"
)

// fileIndexDoc is the on-disk shape of pages/embeddings.json (spec §6.4).
type fileIndexDoc struct {
	Version int                `json:"version"`
	Embedder Fingerprint       `json:"embedder"`
	Entries  map[string]Entry  `json:"entries"`
}

// fileIndex is the default Index backend: a JSON file plus the
// shadow-swap protocol for the batch re-summarizer. Readers (Search,
// MissingIDs) take a snapshot under a read lock and never block on
// writers for longer than a map copy.
type fileIndex struct {
	mu       sync.RWMutex
	dir      string // session directory; files live under dir/pages
	provider llm.EmbeddingProvider
	entries  map[string]Entry
	shadow   bool // true for a shadow-staging instance: Save targets shadowPath, not livePath
}

// NewFileIndex builds a file-backed Index rooted at sessionDir.
func NewFileIndex(sessionDir string, provider llm.EmbeddingProvider) Index {
	return &fileIndex{
		dir:      sessionDir,
		provider: provider,
		entries:  map[string]Entry{},
	}
}

// newShadowFileIndex builds a fileIndex whose Save writes to the
// shadow path rather than the live path, for the batch re-summarizer's
// shadow-swap protocol (spec §4.4 steps 4/7).
func newShadowFileIndex(sessionDir string, provider llm.EmbeddingProvider) *fileIndex {
	return &fileIndex{
		dir:      sessionDir,
		provider: provider,
		entries:  map[string]Entry{},
		shadow:   true,
	}
}

func (f *fileIndex) fingerprint() Fingerprint {
	return Fingerprint{Model: f.provider.Model(), Provider: f.provider.Provider(), Dimension: f.provider.Dimension()}
}

func (f *fileIndex) livePath() string   { return filepath.Join(f.dir, "pages", "embeddings.json") }
func (f *fileIndex) shadowPath() string { return filepath.Join(f.dir, "pages", "embeddings.shadow.json") }

func (f *fileIndex) IndexPage(ctx context.Context, pageID, text, label, contentHash string) error {
	vecs, err := f.provider.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("retrieval: embed page %s: %w", pageID, err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("retrieval: embedder returned no vectors for page %s", pageID)
	}
	entry := Entry{
		PageID:              pageID,
		Embedding:           normalize(vecs[0]),
		Label:               label,
		SummaryExcerpt:      truncateExcerpt(text, 200),
		EmbedderFingerprint: f.fingerprint().String(),
		ContentHash:         contentHash,
	}
	f.mu.Lock()
	f.entries[pageID] = entry
	f.mu.Unlock()
	return nil
}

// entryHash returns the content hash recorded for pageID, if any.
func (f *fileIndex) entryHash(pageID string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[pageID]
	if !ok {
		return "", false
	}
	return e.ContentHash, true
}

func (f *fileIndex) RemovePage(ctx context.Context, pageID string) error {
	f.mu.Lock()
	delete(f.entries, pageID)
	f.mu.Unlock()
	return nil
}

func (f *fileIndex) Search(ctx context.Context, queryText string, k int, minScore float64) ([]SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	vecs, err := f.provider.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	q := normalize(vecs[0])

	f.mu.RLock()
	snapshot := make(map[string]Entry, len(f.entries))
	for id, e := range f.entries {
		snapshot[id] = e
	}
	f.mu.RUnlock()

	var results []SearchResult
	vectors := make(map[string][]float32, len(snapshot))
	for id, e := range snapshot {
		score := cosineSimilarity(q, e.Embedding)
		vectors[id] = e.Embedding
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{PageID: id, Score: score, Label: e.Label})
	}
	sortByScoreDesc(results)
	results = dedupeResults(results, vectors)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (f *fileIndex) MissingIDs(ctx context.Context, candidateIDs []string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var missing []string
	for _, id := range candidateIDs {
		if _, ok := f.entries[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (f *fileIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Save writes the index atomically (write-temp + rename, spec §6.4),
// targeting the live path or, for a shadow-staging instance, the
// shadow path that the batch re-summarizer later renames into place.
func (f *fileIndex) Save(ctx context.Context) error {
	f.mu.RLock()
	doc := fileIndexDoc{Version: 1, Embedder: f.fingerprint(), Entries: f.entries}
	f.mu.RUnlock()
	path := f.livePath()
	if f.shadow {
		path = f.shadowPath()
	}
	return writeIndexDoc(path, doc)
}

// Load reads the live index (the shadow file for a shadow instance); a
// fingerprint mismatch discards all
// entries rather than serving incomparable vectors (spec §4.4).
func (f *fileIndex) Load(ctx context.Context) error {
	path := f.livePath()
	if f.shadow {
		path = f.shadowPath()
	}
	doc, err := readIndexDoc(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.Embedder != f.fingerprint() {
		f.entries = map[string]Entry{}
		return nil
	}
	f.entries = doc.Entries
	if f.entries == nil {
		f.entries = map[string]Entry{}
	}
	return nil
}

func writeIndexDoc(path string, doc fileIndexDoc) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("retrieval: create index dir: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("retrieval: marshal index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("retrieval: write index: %w", err)
	}
	return os.Rename(tmp, path)
}

func readIndexDoc(path string) (fileIndexDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileIndexDoc{}, err
	}
	var doc fileIndexDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		// corrupt file: parse-or-discard per spec §6.4 reader tolerance.
		return fileIndexDoc{}, os.ErrNotExist
	}
	return doc, nil
}

func truncateExcerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func sortByScoreDesc(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

var _ Index = (*fileIndex)(nil)
