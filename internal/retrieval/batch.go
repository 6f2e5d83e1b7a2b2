package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ctxcore/internal/bus"
	"ctxcore/internal/llm"
	"ctxcore/internal/store"
)

var tracer = otel.Tracer("ctxcore/retrieval")

// batchProgress is the transient resume manifest for a single,
// possibly-interrupted run (spec §6.4). It is deleted on successful
// completion; durable cross-run skip state lives on the index entries
// themselves (Entry.ContentHash), not here.
type batchProgress struct {
	StartedAt        time.Time `json:"started_at"`
	CompletedPageIDs []string  `json:"completed_page_ids"`
}

// StatProvider is an optional PageStore capability exposing a page's
// on-disk modification time, used for the step-5 freshness re-check.
// Backends that cannot report mtime (S3Store) simply don't implement
// it; the freshness re-check degrades to a no-op.
type StatProvider interface {
	PageModTime(ctx context.Context, sessionID, pageID string) (time.Time, error)
}

// BatchSummarizer is the long-running, interruptible re-summarization
// job described in spec §4.4, implementing the shadow-swap protocol.
type BatchSummarizer struct {
	SessionID  string
	Dir        string // session directory, for the progress manifest
	PageStore  store.PageStore
	Summarizer llm.Summarizer
	Embedder   llm.EmbeddingProvider
	Lock       BatchLock
	Bus        bus.Bus
	Cache      *SearchCache

	// PersistEveryN controls how often the progress manifest is
	// flushed to disk (step 6).
	PersistEveryN int
	// ShouldYield reports whether the agent became active and the job
	// should pause before the next page (step 8).
	ShouldYield func() bool
	// WaitForIdle blocks until the agent is idle again.
	WaitForIdle func(ctx context.Context) error
}

func (b *BatchSummarizer) progressPath() string {
	return filepath.Join(b.Dir, "pages", "batch-progress.json")
}
func (b *BatchSummarizer) shadowPath() string {
	return filepath.Join(b.Dir, "pages", "embeddings.shadow.json")
}
func (b *BatchSummarizer) livePath() string {
	return filepath.Join(b.Dir, "pages", "embeddings.json")
}

// Run executes one end-to-end batch pass. force re-summarizes every
// page regardless of content hash.
func (b *BatchSummarizer) Run(ctx context.Context, force bool) error {
	got, err := b.Lock.TryLock(ctx, b.SessionID)
	if err != nil {
		return fmt.Errorf("retrieval: batch lock: %w", err)
	}
	if !got {
		log.Debug().Str("session_id", b.SessionID).Msg("batch_already_running_noop")
		return nil
	}
	defer b.Lock.Unlock(ctx, b.SessionID)

	b.publish(ctx, bus.KindBatchStarted, nil)

	if err := b.recoverOrphan(ctx); err != nil {
		return err
	}

	progress, err := b.loadProgress()
	if err != nil {
		return err
	}
	if progress == nil {
		progress = &batchProgress{StartedAt: b.now()}
	}
	startedAt := progress.StartedAt

	ids, err := b.PageStore.ListPageIDs(ctx, b.SessionID)
	if err != nil {
		return fmt.Errorf("retrieval: list pages: %w", err)
	}

	shadow := newShadowFileIndex(b.Dir, b.Embedder)
	if err := b.seedShadowFromLive(ctx, shadow); err != nil {
		return err
	}

	completed := make(map[string]bool, len(progress.CompletedPageIDs))
	for _, id := range progress.CompletedPageIDs {
		completed[id] = true
	}

	processedSinceFlush := 0
	for i, pageID := range ids {
		if b.ShouldYield != nil && b.ShouldYield() {
			if err := b.persistProgress(progress); err != nil {
				return err
			}
			if b.WaitForIdle != nil {
				if err := b.WaitForIdle(ctx); err != nil {
					return err // cancel: progress already persisted
				}
			}
		}

		if completed[pageID] && !force {
			continue
		}

		page, err := b.PageStore.LoadPage(ctx, b.SessionID, pageID)
		if err != nil {
			log.Warn().Err(err).Str("page_id", pageID).Msg("batch_load_page_failed_skipping")
			continue
		}
		if page.Summary == "" {
			continue // backfill rule: skip pages without summaries
		}

		if !force {
			if h, ok := shadow.entryHash(pageID); ok && h == page.ContentHash {
				completed[pageID] = true
				continue
			}
		}

		if err := b.summarizeAndEmbed(ctx, shadow, &page, startedAt); err != nil {
			log.Warn().Err(err).Str("page_id", pageID).Msg("batch_summarize_failed_skipping")
			continue
		}

		completed[pageID] = true
		processedSinceFlush++

		b.publish(ctx, bus.KindBatchProgress, map[string]any{"page_id": pageID, "done": i + 1, "total": len(ids)})

		n := b.PersistEveryN
		if n <= 0 {
			n = 20
		}
		if processedSinceFlush >= n {
			progress.CompletedPageIDs = keysOf(completed)
			if err := b.persistProgress(progress); err != nil {
				return err
			}
			processedSinceFlush = 0
		}
	}

	if err := shadow.Save(ctx); err != nil {
		return fmt.Errorf("retrieval: save shadow index: %w", err)
	}
	if err := os.Rename(b.shadowPath(), b.livePath()); err != nil {
		return fmt.Errorf("retrieval: swap shadow to live: %w", err)
	}
	if err := os.Remove(b.progressPath()); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("batch_progress_cleanup_failed")
	}
	if b.Cache != nil {
		b.Cache.Invalidate(ctx, b.SessionID)
	}

	b.publish(ctx, bus.KindBatchCompleted, map[string]any{"page_count": len(ids)})
	return nil
}

func (b *BatchSummarizer) summarizeAndEmbed(ctx context.Context, shadow *fileIndex, page *store.Page, startedAt time.Time) error {
	ctx, span := tracer.Start(ctx, "batch_summarize_page")
	defer span.End()
	span.SetAttributes(
		attribute.String("page_id", page.ID),
		attribute.String("content_hash", page.ContentHash),
	)

	summary, err := b.Summarizer.Summarize(ctx, page.Content, page.Label)
	if err != nil || summary == "" {
		summary = page.Summary // keep the existing summary on failure
	}

	// Step 5: freshness re-check. If the page was modified since the
	// batch started, re-summarize once more before finalizing.
	if sp, ok := b.PageStore.(StatProvider); ok {
		if mtime, err := sp.PageModTime(ctx, b.SessionID, page.ID); err == nil && mtime.After(startedAt) {
			fresh, err := b.PageStore.LoadPage(ctx, b.SessionID, page.ID)
			if err == nil {
				summary2, err2 := b.Summarizer.Summarize(ctx, fresh.Content, fresh.Label)
				if err2 == nil && summary2 != "" {
					summary = summary2
				}
				page.ContentHash = fresh.ContentHash
			}
		}
	}
	span.SetAttributes(attribute.Bool("stale", summary != page.Summary))

	return shadow.IndexPage(ctx, page.ID, summary, page.Label, page.ContentHash)
}

// seedShadowFromLive carries forward entries for pages the batch won't
// touch (already up to date), so the shadow index isn't missing
// everything that wasn't re-summarized this pass.
func (b *BatchSummarizer) seedShadowFromLive(ctx context.Context, shadow *fileIndex) error {
	live := NewFileIndex(b.Dir, b.Embedder).(*fileIndex)
	if err := live.Load(ctx); err != nil {
		return err
	}
	live.mu.RLock()
	defer live.mu.RUnlock()
	shadow.mu.Lock()
	defer shadow.mu.Unlock()
	for id, e := range live.entries {
		shadow.entries[id] = e
	}
	return nil
}

// recoverOrphan implements the startup recovery rule: shadow-without-
// manifest means a prior swap completed but didn't clean up; manifest
// means the prior shadow was incomplete.
func (b *BatchSummarizer) recoverOrphan(ctx context.Context) error {
	_, shadowErr := os.Stat(b.shadowPath())
	_, progressErr := os.Stat(b.progressPath())
	shadowExists := shadowErr == nil
	progressExists := progressErr == nil

	switch {
	case shadowExists && !progressExists:
		if err := os.Rename(b.shadowPath(), b.livePath()); err != nil {
			return fmt.Errorf("retrieval: orphan shadow recovery: %w", err)
		}
	case shadowExists && progressExists:
		if err := os.Remove(b.shadowPath()); err != nil {
			return fmt.Errorf("retrieval: discard incomplete shadow: %w", err)
		}
	}
	return nil
}

func (b *BatchSummarizer) loadProgress() (*batchProgress, error) {
	raw, err := os.ReadFile(b.progressPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("retrieval: read batch progress: %w", err)
	}
	var p batchProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil // corrupt manifest: start fresh rather than fail the batch
	}
	return &p, nil
}

func (b *BatchSummarizer) persistProgress(p *batchProgress) error {
	if err := os.MkdirAll(filepath.Dir(b.progressPath()), 0o755); err != nil {
		return fmt.Errorf("retrieval: create pages dir: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("retrieval: marshal batch progress: %w", err)
	}
	tmp := b.progressPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("retrieval: write batch progress: %w", err)
	}
	return os.Rename(tmp, b.progressPath())
}

func (b *BatchSummarizer) publish(ctx context.Context, kind string, payload map[string]any) {
	if b.Bus == nil {
		return
	}
	b.Bus.Publish(ctx, bus.Event{Kind: kind, SessionID: b.SessionID, Timestamp: b.now(), Payload: payload})
}

func (b *BatchSummarizer) now() time.Time { return time.Now() }

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
