package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ctxcore/internal/llm"
)

type entry struct {
	msg       llm.Message
	protected bool
}

// Store is the default MessageStore: a bounded working buffer backed
// by a page store and a summarizer, compacting synchronously whenever
// Add pushes the buffer over the high watermark. The mutex is held for
// the append and for the write-back of the compacted buffer, not while
// the summarizer runs; entries appended in between are kept after the
// compacted ones, and callers never observe a buffer mid-compaction.
// Messages() additionally applies a hard
// truncation pass as a safety net per spec §3.3.
type Store struct {
	mu sync.Mutex

	sessionID string
	model     string
	budgets   Budgets
	entries   []entry

	loadedPages []string // page ids loaded into the page slot, FIFO order
	pageCache   map[string]Page

	pageStore     PageStore
	summarizer    llm.Summarizer
	onPageCreated func(id, summary, label string)

	compacting bool
	clock      func() time.Time
}

// Option configures a new Store.
type Option func(*Store)

// WithOnPageCreated registers the page_created(id, summary, label)
// hook the semantic retrieval index subscribes to.
func WithOnPageCreated(fn func(id, summary, label string)) Option {
	return func(s *Store) { s.onPageCreated = fn }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New constructs a Store for a session. pageStore may be nil only in
// tests that never cross the high watermark.
func New(sessionID, model string, budgets Budgets, pageStore PageStore, summarizer llm.Summarizer, opts ...Option) *Store {
	s := &Store{
		sessionID:  sessionID,
		model:      model,
		budgets:    budgets,
		pageStore:  pageStore,
		summarizer: summarizer,
		pageCache:  map[string]Page{},
		clock:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) now() time.Time { return s.clock() }

// Add appends a message, protecting it if it is an assistant message
// with pending tool calls, then compacts if the high watermark was
// crossed.
func (s *Store) Add(ctx context.Context, m llm.Message) error {
	s.mu.Lock()
	protect := m.Role == "assistant" && len(m.ToolCalls) > 0
	s.entries = append(s.entries, entry{msg: m, protected: protect})
	s.mu.Unlock()
	return s.maybeCompact(ctx)
}

// AddIfNotExists appends m only if no structurally identical message
// already exists in the buffer.
func (s *Store) AddIfNotExists(ctx context.Context, m llm.Message) error {
	s.mu.Lock()
	for _, e := range s.entries {
		if messagesEqual(e.msg, m) {
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()
	return s.Add(ctx, m)
}

func messagesEqual(a, b llm.Message) bool {
	return a.Role == b.Role && a.Content == b.Content &&
		a.ToolCallID == b.ToolCallID && a.From == b.From
}

func (s *Store) maybeCompact(ctx context.Context) error {
	s.mu.Lock()
	seq := entriesToMsgs(s.entries)
	budgets := s.budgets
	s.mu.Unlock()

	wb := float64(budgets.WorkingBudget())
	if wb <= 0 {
		return nil
	}
	est := estimateSequenceTokens(seq, budgets.ToolContentMaxChar)
	if float64(est) <= budgets.HighWatermark*wb {
		return nil
	}
	return s.runCompaction(ctx, budgets.LowWatermark)
}

// ForceCompact synchronously compacts to the low-watermark target. Any
// transient state it introduces is cleaned up on every exit path.
func (s *Store) ForceCompact(ctx context.Context) (err error) {
	sentinel := llm.Message{Role: "system", Content: "", Metadata: map[string]any{"force_compact_sentinel": true}}
	s.mu.Lock()
	s.entries = append(s.entries, entry{msg: sentinel})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		for i, e := range s.entries {
			if isSentinel(e.msg) {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		if r := recover(); r != nil {
			err = fmt.Errorf("store: force_compact panicked: %v", r)
		}
	}()

	return s.runCompaction(ctx, s.budgets.LowWatermark)
}

func isSentinel(m llm.Message) bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata["force_compact_sentinel"]
	return ok && v == true
}

// Protect marks the most recent structurally-matching message as
// protected, preventing it from being paged out or summarized.
func (s *Store) Protect(m llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if messagesEqual(s.entries[i].msg, m) {
			s.entries[i].protected = true
			return
		}
	}
}

// ClearProtected clears every protection flag; called at the end of
// each tool round.
func (s *Store) ClearProtected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		s.entries[i].protected = false
	}
}

// Ref requests that a page be loaded into the page slot. Enforces
// recency priority: once adding a page would exceed the page slot
// budget, loading stops rather than skipping ahead to a smaller page.
func (s *Store) Ref(ctx context.Context, pageID string) error {
	s.mu.Lock()
	for _, id := range s.loadedPages {
		if id == pageID {
			s.mu.Unlock()
			return nil
		}
	}
	budget := s.budgets.PageSlotTokens
	used := 0
	for _, id := range s.loadedPages {
		if p, ok := s.pageCache[id]; ok {
			used += estimateTokens(llm.Message{Role: "system", Content: p.Summary}, s.budgets.ToolContentMaxChar)
		}
	}
	s.mu.Unlock()

	if s.pageStore == nil {
		return fmt.Errorf("store: no page store configured")
	}
	page, err := s.pageStore.LoadPage(ctx, s.sessionID, pageID)
	if err != nil {
		return err
	}
	cost := estimateTokens(llm.Message{Role: "system", Content: page.Summary}, s.budgets.ToolContentMaxChar)
	if budget > 0 && used+cost > budget {
		return nil // stop loading; do not skip ahead to smaller later pages
	}

	s.mu.Lock()
	s.pageCache[pageID] = page
	s.loadedPages = append(s.loadedPages, pageID)
	s.mu.Unlock()
	return nil
}

// Unref removes a page from the page slot.
func (s *Store) Unref(pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.loadedPages {
		if id == pageID {
			s.loadedPages = append(s.loadedPages[:i], s.loadedPages[i+1:]...)
			break
		}
	}
	delete(s.pageCache, pageID)
}

// HotReloadConfig atomically swaps budgets and re-evaluates compaction.
func (s *Store) HotReloadConfig(ctx context.Context, b Budgets) error {
	if b.ContextTokens > 0 && b.WorkingBudget() <= 0 {
		return ErrBudgetImpossible
	}
	s.mu.Lock()
	s.budgets = b
	s.mu.Unlock()
	return s.maybeCompact(ctx)
}

// Messages returns a fresh copy of the rendered sequence: pinned system
// messages, the loaded page slot, then the rest of the buffer, with
// flattening and a hard-truncation ceiling applied.
func (s *Store) Messages() []llm.Message {
	s.mu.Lock()
	seq := s.render()
	budgets := s.budgets
	s.mu.Unlock()

	seq = flatten(seq)
	seq = hardTruncate(seq, budgets, pinnedCountMsgs(seq))

	out := make([]llm.Message, len(seq))
	copy(out, seq)
	return out
}

func (s *Store) render() []llm.Message {
	n := pinnedCount(s.entries)
	seq := make([]llm.Message, 0, len(s.entries)+len(s.loadedPages))
	for i := 0; i < n; i++ {
		seq = append(seq, s.entries[i].msg)
	}
	for _, id := range s.loadedPages {
		p, ok := s.pageCache[id]
		if !ok {
			continue
		}
		seq = append(seq, llm.Message{
			Role:     "system",
			Content:  fmt.Sprintf("[page %s — %s]\n%s", p.ID, p.Label, p.Summary),
			Metadata: map[string]any{"page_id": p.ID},
		})
	}
	for i := n; i < len(s.entries); i++ {
		seq = append(seq, s.entries[i].msg)
	}
	return seq
}

func pinnedCountMsgs(msgs []llm.Message) int {
	n := 0
	for i := 0; i < len(msgs) && i < 2; i++ {
		if msgs[i].Role != "system" {
			break
		}
		n++
	}
	return n
}

// hardTruncate is the safety ceiling: if the rendered sequence is
// still over the working budget, drop the oldest non-pinned messages
// (whole tool-pair groups at a time) until it fits.
func hardTruncate(seq []llm.Message, budgets Budgets, pinnedN int) []llm.Message {
	wb := budgets.WorkingBudget()
	if wb <= 0 {
		return seq
	}
	for estimateSequenceTokens(seq, budgets.ToolContentMaxChar) > wb && len(seq) > pinnedN {
		groupEnd := pinnedN + 1
		if seq[pinnedN].Role == "assistant" && len(seq[pinnedN].ToolCalls) > 0 {
			for groupEnd < len(seq) && seq[groupEnd].Role == "tool" {
				groupEnd++
			}
		}
		seq = append(seq[:pinnedN], seq[groupEnd:]...)
	}
	return seq
}

// GetStats returns a snapshot for the sensory overlay's context map.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	seq := entriesToMsgs(s.entries)
	budgets := s.budgets
	model := s.model
	compacting := s.compacting
	loaded := append([]string(nil), s.loadedPages...)
	s.mu.Unlock()

	lanes := map[string]int{}
	for _, m := range seq {
		lanes[m.Role]++
	}

	var pageCount int
	var digest []PageDigestEntry
	if s.pageStore != nil {
		ids, err := s.pageStore.ListPageIDs(ctx, s.sessionID)
		if err != nil {
			return Stats{}, err
		}
		pageCount = len(ids)
		loadedSet := map[string]bool{}
		for _, id := range loaded {
			loadedSet[id] = true
		}
		for _, id := range ids {
			p, err := s.pageStore.LoadPage(ctx, s.sessionID, id)
			if err != nil {
				continue
			}
			digest = append(digest, PageDigestEntry{
				ID: p.ID, Label: p.Label, Lane: p.Lane,
				Loaded: loadedSet[id], Summary: p.Summary,
			})
		}
	}

	return Stats{
		TotalMessages:    len(seq),
		EstimatedTokens:  estimateSequenceTokens(seq, budgets.ToolContentMaxChar),
		LaneCounts:       lanes,
		PageCount:        pageCount,
		LoadedPageCount:  len(loaded),
		CompactionActive: compacting,
		Model:            model,
		PageDigest:       digest,
	}, nil
}

// journalFile is the on-disk layout for Save/Load; page files
// themselves are owned by the PageStore.
type journalFile struct {
	Model       string         `json:"model"`
	Budgets     Budgets        `json:"budgets"`
	Entries     []journalEntry `json:"entries"`
	LoadedPages []string       `json:"loaded_pages"`
}

type journalEntry struct {
	Message   llm.Message `json:"message"`
	Protected bool        `json:"protected"`
}

// Save persists the message journal and slot assignments atomically
// (write-temp then rename) under dir/<sessionID>/messages.jsonl.
func (s *Store) Save(dir string) error {
	s.mu.Lock()
	jf := journalFile{
		Model:       s.model,
		Budgets:     s.budgets,
		LoadedPages: append([]string(nil), s.loadedPages...),
	}
	for _, e := range s.entries {
		jf.Entries = append(jf.Entries, journalEntry{Message: e.msg, Protected: e.protected})
	}
	s.mu.Unlock()

	sessDir := filepath.Join(dir, s.sessionID)
	if err := os.MkdirAll(sessDir, 0o755); err != nil {
		return fmt.Errorf("store: create session dir: %w", err)
	}
	raw, err := json.Marshal(jf)
	if err != nil {
		return fmt.Errorf("store: marshal journal: %w", err)
	}
	final := filepath.Join(sessDir, "messages.jsonl")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("store: write journal: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("store: rename journal: %w", err)
	}
	return nil
}

// Load restores the message journal from dir/<sessionID>/messages.jsonl
// and runs the flattening pass once on the restored buffer to repair
// any pairing invariant broken by a previous, interrupted session.
func (s *Store) Load(dir string) error {
	final := filepath.Join(dir, s.sessionID, "messages.jsonl")
	raw, err := os.ReadFile(final)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read journal: %w", err)
	}
	var jf journalFile
	if err := json.Unmarshal(raw, &jf); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptJournal, err)
	}

	msgs := make([]llm.Message, len(jf.Entries))
	for i, je := range jf.Entries {
		msgs[i] = je.Message
	}
	msgs = flatten(msgs)
	if !pairingSatisfied(msgs) {
		return ErrInvariantViolation
	}

	entries := make([]entry, len(msgs))
	protByContent := map[string]bool{}
	for _, je := range jf.Entries {
		if je.Protected {
			protByContent[je.Message.Content] = true
		}
	}
	for i, m := range msgs {
		entries[i] = entry{msg: m, protected: protByContent[m.Content]}
	}

	s.mu.Lock()
	s.model = jf.Model
	if jf.Budgets.ContextTokens > 0 {
		s.budgets = jf.Budgets
	}
	s.entries = entries
	s.loadedPages = append([]string(nil), jf.LoadedPages...)
	s.mu.Unlock()
	return nil
}
