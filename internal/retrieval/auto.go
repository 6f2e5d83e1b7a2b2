package retrieval

import (
	"context"
	"strings"

	"ctxcore/internal/llm"
	"ctxcore/internal/store"
)

// minQueryLen below this, the user message is considered too short to
// form a useful query and the fallback (most recent assistant message)
// is tried instead.
const minQueryLen = 12

// AutoRetriever runs the per-turn auto-retrieve step (spec §4.4): form
// a query from recent messages, search, ref the top-k survivors not
// already loaded.
type AutoRetriever struct {
	Index Index
	Cache *SearchCache
	K     int
	MinScore float64

	lastQuery string
}

// SelectQuery forms the query text for this turn from the rendered
// message sequence, or returns ("", false) when there is nothing
// usable (spec: "return null for empty input").
func (a *AutoRetriever) SelectQuery(messages []llm.Message) (string, bool) {
	var lastUser, lastAssistant string
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if lastUser == "" && m.Role == "user" {
			lastUser = strings.TrimSpace(m.Content)
		}
		if lastAssistant == "" && m.Role == "assistant" {
			lastAssistant = strings.TrimSpace(m.Content)
		}
		if lastUser != "" && lastAssistant != "" {
			break
		}
	}
	if len([]rune(lastUser)) >= minQueryLen {
		return lastUser, true
	}
	if lastAssistant != "" {
		return lastAssistant, true
	}
	if lastUser != "" {
		return lastUser, true
	}
	return "", false
}

// Run executes one auto-retrieve pass: dedupes against the previous
// turn's query, searches, filters already-loaded pages, and refs the
// survivors against s. Returns the page ids it loaded.
func (a *AutoRetriever) Run(ctx context.Context, sessionID string, messages []llm.Message, loadedPageIDs map[string]bool, s *store.Store) ([]string, error) {
	query, ok := a.SelectQuery(messages)
	if !ok {
		return nil, nil
	}
	if query == a.lastQuery {
		return nil, nil // tool-loop dedup: same query as last turn
	}
	a.lastQuery = query

	k := a.K
	if k <= 0 {
		k = 3
	}

	var results []SearchResult
	if cached, hit := a.cacheGet(ctx, sessionID, query, k); hit {
		results = cached
	} else {
		var err error
		results, err = a.Index.Search(ctx, query, k, a.MinScore)
		if err != nil {
			return nil, err
		}
		a.cacheSet(ctx, sessionID, query, k, results)
	}

	var loaded []string
	for _, r := range results {
		if loadedPageIDs[r.PageID] {
			continue
		}
		if err := s.Ref(ctx, r.PageID); err != nil {
			continue
		}
		loaded = append(loaded, r.PageID)
	}
	return loaded, nil
}

func (a *AutoRetriever) cacheGet(ctx context.Context, sessionID, query string, k int) ([]SearchResult, bool) {
	if a.Cache == nil {
		return nil, false
	}
	return a.Cache.Get(ctx, sessionID, query, k)
}

func (a *AutoRetriever) cacheSet(ctx context.Context, sessionID, query string, k int, results []SearchResult) {
	if a.Cache == nil {
		return
	}
	a.Cache.Set(ctx, sessionID, query, k, results)
}

// Backfill indexes any page that has a summary but no index entry yet
// (spec: "skip pages without summaries"), run once at startup.
func Backfill(ctx context.Context, idx Index, pageStore store.PageStore, sessionID string) error {
	ids, err := pageStore.ListPageIDs(ctx, sessionID)
	if err != nil {
		return err
	}
	missing, err := idx.MissingIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range missing {
		page, err := pageStore.LoadPage(ctx, sessionID, id)
		if err != nil {
			continue
		}
		if page.Summary == "" {
			continue
		}
		if err := idx.IndexPage(ctx, page.ID, page.Summary, page.Label, page.ContentHash); err != nil {
			continue
		}
	}
	return nil
}
