package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"ctxcore/internal/llm"
)

// runCompaction implements the high→low watermark algorithm of spec
// §4.1: partition non-pinned, non-protected messages into lanes, page
// out everything but each lane's recent tail, and, if still over the
// low watermark, additionally thin tool-message retention.
func (s *Store) runCompaction(ctx context.Context, targetRatio float64) error {
	s.mu.Lock()
	s.compacting = true
	entries := append([]entry(nil), s.entries...)
	budgets := s.budgets
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.compacting = false
		s.mu.Unlock()
	}()

	pinnedN := pinnedCount(entries)

	newEntries, err := s.compactPass(ctx, entries, pinnedN, budgets, false)
	if err != nil {
		return err
	}

	target := targetRatio * float64(budgets.WorkingBudget())
	if float64(estimateSequenceTokens(entriesToMsgs(newEntries), budgets.ToolContentMaxChar)) > target {
		newEntries, err = s.compactPass(ctx, newEntries, pinnedN, budgets, true)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	if len(s.entries) > len(entries) {
		newEntries = append(newEntries, s.entries[len(entries):]...)
	}
	s.entries = newEntries
	s.mu.Unlock()
	return nil
}

// compactPass runs one sweep of the algorithm. toolOnly selects step 7
// (tool-retention thinning) instead of the default per-lane sweep.
func (s *Store) compactPass(ctx context.Context, entries []entry, pinnedN int, budgets Budgets, toolOnly bool) ([]entry, error) {
	n := len(entries)
	candidate := make([]bool, n)

	if toolOnly {
		var toolIdx []int
		for i := pinnedN; i < n; i++ {
			if entries[i].msg.Role == "tool" {
				toolIdx = append(toolIdx, i)
			}
		}
		keep := budgets.KeepRecentTools
		if keep < 0 {
			keep = 0
		}
		cut := len(toolIdx) - keep
		for k := 0; k < cut; k++ {
			idx := toolIdx[k]
			if entries[idx].protected {
				continue
			}
			candidate[idx] = true
			if owner := findOwningAssistant(entries, idx); owner >= 0 && !entries[owner].protected {
				candidate[owner] = true
			}
		}
	} else {
		laneIdx := map[string][]int{}
		for i := pinnedN; i < n; i++ {
			if entries[i].protected {
				continue
			}
			laneIdx[entries[i].msg.Role] = append(laneIdx[entries[i].msg.Role], i)
		}
		keep := budgets.MinRecentPerLane
		if keep < 0 {
			keep = 0
		}
		for _, idxs := range laneIdx {
			cut := len(idxs) - keep
			for k := 0; k < cut; k++ {
				candidate[idxs[k]] = true
			}
		}
	}

	candidate = closeOverToolGroups(entries, candidate)

	out := make([]entry, 0, n)
	i := 0
	for i < n {
		if !candidate[i] {
			out = append(out, entries[i])
			i++
			continue
		}
		lane := entries[i].msg.Role
		j := i
		for j < n && candidate[j] && entries[j].msg.Role == lane {
			j++
		}
		page, err := s.summarizeGroup(ctx, entries[i:j], lane)
		if err != nil {
			return nil, err
		}
		out = append(out, entry{msg: llm.Message{
			Role:    "memory",
			Content: page.Summary,
			Metadata: map[string]any{
				"page_id":         page.ID,
				"summary_excerpt": page.Summary,
			},
		}})
		i = j
	}
	return out, nil
}

// closeOverToolGroups extends candidacy so an assistant-with-tool_calls
// and its contiguous tool results are paged out atomically: if any
// member of the group is a candidate, all are; if any member is
// protected, none are (the group stays in the buffer this round).
func closeOverToolGroups(entries []entry, candidate []bool) []bool {
	n := len(entries)
	out := append([]bool(nil), candidate...)
	i := 0
	for i < n {
		m := entries[i].msg
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			i++
			continue
		}
		j := i + 1
		for j < n && entries[j].msg.Role == "tool" {
			j++
		}
		anyCandidate, anyProtected := false, false
		for k := i; k < j; k++ {
			if out[k] {
				anyCandidate = true
			}
			if entries[k].protected {
				anyProtected = true
			}
		}
		switch {
		case anyProtected:
			for k := i; k < j; k++ {
				out[k] = false
			}
		case anyCandidate:
			for k := i; k < j; k++ {
				out[k] = true
			}
		}
		i = j
	}
	return out
}

func findOwningAssistant(entries []entry, toolIdx int) int {
	id := entries[toolIdx].msg.ToolCallID
	for i := toolIdx - 1; i >= 0; i-- {
		if entries[i].msg.Role != "assistant" {
			continue
		}
		for _, tc := range entries[i].msg.ToolCalls {
			if tc.ID == id {
				return i
			}
		}
	}
	return -1
}

func pinnedCount(entries []entry) int {
	n := 0
	for i := 0; i < len(entries) && i < 2; i++ {
		if entries[i].msg.Role != "system" {
			break
		}
		n++
	}
	return n
}

func entriesToMsgs(entries []entry) []llm.Message {
	out := make([]llm.Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

// summarizeGroup summarizes a contiguous same-lane candidate run into a
// page, persists it, and fires onPageCreated exactly once — including
// on the fallback path where the summarizer errored, so the embedding
// index is never silently out of sync with the page store.
func (s *Store) summarizeGroup(ctx context.Context, group []entry, lane string) (Page, error) {
	var sb strings.Builder
	originals := make([]llm.Message, 0, len(group))
	maxImportance := 0.0
	for _, e := range group {
		originals = append(originals, e.msg)
		sb.WriteString(lane)
		sb.WriteString(": ")
		sb.WriteString(e.msg.Content)
		sb.WriteString("\n")
		if e.msg.Importance != nil && *e.msg.Importance > maxImportance {
			maxImportance = *e.msg.Importance
		}
	}
	label := deriveLabel(lane, group)

	summary, err := s.summarizer.Summarize(ctx, truncateForSummary(sb.String(), maxSummaryInputChars), label)
	if err != nil || strings.TrimSpace(summary) == "" {
		summary = "(content was summarized)"
	}

	raw, _ := json.Marshal(originals)
	page := Page{
		ID:              newPageID(s.now()),
		Label:           label,
		Lane:            lane,
		CreatedAt:       s.now(),
		MessageCount:    len(group),
		EstimatedTokens: estimateSequenceTokens(originals, s.budgets.ToolContentMaxChar),
		Summary:         summary,
		Content:         string(raw),
		ContentHash:     contentHash(raw),
		MaxImportance:   maxImportance,
	}

	if s.pageStore != nil {
		if err := s.pageStore.SavePage(ctx, s.sessionID, page); err != nil {
			return Page{}, err
		}
	}
	if s.onPageCreated != nil {
		s.onPageCreated(page.ID, page.Summary, page.Label)
	}
	return page, nil
}

func deriveLabel(lane string, group []entry) string {
	if len(group) == 0 {
		return lane
	}
	first := strings.TrimSpace(group[0].msg.Content)
	if first == "" {
		return lane
	}
	return lane + ": " + truncateInline(first, 40)
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func newPageID(now time.Time) string {
	ts := strconv.FormatInt(now.UnixNano(), 36)
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	suffix := strconv.FormatUint(uint64(binary.BigEndian.Uint32(buf[:])), 36)
	return "pg_" + ts + suffix
}
