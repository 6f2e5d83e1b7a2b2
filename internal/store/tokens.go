package store

import (
	"strings"

	"ctxcore/internal/llm"
)

// avgCharsPerToken is the fixed chars-per-token estimate the core uses
// instead of a real tokenizer (see spec §1 Non-goals).
const avgCharsPerToken = 4.0

// perMessageOverheadChars approximates the role/field wrapper overhead
// a real wire encoding adds per message.
const perMessageOverheadChars = 32

// maxSummaryInputChars bounds the text handed to the summarizer for a
// single group, so one outsized lane can't blow the summarizer's own
// input budget.
const maxSummaryInputChars = 16000

// estimateTokens approximates tokens(m) per spec §4.1: effective_chars
// divided by avg_chars_per_token, plus a fixed per-message overhead,
// with role=tool content capped at toolMaxChars so one giant tool
// result cannot dominate the budget estimate.
func estimateTokens(m llm.Message, toolMaxChars int) int {
	chars := effectiveChars(m, toolMaxChars)
	return ceilDiv(chars+perMessageOverheadChars, avgCharsPerToken)
}

func effectiveChars(m llm.Message, toolMaxChars int) int {
	n := len([]rune(m.Content))
	for _, tc := range m.ToolCalls {
		n += len(tc.Name) + len(tc.Args) + 8
	}
	if m.Role == "tool" && toolMaxChars > 0 && n > toolMaxChars {
		return toolMaxChars
	}
	return n
}

func ceilDiv(chars int, perToken float64) int {
	if chars <= 0 {
		return 0
	}
	return int((float64(chars) + perToken - 1) / perToken)
}

// estimateSequenceTokens sums estimateTokens over a sequence.
func estimateSequenceTokens(msgs []llm.Message, toolMaxChars int) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m, toolMaxChars)
	}
	return total
}

// truncateForSummary truncates content to limit runes, replacing the
// dropped middle with a marker and favoring the head (keeps early
// context, the part most likely to carry the original request).
func truncateForSummary(content string, limit int) string {
	trimmed := strings.TrimSpace(content)
	if limit <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	marker := []rune("\n[TRUNCATED]\n")
	if limit <= len(marker)+4 {
		return string(runes[:limit]) + string(marker)
	}
	available := limit - len(marker)
	head := int(float64(available) * 0.6)
	if head < 1 {
		head = 1
	}
	tail := available - head
	if tail < 1 {
		tail = 1
		head = available - tail
	}
	return string(runes[:head]) + string(marker) + string(runes[len(runes)-tail:])
}

func truncateInline(content string, limit int) string {
	trimmed := strings.TrimSpace(content)
	runes := []rune(trimmed)
	if limit <= 0 || len(runes) <= limit {
		return trimmed
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
