package store

import (
	"fmt"
	"strings"

	"ctxcore/internal/llm"
)

// SummarizedToolCall is the metadata attached to an assistant message
// recording one tool_calls entry that flatten dropped because the
// matching tool result was paged out before the pairing invariant
// could be satisfied. An assistant with several lost calls carries one
// of these per call, so a later flatten pass can recognize every
// synthetic tool message it already emitted as owned.
type SummarizedToolCall struct {
	ID            string `json:"id"`
	Function      string `json:"function"`
	Args          string `json:"args"`
	ResultExcerpt string `json:"result_excerpt"`
}

// pairingSatisfied reports whether every assistant tool_calls entry has
// a matching tool message immediately following with no non-tool
// message interposed (property test 2, §8).
func pairingSatisfied(msgs []llm.Message) bool {
	for i, m := range msgs {
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		need := make(map[string]bool, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			need[tc.ID] = true
		}
		for j := i + 1; j < len(msgs) && msgs[j].Role == "tool"; j++ {
			delete(need, msgs[j].ToolCallID)
		}
		if len(need) > 0 {
			return false
		}
	}
	return true
}

// flatten rewrites any assistant message whose tool_calls are no
// longer immediately followed by all matching tool results, narrating
// the lost calls and dropping dangling tool messages. It is idempotent:
// an assistant already narrated (len(ToolCalls)==0, metadata recorded)
// and its synthetic tool message are left untouched on a second pass.
func flatten(msgs []llm.Message) []llm.Message {
	owned := ownedToolCallIDs(msgs)

	out := make([]llm.Message, 0, len(msgs))
	i := 0
	for i < len(msgs) {
		m := msgs[i]

		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			j := i + 1
			results := make(map[string]llm.Message, len(m.ToolCalls))
			for j < len(msgs) && msgs[j].Role == "tool" {
				results[msgs[j].ToolCallID] = msgs[j]
				j++
			}
			complete := true
			for _, tc := range m.ToolCalls {
				if _, ok := results[tc.ID]; !ok {
					complete = false
					break
				}
			}
			if complete {
				out = append(out, m)
				out = append(out, msgs[i+1:j]...)
				i = j
				continue
			}
			narrated, synth := flattenAssistant(m, results)
			out = append(out, narrated)
			out = append(out, synth...)
			i = j
			continue
		}

		if m.Role == "tool" {
			if !owned[m.ToolCallID] {
				i++ // dangling, drop
				continue
			}
			out = append(out, m)
			i++
			continue
		}

		out = append(out, m)
		i++
	}
	return out
}

// ownedToolCallIDs is the set of tool_call ids that some assistant
// message still structurally references, either live (ToolCalls) or
// via a prior flatten's recorded metadata.
func ownedToolCallIDs(msgs []llm.Message) map[string]bool {
	owned := make(map[string]bool)
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		for _, tc := range m.ToolCalls {
			owned[tc.ID] = true
		}
		if m.Metadata == nil {
			continue
		}
		switch v := m.Metadata["summarized_tool_calls"].(type) {
		case []SummarizedToolCall:
			for _, stc := range v {
				owned[stc.ID] = true
			}
		case []any:
			for _, item := range v {
				if mp, ok := item.(map[string]any); ok {
					if id, ok := mp["id"].(string); ok {
						owned[id] = true
					}
				}
			}
		}
	}
	return owned
}

func flattenAssistant(m llm.Message, results map[string]llm.Message) (llm.Message, []llm.Message) {
	var narrations []string
	var synth []llm.Message
	var lost []SummarizedToolCall

	for _, tc := range m.ToolCalls {
		args := truncateInline(string(tc.Args), 100)
		var resultExcerpt string
		if res, ok := results[tc.ID]; ok {
			resultExcerpt = truncateInline(res.Content, 200)
		} else {
			resultExcerpt = "truncated during compaction"
			synth = append(synth, llm.Message{
				Role:       "tool",
				Content:    "[result lost during compaction]",
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
			lost = append(lost, SummarizedToolCall{ID: tc.ID, Function: tc.Name, Args: args, ResultExcerpt: resultExcerpt})
		}
		narrations = append(narrations, fmt.Sprintf("I called %s with %s; result: %s", tc.Name, args, resultExcerpt))
	}

	narrated := m
	narrated.ToolCalls = nil
	narrated.Content = strings.Join(narrations, " ")
	meta := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	if len(lost) > 0 {
		meta["summarized_tool_calls"] = lost
	}
	narrated.Metadata = meta

	return narrated, synth
}
