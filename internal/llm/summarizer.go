package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeout bounds a single summarization call; callers that need
// the compaction budget's own deadline should wrap ctx themselves before
// calling Summarize.
const DefaultTimeout = 20 * time.Second

// ChatSummarizer is the default Summarizer, backed by any ChatDriver. It
// asks for a dense, bullet-friendly digest and trims the model's answer
// to a hard character ceiling so a single summary can never blow the
// store's compaction budget.
type ChatSummarizer struct {
	Driver    ChatDriver
	Model     string
	MaxChars  int
	Timeout   time.Duration
}

var _ Summarizer = (*ChatSummarizer)(nil)

func NewChatSummarizer(driver ChatDriver, model string) *ChatSummarizer {
	return &ChatSummarizer{Driver: driver, Model: model, MaxChars: 1200, Timeout: DefaultTimeout}
}

func (s *ChatSummarizer) Summarize(ctx context.Context, text, label string) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxChars := s.MaxChars
	if maxChars <= 0 {
		maxChars = 1200
	}

	var user strings.Builder
	user.WriteString("Summarize the following conversation page into a dense digest.\n")
	user.WriteString("Preserve user goals, preferences, decisions, key facts, identifiers (files, URLs, IDs), tool results/errors, and open questions.\n")
	if strings.TrimSpace(label) != "" {
		user.WriteString("Label: ")
		user.WriteString(label)
		user.WriteString("\n")
	}
	user.WriteString(fmt.Sprintf("Return only the summary. Aim for <= %d characters; short bullets are fine.\n\n", maxChars))
	user.WriteString(text)

	msgs := []Message{
		{Role: "system", Content: "You are a concise summarizer. Preserve facts over prose."},
		{Role: "user", Content: user.String()},
	}

	resp, err := s.Driver.Chat(cctx, msgs, Options{Model: s.Model})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	out := strings.TrimSpace(resp.Text)
	if out == "" {
		return "", fmt.Errorf("summarize: empty response")
	}
	if len([]rune(out)) > maxChars {
		runes := []rune(out)
		out = string(runes[:maxChars-3]) + "..."
	}
	return out, nil
}
