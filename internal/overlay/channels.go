package overlay

import (
	"context"
	"fmt"
	"time"

	"ctxcore/internal/store"
)

// NewContextChannel renders the message store's memory map as one line:
// total messages, estimated tokens, page count, loaded page count,
// whether compaction is active, and the model. Its source closure
// captures s by reference through a pointer indirection, so assigning
// a new store through s takes effect without re-registering the
// channel.
func NewContextChannel(s **store.Store) *Channel {
	return &Channel{
		Name:       ChannelContext,
		MaxTokens:  400,
		UpdateMode: UpdateEveryTurn,
		Enabled:    true,
		Viewable:   true,
		Height:     6,
		Source: func(ctx context.Context) (string, error) {
			cur := *s
			if cur == nil {
				return "no active store", nil
			}
			stats, err := cur.GetStats(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf(
				"messages=%d tokens=%d pages=%d loaded=%d compacting=%v model=%s",
				stats.TotalMessages, stats.EstimatedTokens, stats.PageCount,
				stats.LoadedPageCount, stats.CompactionActive, stats.Model,
			), nil
		},
	}
}

// NewTimeChannel renders wall clock, session age, and turn count.
func NewTimeChannel(clock func() time.Time, sessionStart time.Time, turnCount *int) *Channel {
	if clock == nil {
		clock = time.Now
	}
	return &Channel{
		Name:       ChannelTime,
		MaxTokens:  100,
		UpdateMode: UpdateEveryTurn,
		Enabled:    true,
		Viewable:   true,
		Height:     3,
		Source: func(ctx context.Context) (string, error) {
			now := clock()
			return fmt.Sprintf(
				"%s  session_age=%s  turn=%d",
				now.Format(time.RFC3339), now.Sub(sessionStart).Round(time.Second), *turnCount,
			), nil
		},
	}
}

// NewConfigChannel renders the active model and sampling state.
func NewConfigChannel(model func() string, thinkingTier func() string) *Channel {
	return &Channel{
		Name:       ChannelConfig,
		MaxTokens:  100,
		UpdateMode: UpdateManual,
		Enabled:    true,
		Viewable:   true,
		Height:     3,
		Source: func(ctx context.Context) (string, error) {
			return fmt.Sprintf("model=%s  thinking=%s", model(), thinkingTier()), nil
		},
	}
}

// NewPlaceholderChannel builds an empty, disabled-by-default channel
// for a standard name the spec lists but that has no natural source in
// the context-management core's own scope (tasks, social, spend,
// violations, awareness) — they still register so switch_view/
// load_state can reference them by name, but stay off until an
// external supervisor wires a real Source via RebindSource.
func NewPlaceholderChannel(name string, viewable bool) *Channel {
	return &Channel{
		Name:       name,
		UpdateMode: UpdateManual,
		Enabled:    false,
		Viewable:   viewable,
		Height:     2,
	}
}

// NewSelfChannel is the non-viewable, non-assignable introspection
// channel the spec names explicitly.
func NewSelfChannel(source Source) *Channel {
	return &Channel{
		Name:       ChannelSelf,
		UpdateMode: UpdateManual,
		Enabled:    true,
		Viewable:   false,
		Source:     source,
	}
}
