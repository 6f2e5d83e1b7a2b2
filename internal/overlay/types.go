// Package overlay implements the Sensory Overlay (spec §4.5): a single
// synthetic system message, placed immediately after the pinned system
// prompt, showing the agent a fixed-width status panel composed of up
// to three camera slots, each bound to a named channel.
package overlay

import "context"

// GridWidth is the fixed panel width every rendered line must equal,
// in runes (box-drawing glyphs are multi-byte; clipping is therefore
// rune-based, never a byte slice).
const GridWidth = 82

// UpdateMode controls when a channel's source is polled.
type UpdateMode string

const (
	UpdateManual    UpdateMode = "manual"
	UpdateEveryTurn UpdateMode = "every_turn"
)

// Source produces a channel's current body text. Sources that hold a
// reference to the message store (the context channel) must be
// rebindable on a store hot-swap; see Overlay.RebindSource.
type Source func(ctx context.Context) (string, error)

// Channel is a single pollable, viewable status surface.
type Channel struct {
	Name       string
	MaxTokens  int
	UpdateMode UpdateMode
	Enabled    bool
	Viewable   bool
	Height     int // 0 means size to content
	Source     Source

	cached string
}

// Standard channel names (spec §4.5). "self" is non-viewable and can
// never be assigned to a slot.
const (
	ChannelContext    = "context"
	ChannelTime       = "time"
	ChannelConfig     = "config"
	ChannelTasks      = "tasks"
	ChannelSocial     = "social"
	ChannelSpend      = "spend"
	ChannelViolations = "violations"
	ChannelAwareness  = "awareness"
	ChannelSelf       = "self"
)

// DefaultSlotOrder is the backfill order load_state uses to heal a
// stripped or invalid slot assignment.
var DefaultSlotOrder = []string{ChannelContext, ChannelTime, ChannelConfig}
