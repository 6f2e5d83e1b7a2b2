package overlay

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Overlay owns the registered channels and the three camera slots.
type Overlay struct {
	mu       sync.Mutex
	channels map[string]*Channel
	slots    [3]string // channel name, or "" when empty
}

// New builds an Overlay with no channels registered; callers register
// standard channels via Register.
func New() *Overlay {
	return &Overlay{channels: map[string]*Channel{}}
}

// Register adds or replaces a channel definition.
func (o *Overlay) Register(ch *Channel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.channels[ch.Name] = ch
}

// RebindSource replaces a registered channel's source in place, used
// when the underlying MessageStore is hot-swapped via the memory
// directive: channel configuration and slot assignment are preserved,
// only the source closure changes.
func (o *Overlay) RebindSource(name string, src Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ch, ok := o.channels[name]; ok {
		ch.Source = src
	}
}

// SwitchView assigns name to slot. Refuses (leaving the slot
// unchanged) if name is unknown or non-viewable.
func (o *Overlay) SwitchView(name string, slot int) error {
	if slot < 0 || slot > 2 {
		return fmt.Errorf("overlay: slot %d out of range", slot)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.channels[name]
	if !ok || !ch.Viewable {
		return fmt.Errorf("overlay: %q is not a viewable channel", name)
	}
	o.slots[slot] = name
	return nil
}

// CycleSlot0 moves slot 0 to the next or previous viewable channel in
// alphabetical order of channel name, skipping non-viewable channels. If only one
// viewable channel exists, slot 0 stays put.
func (o *Overlay) CycleSlot0(direction string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	viewable := o.viewableNamesLocked()
	if len(viewable) <= 1 {
		return
	}
	cur := o.slots[0]
	idx := indexOf(viewable, cur)
	if idx < 0 {
		o.slots[0] = viewable[0]
		return
	}
	switch direction {
	case "prev":
		idx = (idx - 1 + len(viewable)) % len(viewable)
	default:
		idx = (idx + 1) % len(viewable)
	}
	o.slots[0] = viewable[idx]
}

func (o *Overlay) viewableNamesLocked() []string {
	var names []string
	for name, ch := range o.channels {
		if ch.Viewable {
			names = append(names, name)
		}
	}
	sortStrings(names)
	return names
}

func indexOf(ss []string, s string) int {
	for i, x := range ss {
		if x == s {
			return i
		}
	}
	return -1
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j] < ss[j-1]; j-- {
			ss[j], ss[j-1] = ss[j-1], ss[j]
		}
	}
}

// PollSources invokes every every_turn channel's source, caching the
// result for Render. manual channels are never polled here.
func (o *Overlay) PollSources(ctx context.Context) {
	o.mu.Lock()
	channels := make([]*Channel, 0, len(o.channels))
	for _, ch := range o.channels {
		if ch.UpdateMode == UpdateEveryTurn {
			channels = append(channels, ch)
		}
	}
	o.mu.Unlock()

	for _, ch := range channels {
		if ch.Source == nil {
			continue
		}
		body, err := ch.Source(ctx)
		o.mu.Lock()
		if err == nil {
			ch.cached = body
		}
		o.mu.Unlock()
	}
}

// PollManual forces a single manual-mode channel's source to refresh,
// for the `view`/`sense` directives.
func (o *Overlay) PollManual(ctx context.Context, name string) error {
	o.mu.Lock()
	ch, ok := o.channels[name]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("overlay: unknown channel %q", name)
	}
	if ch.Source == nil {
		return nil
	}
	body, err := ch.Source(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	ch.cached = body
	o.mu.Unlock()
	return nil
}

// Render produces the full panel content, the synthetic system message
// body placed immediately after the pinned system prompt.
func (o *Overlay) Render() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var grids [][]string
	for _, name := range o.slots {
		if name == "" {
			continue
		}
		ch, ok := o.channels[name]
		if !ok || !ch.Enabled {
			continue
		}
		body := strings.Split(ch.cached, "\n")
		if ch.cached == "" {
			body = nil
		}
		grids = append(grids, renderGrid(strings.ToUpper(name), body, ch.Height))
	}

	if len(grids) == 0 {
		return ""
	}

	var lines []string
	for i, g := range grids {
		if i == 0 {
			lines = append(lines, g[0]) // top border
		} else {
			lines = append(lines, divider()) // replaces this grid's own top border
		}
		lines = append(lines, g[1:len(g)-1]...) // content rows
	}
	lines = append(lines, grids[len(grids)-1][len(grids[len(grids)-1])-1]) // final bottom border
	return strings.Join(lines, "\n")
}
