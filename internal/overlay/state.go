package overlay

import "encoding/json"

// State is the on-disk shape of sensory-state.json (spec §6.4).
type State struct {
	Slots    [3]*string                 `json:"slots"`
	Channels map[string]ChannelState    `json:"channels"`
}

// ChannelState is the persisted per-channel toggle.
type ChannelState struct {
	Enabled bool `json:"enabled"`
}

// SaveState snapshots slot assignments and channel enablement.
func (o *Overlay) SaveState() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	var st State
	st.Channels = make(map[string]ChannelState, len(o.channels))
	for name, ch := range o.channels {
		st.Channels[name] = ChannelState{Enabled: ch.Enabled}
	}
	for i, name := range o.slots {
		if name == "" {
			st.Slots[i] = nil
			continue
		}
		n := name
		st.Slots[i] = &n
	}
	return st
}

// LoadState restores a persisted state, validating and healing slot
// assignments (spec §4.5): null, duplicate, unknown, or non-viewable
// entries are stripped and backfilled from DefaultSlotOrder subject to
// uniqueness. A default already present elsewhere leaves the slot
// null rather than duplicating it.
func (o *Overlay) LoadState(st State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for name, cs := range st.Channels {
		if ch, ok := o.channels[name]; ok {
			ch.Enabled = cs.Enabled
		}
	}

	var healed [3]string
	seen := map[string]bool{}
	for i, p := range st.Slots {
		if p == nil {
			continue
		}
		name := *p
		ch, ok := o.channels[name]
		if !ok || !ch.Viewable || seen[name] {
			continue // stripped: unknown, non-viewable, or duplicate
		}
		healed[i] = name
		seen[name] = true
	}

	for i := range healed {
		if healed[i] != "" {
			continue
		}
		for _, candidate := range DefaultSlotOrder {
			if seen[candidate] {
				continue
			}
			ch, ok := o.channels[candidate]
			if !ok || !ch.Viewable {
				continue
			}
			healed[i] = candidate
			seen[candidate] = true
			break
		}
	}

	o.slots = healed
}

// MarshalState/UnmarshalState provide the JSON round-trip for the
// atomic-write session file; the write-temp-then-rename mechanics are
// the caller's responsibility (shared with store/retrieval's pattern).
func MarshalState(st State) ([]byte, error) { return json.Marshal(st) }
func UnmarshalState(raw []byte) (State, error) {
	var st State
	err := json.Unmarshal(raw, &st)
	return st, err
}
