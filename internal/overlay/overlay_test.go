package overlay

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textSource(s string) Source {
	return func(ctx context.Context) (string, error) { return s, nil }
}

func TestRenderLinesAreExactWidth(t *testing.T) {
	o := New()
	o.Register(&Channel{Name: "context", Viewable: true, Enabled: true, Source: textSource("hello"), Height: 3})
	require.NoError(t, o.SwitchView("context", 0))
	o.PollSources(context.Background())

	out := o.Render()
	require.NotEmpty(t, out)
	for _, line := range strings.Split(out, "\n") {
		assert.Equal(t, GridWidth, len([]rune(line)), "line %q is not %d runes", line, GridWidth)
	}
}

func TestSwitchViewRefusesUnknownOrNonViewable(t *testing.T) {
	o := New()
	o.Register(&Channel{Name: "self", Viewable: false})
	err := o.SwitchView("self", 0)
	assert.Error(t, err)

	err = o.SwitchView("does-not-exist", 1)
	assert.Error(t, err)
}

func TestCycleSlot0SkipsNonViewableAndWrapsAround(t *testing.T) {
	o := New()
	o.Register(&Channel{Name: "a", Viewable: true})
	o.Register(&Channel{Name: "b", Viewable: true})
	o.Register(&Channel{Name: "hidden", Viewable: false})
	require.NoError(t, o.SwitchView("a", 0))

	o.CycleSlot0("next")
	assert.Equal(t, "b", o.slots[0])
	o.CycleSlot0("next")
	assert.Equal(t, "a", o.slots[0])
}

func TestCycleSlot0NoopWithSingleViewable(t *testing.T) {
	o := New()
	o.Register(&Channel{Name: "only", Viewable: true})
	require.NoError(t, o.SwitchView("only", 0))
	o.CycleSlot0("next")
	assert.Equal(t, "only", o.slots[0])
}

func TestLoadStateHealsInvalidSlots(t *testing.T) {
	o := New()
	o.Register(&Channel{Name: ChannelContext, Viewable: true})
	o.Register(&Channel{Name: ChannelTime, Viewable: true})
	o.Register(&Channel{Name: ChannelConfig, Viewable: true})
	o.Register(&Channel{Name: "hidden", Viewable: false})

	bogus := "does-not-exist"
	hiddenName := "hidden"
	st := State{Slots: [3]*string{&bogus, &hiddenName, nil}}
	o.LoadState(st)

	assert.Equal(t, ChannelContext, o.slots[0])
	assert.Equal(t, ChannelTime, o.slots[1])
	assert.Equal(t, ChannelConfig, o.slots[2])
}

func TestLoadStateLeavesSlotNullWhenNoUnusedDefaultRemains(t *testing.T) {
	// "time" is intentionally not registered, so once context and
	// config are both claimed by other slots, backfilling the middle
	// slot has no unused default candidate left and must stay null.
	o := New()
	o.Register(&Channel{Name: ChannelContext, Viewable: true})
	o.Register(&Channel{Name: ChannelConfig, Viewable: true})

	configName := ChannelConfig
	bogus := "bogus"
	ctxName := ChannelContext
	st := State{Slots: [3]*string{&configName, &bogus, &ctxName}}
	o.LoadState(st)

	assert.Equal(t, ChannelConfig, o.slots[0])
	assert.Equal(t, "", o.slots[1])
	assert.Equal(t, ChannelContext, o.slots[2])
}

func TestRebindSourcePreservesSlotAssignment(t *testing.T) {
	o := New()
	o.Register(&Channel{Name: "context", UpdateMode: UpdateEveryTurn, Viewable: true, Enabled: true, Source: textSource("old")})
	require.NoError(t, o.SwitchView("context", 0))

	o.RebindSource("context", textSource("new"))
	o.PollSources(context.Background())
	assert.Equal(t, "context", o.slots[0])
	out := o.Render()
	assert.Contains(t, out, "new")
}
