package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// ChannelBus is the default in-process Bus: a single buffered channel
// read through Events(); each event is received by exactly one reader
// of that channel. Publish never blocks; when the
// channel is full the event is dropped and logged, matching the
// teacher's bus drop-on-full behavior rather than risking the
// publisher (the compactor, the batch re-summarizer) stalling on a
// slow or absent consumer.
type ChannelBus struct {
	mu        sync.RWMutex
	ch        chan Event
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewChannelBus builds a ChannelBus with the given buffer size.
func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = 100
	}
	return &ChannelBus{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

func (b *ChannelBus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- ev:
	default:
		log.Warn().Str("kind", ev.Kind).Str("session_id", ev.SessionID).Msg("bus_channel_full_dropping_event")
	}
}

// Events returns the channel to range over. Closed when Close is
// called.
func (b *ChannelBus) Events() <-chan Event {
	return b.ch
}

func (b *ChannelBus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.done)
		close(b.ch)
		b.mu.Unlock()
	})
}

var _ Bus = (*ChannelBus)(nil)
