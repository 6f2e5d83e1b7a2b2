package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChannelBusDeliversPublishedEvent(t *testing.T) {
	b := NewChannelBus(4)
	defer b.Close()

	ev := Event{Kind: KindPageCreated, SessionID: "s1", Timestamp: time.Now()}
	b.Publish(context.Background(), ev)

	got := <-b.Events()
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, ev.SessionID, got.SessionID)
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()

	b.Publish(context.Background(), Event{Kind: KindBatchStarted})
	// second publish should not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		b.Publish(context.Background(), Event{Kind: KindBatchProgress})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full channel")
	}
}

func TestChannelBusPublishAfterCloseIsNoop(t *testing.T) {
	b := NewChannelBus(1)
	b.Close()
	assert.NotPanics(t, func() {
		b.Publish(context.Background(), Event{Kind: KindBatchCompleted})
	})
}
