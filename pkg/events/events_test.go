package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	a := bus.Subscribe()
	b := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Publish("/ws/work/projects/p1/runs/r1/events.jsonl")

	for _, sub := range []Subscriber{a, b} {
		select {
		case change := <-sub:
			assert.Equal(t, "/ws/work/projects/p1/runs/r1/events.jsonl", change.EventsFilePath)
			assert.False(t, change.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive change")
		}
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			bus.Publish("/ws/events.jsonl")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	_, open := <-sub
	require.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Double unsubscribe is a no-op
	bus.Unsubscribe(sub)
}

func TestOrderingPreservedForSinglePublisher(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	paths := []string{"/a", "/b", "/c", "/d"}
	for _, p := range paths {
		bus.Publish(p)
	}

	for _, want := range paths {
		select {
		case change := <-sub:
			assert.Equal(t, want, change.EventsFilePath)
		case <-time.After(time.Second):
			t.Fatal("missing change notification")
		}
	}
}
