package events

import (
	"sync"
	"time"
)

// Change notifies subscribers that a run's events file was mutated
type Change struct {
	EventsFilePath string
	Timestamp      time.Time
}

// Subscriber is a channel that receives change notifications
type Subscriber chan Change

// Bus distributes events-file-changed notifications inside the process.
// The bus is memoryless: if no subscriber is listening, or a subscriber's
// buffer is full, the notification is dropped. The index sync worker
// compensates with its minimum-interval timer.
type Bus struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	changeCh    chan Change
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBus creates a new runtime event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Subscriber]bool),
		changeCh:    make(chan Change, 100), // Buffer up to 100 notifications
		stopCh:      make(chan struct{}),
	}
}

// Start begins the bus distribution loop
func (b *Bus) Start() {
	go b.run()
}

// Stop stops the bus
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes a change notification to all subscribers. Publication
// is best-effort and never blocks the caller.
func (b *Bus) Publish(eventsFilePath string) {
	change := Change{EventsFilePath: eventsFilePath, Timestamp: time.Now()}
	select {
	case b.changeCh <- change:
	case <-b.stopCh:
	default:
		// Bus backlog full, drop
	}
}

func (b *Bus) run() {
	for {
		select {
		case change := <-b.changeCh:
			b.broadcast(change)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- change:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
