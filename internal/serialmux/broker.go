package serialmux

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/inspection.station/internal/monitoring"
)

// DefaultSubscriberBuffer is the channel capacity given to each subscriber.
const DefaultSubscriberBuffer = 256

// Broker is a Sink that fans events out to any number of subscribers. Device
// loops never wait on a subscriber: when a subscriber's buffer is full the
// event is dropped for that subscriber only. Events from one device reach a
// subscriber in the order they were emitted.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	buffer      int
	closed      bool
}

// NewBroker creates a Broker whose subscribers get buffer-sized channels.
// A non-positive buffer selects DefaultSubscriberBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		subscribers: make(map[string]chan Event),
		buffer:      buffer,
	}
}

// Subscribe creates a new channel for receiving events. The returned id is
// used to Unsubscribe. After Close the channel is returned already closed.
func (b *Broker) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Emit delivers e to every subscriber without blocking.
func (b *Broker) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			monitoring.Logf("event broker: subscriber %s is full, dropping %s for %s", id, e.Name, e.DeviceID())
		}
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later Emits are discarded.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
