package events

import (
	"sync"

	"github.com/cccc-dev/cccc/pkg/types"
)

// DefaultBuffer is the per-subscriber channel depth before a slow
// subscriber is dropped with a lagged signal.
const DefaultBuffer = 256

// Subscription receives committed events for one group (or all groups).
// If the subscriber falls behind, C is closed and Lagged() reports true;
// the subscriber must re-sync from the ledger.
type Subscription struct {
	C chan *types.Event

	groupID string
	kinds   map[types.EventKind]bool

	mu     sync.Mutex
	lagged bool
	closed bool
}

// Lagged reports whether the subscription was dropped for falling behind.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

func (s *Subscription) wants(ev *types.Event) bool {
	if s.groupID != "" && ev.GroupID != s.groupID {
		return false
	}
	if len(s.kinds) > 0 && !s.kinds[ev.Kind] {
		return false
	}
	return true
}

func (s *Subscription) close(lagged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.lagged = lagged
	close(s.C)
}

// Broker fans committed events out to subscribers. Publishers never
// block: events queue on an internal channel, and any subscriber whose
// buffer is full is dropped rather than stalling the writer.
type Broker struct {
	subscribers map[*Subscription]bool
	mu          sync.RWMutex
	eventCh     chan *types.Event
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[*Subscription]bool),
		eventCh:     make(chan *types.Event, 1024),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and closes all subscriptions.
func (b *Broker) Stop() {
	close(b.stopCh)
	<-b.doneCh

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		sub.close(false)
		delete(b.subscribers, sub)
	}
}

// Subscribe creates a subscription. groupID filters to one group (""
// receives all groups); kinds filters by event kind (nil receives all
// kinds); buffer <= 0 uses DefaultBuffer.
func (b *Broker) Subscribe(groupID string, kinds []types.EventKind, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{
		C:       make(chan *types.Event, buffer),
		groupID: groupID,
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[types.EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		sub.close(false)
	}
}

// Publish publishes a committed event to all subscribers.
func (b *Broker) Publish(ev *types.Event) {
	select {
	case b.eventCh <- ev:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case ev := <-b.eventCh:
			b.broadcast(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(ev *types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			// Buffer full: drop the subscriber with a lagged signal so it
			// can re-sync from the ledger. Never block the writer.
			delete(b.subscribers, sub)
			sub.close(true)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
