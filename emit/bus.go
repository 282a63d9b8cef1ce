package emit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// EventStore is the durable backing for the bus — the "events" sub-store
// of the StoragePort described in spec.md §4.1. Append must allocate Seq
// atomically relative to other appends for the same run.
type EventStore interface {
	Append(ctx context.Context, input EventInput) (Event, error)
	List(ctx context.Context, runID string) ([]Event, error)
}

// Listener is invoked for every event matching a subscription's filter. A
// panicking listener must not take down the bus or other listeners.
type Listener func(Event)

type subscription struct {
	id       string
	filter   Filter
	listener Listener
}

// Bus is the EventsBus component from spec.md §4.2: it wraps the events
// store, persists first, then fans out synchronously with respect to the
// append caller (the appender observes the persisted record before any
// listener runs), while guaranteeing that a listener panicking never
// aborts the append or other listeners.
type Bus struct {
	store EventStore

	mu   sync.RWMutex
	subs map[string]subscription
}

func NewBus(store EventStore) *Bus {
	return &Bus{store: store, subs: make(map[string]subscription)}
}

// Append persists the event and then fans it out to every subscriber whose
// filter matches; the order in which subscribers are called is not
// defined. The store serializes Seq allocation per run, and the walker
// calls Append synchronously from the one goroutine driving a run, so a
// run's own events reach subscribers in increasing Seq order. The bus
// itself does not queue or order concurrent Append calls.
func (b *Bus) Append(ctx context.Context, input EventInput) (Event, error) {
	event, err := b.store.Append(ctx, input)
	if err != nil {
		return Event{}, err
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter.Matches(event) {
			dispatch(s.listener, event)
		}
	}

	return event, nil
}

// dispatch runs a listener, converting any panic into a swallowed error so
// that one misbehaving subscriber cannot break event delivery for others.
func dispatch(listener Listener, event Event) {
	defer func() { _ = recover() }()
	listener(event)
}

// Subscribe registers listener for events matching filter and returns an
// unsubscribe function. A zero-value filter matches every run.
func (b *Bus) Subscribe(filter Filter, listener Listener) (unsubscribe func()) {
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = subscription{id: id, filter: filter, listener: listener}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// List is a pass-through query to the backing store, returned in
// ascending Seq order.
func (b *Bus) List(ctx context.Context, runID string) ([]Event, error) {
	events, err := b.store.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}
