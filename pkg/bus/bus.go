package bus

import (
	"log/slog"
	"sync"
)

// Handler receives published events. Handlers run on the publisher's
// goroutine; slow handlers should hand off to their own queue (the
// Recorder does exactly that).
type Handler func(Event)

// Bus routes events to subscribers by exact type or "prefix.*" wildcard.
// A panic in one subscriber is recovered and logged; it never poisons
// the publish for the remaining subscribers.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]*subscription
	matched map[string][]int // event type → subscription IDs, invalidated on churn
}

type subscription struct {
	id      int
	filter  string
	handler Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[int]*subscription),
		matched: make(map[string][]int),
	}
}

// Subscribe registers a handler for events matching filter. The returned
// function removes the subscription; calling it more than once is safe.
func (b *Bus) Subscribe(filter string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscription{id: id, filter: filter, handler: handler}
	b.matched = make(map[string][]int)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.matched = make(map[string][]int)
			b.mu.Unlock()
		})
	}
}

// Publish delivers the event to every matching subscriber, in
// subscription order. Events published from the same goroutine reach
// each subscriber in publish order.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	ids, cached := b.matched[evt.Type]
	if !cached {
		b.mu.RUnlock()
		ids = b.resolve(evt.Type)
		b.mu.RLock()
	}
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if sub, ok := b.subs[id]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(h, evt)
	}
}

// resolve computes and caches the subscriber IDs for an event type.
func (b *Bus) resolve(eventType string) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ids, ok := b.matched[eventType]; ok {
		return ids
	}
	ids := make([]int, 0, len(b.subs))
	for id := 1; id <= b.nextID; id++ {
		sub, ok := b.subs[id]
		if ok && MatchType(sub.filter, eventType) {
			ids = append(ids, id)
		}
	}
	b.matched[eventType] = ids
	return ids
}

// invoke runs a handler with panic isolation.
func (b *Bus) invoke(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked",
				"event_type", evt.Type, "event_id", evt.EventID, "panic", r)
		}
	}()
	h(evt)
}

// SubscriberCount returns the number of active subscriptions.
// Used by tests to poll instead of sleeping.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
