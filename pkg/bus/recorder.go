package bus

import (
	"log/slog"
	"sync"
)

// DefaultRingSize is the recorder's default bounded history length.
const DefaultRingSize = 1000

// DefaultFeedBuffer is the default per-subscriber queue capacity.
const DefaultFeedBuffer = 256

// Recorder keeps a bounded ring of recent events and multiplexes a live
// feed into per-subscriber queues. The ring drops its oldest entry on
// overflow; a full subscriber queue drops that subscriber's oldest
// queued event, never the event itself.
type Recorder struct {
	mu      sync.Mutex
	ring    []Event
	start   int // index of oldest entry
	count   int
	nextID  int
	feeds   map[int]*feed
	detach  func()
	dropped int64 // total events dropped from subscriber queues
}

type feed struct {
	filter string
	ch     chan Event
	closed bool
}

// NewRecorder creates a recorder attached to the bus with the given ring
// capacity. Pass 0 for the default.
func NewRecorder(b *Bus, ringSize int) *Recorder {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	r := &Recorder{
		ring:  make([]Event, ringSize),
		feeds: make(map[int]*feed),
	}
	r.detach = b.Subscribe("*", r.record)
	return r
}

// Close detaches the recorder from the bus and closes all feeds.
func (r *Recorder) Close() {
	r.detach()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, f := range r.feeds {
		if !f.closed {
			f.closed = true
			close(f.ch)
		}
		delete(r.feeds, id)
	}
}

// record appends to the ring and fans out to live feeds.
func (r *Recorder) record(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.count) % len(r.ring)
	if r.count == len(r.ring) {
		// Ring full: overwrite the oldest entry.
		r.ring[r.start] = evt
		r.start = (r.start + 1) % len(r.ring)
	} else {
		r.ring[idx] = evt
		r.count++
	}

	for _, f := range r.feeds {
		if f.closed || !MatchType(f.filter, evt.Type) {
			continue
		}
		select {
		case f.ch <- evt:
		default:
			// Queue full: drop this subscriber's oldest queued event
			// to make room. The ring still holds the full history.
			select {
			case <-f.ch:
				r.dropped++
			default:
			}
			select {
			case f.ch <- evt:
			default:
				r.dropped++
			}
		}
	}
}

// Subscribe opens a live feed of events matching filter. The returned
// cancel function closes the feed channel; it is safe to call twice.
// A buffer of 0 uses the default capacity.
func (r *Recorder) Subscribe(filter string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	f := &feed{filter: filter, ch: make(chan Event, buffer)}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.feeds[id] = f
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.feeds[id]; ok && !cur.closed {
			cur.closed = true
			close(cur.ch)
			delete(r.feeds, id)
		}
	}
	return f.ch, cancel
}

// Recent returns up to limit most recent events matching filter, oldest
// first. Used for catch-up when a client subscribes after the fact.
func (r *Recorder) Recent(filter string, limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]Event, 0, limit)
	for i := 0; i < r.count; i++ {
		evt := r.ring[(r.start+i)%len(r.ring)]
		if MatchType(filter, evt.Type) {
			out = append(out, evt)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Dropped returns the total number of events dropped from subscriber
// queues. Surfaced for observability; the ring itself never drops an
// event before overwrite.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped > 0 {
		slog.Debug("Recorder has dropped queued events", "dropped", r.dropped)
	}
	return r.dropped
}
