package router

import (
	"hash/fnv"
	"sync"
	"time"
)

// Dedup defaults.
const (
	DefaultDedupWindow  = 5 * time.Second
	DefaultDedupMaxSize = 4096
)

// fingerprint computes a stable hash over the identifying tuple of a
// message. Payload content is deliberately excluded: a redelivery with
// a rebuilt payload must still collide.
func fingerprint(msg Message) uint64 {
	h := fnv.New64a()
	for _, part := range []string{msg.Recipient, string(msg.Type), msg.ChannelID, msg.Sender, msg.Nonce} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

type dedupEntry struct {
	fp uint64
	at time.Time
}

// dedupSet is a concurrent fingerprint set with per-entry expiry and a
// FIFO size cap. All entries share one TTL, so insertion order is also
// expiry order; eviction on overflow removes the oldest entry first.
type dedupSet struct {
	mu      sync.Mutex
	seenAt  map[uint64]time.Time
	order   []dedupEntry
	window  time.Duration
	maxSize int
	now     func() time.Time
}

func newDedupSet(window time.Duration, maxSize int) *dedupSet {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if maxSize <= 0 {
		maxSize = DefaultDedupMaxSize
	}
	return &dedupSet{
		seenAt:  make(map[uint64]time.Time),
		window:  window,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// seen records fp and reports whether it was already present and fresh.
func (d *dedupSet) seen(fp uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(now)

	if at, ok := d.seenAt[fp]; ok && now.Sub(at) < d.window {
		return true
	}
	d.seenAt[fp] = now
	d.order = append(d.order, dedupEntry{fp: fp, at: now})

	for len(d.seenAt) > d.maxSize && len(d.order) > 0 {
		d.dropFrontLocked()
	}
	return false
}

// pruneLocked drops expired entries from the front of the queue.
func (d *dedupSet) pruneLocked(now time.Time) {
	for len(d.order) > 0 && now.Sub(d.order[0].at) >= d.window {
		d.dropFrontLocked()
	}
}

// dropFrontLocked removes the queue head. The map entry is deleted only
// when it still refers to this insertion (a refreshed fingerprint may
// have a newer position later in the queue).
func (d *dedupSet) dropFrontLocked() {
	head := d.order[0]
	d.order = d.order[1:]
	if at, ok := d.seenAt[head.fp]; ok && at.Equal(head.at) {
		delete(d.seenAt, head.fp)
	}
}

// size returns the live entry count. Used by tests.
func (d *dedupSet) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seenAt)
}
