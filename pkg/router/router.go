package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Delivery outcomes.
type Result string

// Result values.
const (
	ResultDelivered Result = "delivered"
	ResultDuplicate Result = "duplicate"
	ResultDropped   Result = "dropped"
)

// Router errors.
var (
	// ErrUnknownRecipient means a directed message addressed an agent
	// the directory cannot resolve. Missing singletons are a
	// configuration error and are logged as such.
	ErrUnknownRecipient = errors.New("unknown recipient")
)

// Config tunes the router.
type Config struct {
	// DedupWindow is how long a fingerprint suppresses redelivery.
	DedupWindow time.Duration
	// DedupMaxSize caps the dedup set; oldest entries are evicted.
	DedupMaxSize int
}

// Router delivers typed messages to named agents. Delivery is
// synchronous per recipient (the router awaits the recipient's
// handler), which keeps per-channel state mutation single-threaded.
// Traffic to distinct recipients is fully parallel.
type Router struct {
	directory Directory
	dedup     *dedupSet

	delivered  atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
}

// New creates a router resolving recipients through directory.
func New(directory Directory, cfg Config) *Router {
	return &Router{
		directory: directory,
		dedup:     newDedupSet(cfg.DedupWindow, cfg.DedupMaxSize),
	}
}

// Send delivers msg to its recipient. A repeated fingerprint within the
// dedup window is dropped silently (ResultDuplicate). An unresolvable
// recipient yields ResultDropped and ErrUnknownRecipient.
func (r *Router) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.Recipient == "" {
		r.dropped.Add(1)
		return ResultDropped, fmt.Errorf("message of type %s has no recipient", msg.Type)
	}

	if r.dedup.seen(fingerprint(msg)) {
		r.duplicates.Add(1)
		slog.Debug("Dropping duplicate message",
			"type", msg.Type, "sender", msg.Sender,
			"recipient", msg.Recipient, "channel_id", msg.ChannelID)
		return ResultDuplicate, nil
	}

	recipient, err := r.directory.Resolve(ctx, msg.Recipient)
	if err != nil {
		r.dropped.Add(1)
		if msg.Recipient == CoordinatorName || msg.Recipient == ChannelAdminName {
			slog.Error("Singleton recipient missing, configuration error",
				"recipient", msg.Recipient, "error", err)
		} else {
			slog.Warn("Dropping message for unknown recipient",
				"recipient", msg.Recipient, "type", msg.Type, "error", err)
		}
		return ResultDropped, fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.Recipient)
	}

	if err := recipient.HandleMessage(ctx, msg); err != nil {
		return ResultDelivered, fmt.Errorf("handler for %s rejected %s: %w",
			msg.Recipient, msg.Type, err)
	}
	r.delivered.Add(1)
	return ResultDelivered, nil
}

// Counters returns (delivered, duplicates, dropped) totals. Duplicates
// are surfaced only as this debug-level counter.
func (r *Router) Counters() (delivered, duplicates, dropped int64) {
	return r.delivered.Load(), r.duplicates.Load(), r.dropped.Load()
}
