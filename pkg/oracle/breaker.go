package oracle

import (
	"sync"
	"time"
)

// BreakerState is one of the classic three circuit breaker states.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a three-state circuit breaker: closed → open after
// FailureThreshold consecutive failures, open → half-open after the
// cooldown, half-open → closed on the first success and back to open on
// any failure. While open, Allow reports false and no upstream call
// should be attempted.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	consecutiveFails int
	openedAt         time.Time
	probeInFlight    bool

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	// onTransition, if set, is called (outside the lock) whenever the
	// state changes. Used by the adapter to publish stats events.
	onTransition func(from, to BreakerState)
}

// NewBreaker creates a closed breaker. Zero values select the defaults
// (3 consecutive failures, 30s cooldown).
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether an upstream call may proceed. In the open state
// it flips to half-open once the cooldown has elapsed and admits a
// single probe call; concurrent callers during the probe are rejected.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	var notify func()
	defer func() {
		b.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		notify = b.transitionLocked(BreakerHalfOpen)
		b.probeInFlight = true
		return true
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// OnSuccess records a successful upstream call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	var notify func()
	b.consecutiveFails = 0
	if b.state == BreakerHalfOpen {
		b.probeInFlight = false
		notify = b.transitionLocked(BreakerClosed)
	}
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// OnFailure records a failed or timed-out upstream call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	var notify func()
	switch b.state {
	case BreakerHalfOpen:
		b.probeInFlight = false
		b.openedAt = b.now()
		notify = b.transitionLocked(BreakerOpen)
	case BreakerClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.failureThreshold {
			b.openedAt = b.now()
			notify = b.transitionLocked(BreakerOpen)
		}
	}
	b.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionLocked changes state and returns the deferred notification
// callback. Caller must hold b.mu.
func (b *Breaker) transitionLocked(to BreakerState) func() {
	from := b.state
	b.state = to
	if to == BreakerClosed {
		b.consecutiveFails = 0
	}
	if b.onTransition == nil || from == to {
		return nil
	}
	cb := b.onTransition
	return func() { cb(from, to) }
}
