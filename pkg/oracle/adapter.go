package oracle

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/NatureBlueee/towow/pkg/models"
)

// DefaultCallTimeout bounds a single oracle call when no per-operation
// budget is configured.
const DefaultCallTimeout = 10 * time.Second

// EventSink receives adapter observability events (breaker transitions,
// stats snapshots). Wired to the event bus by the engine; may be nil.
type EventSink func(eventType string, payload map[string]any)

// AdapterConfig tunes the adapter's degradation behavior.
type AdapterConfig struct {
	// DefaultTimeout bounds calls with no per-operation override.
	DefaultTimeout time.Duration
	// OpTimeouts overrides the budget for individual operations,
	// keyed by the Op* constants.
	OpTimeouts map[string]time.Duration
	// FailureThreshold is the consecutive-failure count that opens
	// the breaker. Default 3.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before admitting a
	// half-open probe. Default 30s.
	Cooldown time.Duration
}

// Stats is a snapshot of adapter counters.
type Stats struct {
	Total    int64        `json:"total"`
	Success  int64        `json:"success"`
	Timeout  int64        `json:"timeout"`
	Failure  int64        `json:"failure"`
	Fallback int64        `json:"fallback"`
	State    BreakerState `json:"breaker_state"`
}

// Adapter wraps an upstream Service with per-call deadlines, a circuit
// breaker, and per-operation fallbacks. Adapter methods never return an
// error: degradation is expressed through the fallback record.
type Adapter struct {
	upstream Service
	breaker  *Breaker
	cfg      AdapterConfig
	sink     EventSink

	total    atomic.Int64
	success  atomic.Int64
	timeout  atomic.Int64
	failure  atomic.Int64
	fallback atomic.Int64
}

var _ Service = (*Adapter)(nil)

// NewAdapter wraps upstream. sink may be nil.
func NewAdapter(upstream Service, cfg AdapterConfig, sink EventSink) *Adapter {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultCallTimeout
	}
	a := &Adapter{
		upstream: upstream,
		breaker:  NewBreaker(cfg.FailureThreshold, cfg.Cooldown),
		cfg:      cfg,
		sink:     sink,
	}
	a.breaker.onTransition = func(from, to BreakerState) {
		slog.Warn("Oracle circuit breaker state change", "from", from, "to", to)
		a.publishStats()
	}
	return a
}

// Stats returns a snapshot of the adapter counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Total:    a.total.Load(),
		Success:  a.success.Load(),
		Timeout:  a.timeout.Load(),
		Failure:  a.failure.Load(),
		Fallback: a.fallback.Load(),
		State:    a.breaker.State(),
	}
}

func (a *Adapter) publishStats() {
	if a.sink == nil {
		return
	}
	s := a.Stats()
	a.sink("oracle.stats", map[string]any{
		"total":         s.Total,
		"success":       s.Success,
		"timeout":       s.Timeout,
		"failure":       s.Failure,
		"fallback":      s.Fallback,
		"breaker_state": string(s.State),
	})
}

func (a *Adapter) budget(op string) time.Duration {
	if d, ok := a.cfg.OpTimeouts[op]; ok && d > 0 {
		return d
	}
	return a.cfg.DefaultTimeout
}

// call runs one guarded upstream invocation. On an open breaker, an
// upstream error, or deadline expiry it returns the fallback and a nil
// error; callers never see oracle failures.
func call[T any](a *Adapter, ctx context.Context, op string, invoke func(context.Context) (T, error), fb func() T) (T, error) {
	a.total.Add(1)

	if !a.breaker.Allow() {
		a.fallback.Add(1)
		return fb(), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, a.budget(op))
	defer cancel()

	result, err := invoke(callCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			a.timeout.Add(1)
		} else {
			a.failure.Add(1)
		}
		a.breaker.OnFailure()
		a.fallback.Add(1)
		slog.Warn("Oracle call degraded to fallback", "op", op, "error", err)
		return fb(), nil
	}

	a.success.Add(1)
	a.breaker.OnSuccess()
	return result, nil
}

// UnderstandDemand implements Service.
func (a *Adapter) UnderstandDemand(ctx context.Context, req UnderstandRequest) (*Understanding, error) {
	return call(a, ctx, OpUnderstandDemand,
		func(ctx context.Context) (*Understanding, error) { return a.upstream.UnderstandDemand(ctx, req) },
		func() *Understanding { return fallbackUnderstanding(req) })
}

// FilterCandidates implements Service.
func (a *Adapter) FilterCandidates(ctx context.Context, req FilterRequest) ([]models.CandidateMatch, error) {
	return call(a, ctx, OpFilterCandidates,
		func(ctx context.Context) ([]models.CandidateMatch, error) { return a.upstream.FilterCandidates(ctx, req) },
		func() []models.CandidateMatch { return fallbackCandidates(req) })
}

// GenerateOfferResponse implements Service.
func (a *Adapter) GenerateOfferResponse(ctx context.Context, req GenerateOfferRequest) (*OfferDraft, error) {
	return call(a, ctx, OpGenerateOfferResponse,
		func(ctx context.Context) (*OfferDraft, error) { return a.upstream.GenerateOfferResponse(ctx, req) },
		func() *OfferDraft { return fallbackOfferDraft(req) })
}

// AggregateOffers implements Service.
func (a *Adapter) AggregateOffers(ctx context.Context, req AggregateRequest) (*models.Proposal, error) {
	return call(a, ctx, OpAggregateOffers,
		func(ctx context.Context) (*models.Proposal, error) { return a.upstream.AggregateOffers(ctx, req) },
		func() *models.Proposal { return fallbackProposal(req) })
}

// AdjustProposal implements Service.
func (a *Adapter) AdjustProposal(ctx context.Context, req AdjustRequest) (*Adjustment, error) {
	return call(a, ctx, OpAdjustProposal,
		func(ctx context.Context) (*Adjustment, error) { return a.upstream.AdjustProposal(ctx, req) },
		func() *Adjustment { return fallbackAdjustment(req) })
}

// IdentifyGaps implements Service.
func (a *Adapter) IdentifyGaps(ctx context.Context, req IdentifyGapsRequest) ([]models.Gap, error) {
	return call(a, ctx, OpIdentifyGaps,
		func(ctx context.Context) ([]models.Gap, error) { return a.upstream.IdentifyGaps(ctx, req) },
		func() []models.Gap { return fallbackGaps(req) })
}

// JudgeRecursion implements Service.
func (a *Adapter) JudgeRecursion(ctx context.Context, req JudgeRecursionRequest) ([]models.Gap, error) {
	return call(a, ctx, OpJudgeRecursion,
		func(ctx context.Context) ([]models.Gap, error) { return a.upstream.JudgeRecursion(ctx, req) },
		func() []models.Gap { return fallbackRecursion(req) })
}

// ReviewProposal implements Service.
func (a *Adapter) ReviewProposal(ctx context.Context, req ReviewRequest) (*FeedbackDraft, error) {
	return call(a, ctx, OpReviewProposal,
		func(ctx context.Context) (*FeedbackDraft, error) { return a.upstream.ReviewProposal(ctx, req) },
		func() *FeedbackDraft { return fallbackFeedback(req) })
}
