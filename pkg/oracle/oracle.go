// Package oracle shields the negotiation engine from the language-model
// dependency. The Service interface is the only way engine code reaches
// the oracle; the Adapter bounds every call with a deadline, a circuit
// breaker, and a deterministic fallback so the state machine can always
// make progress.
package oracle

import (
	"context"
	"time"

	"github.com/NatureBlueee/towow/pkg/models"
)

// Operation names, used for per-operation timeout budgets, fallback
// lookup, and stats.
const (
	OpUnderstandDemand      = "understand_demand"
	OpFilterCandidates      = "filter_candidates"
	OpGenerateOfferResponse = "generate_offer_response"
	OpAggregateOffers       = "aggregate_offers"
	OpAdjustProposal        = "adjust_proposal"
	OpIdentifyGaps          = "identify_gaps"
	OpJudgeRecursion        = "judge_recursion"
	OpReviewProposal        = "review_proposal"
)

// UnderstandRequest asks the oracle to interpret a raw demand text.
type UnderstandRequest struct {
	RawText     string `json:"raw_text"`
	SubmitterID string `json:"submitter_id"`
}

// Understanding is the oracle's reading of a demand.
type Understanding struct {
	Surface       string   `json:"surface"`
	Deep          string   `json:"deep"`
	Tags          []string `json:"tags"`
	Uncertainties []string `json:"uncertainties,omitempty"`
	Confidence    int      `json:"confidence"`
}

// FilterRequest asks the oracle to pick candidates for a demand.
// Focused filtering (sub-demands) supplies a single dominant capability
// and a smaller candidate cap.
type FilterRequest struct {
	Demand        *models.Demand        `json:"demand"`
	Profiles      []models.AgentProfile `json:"profiles"`
	Focused       bool                  `json:"focused,omitempty"`
	Capability    string                `json:"capability,omitempty"`
	MaxCandidates int                   `json:"max_candidates,omitempty"`
}

// GenerateOfferRequest asks the oracle to draft one candidate's offer.
type GenerateOfferRequest struct {
	Demand  *models.Demand      `json:"demand"`
	Profile models.AgentProfile `json:"profile"`
	Reason  string              `json:"reason,omitempty"`
}

// OfferDraft is the oracle's draft of an offer; the user agent fills in
// identity and channel fields.
type OfferDraft struct {
	Decision     models.OfferDecision `json:"decision"`
	Contribution string               `json:"contribution,omitempty"`
	Conditions   []string             `json:"conditions,omitempty"`
	Confidence   int                  `json:"confidence"`
	Rationale    string               `json:"rationale,omitempty"`
}

// AggregateRequest asks the oracle to fold offers into a proposal.
type AggregateRequest struct {
	Demand *models.Demand `json:"demand"`
	Offers []models.Offer `json:"offers"`
}

// AdjustRequest asks the oracle to revise a proposal given the
// negotiate/withdraw feedback of the current round.
type AdjustRequest struct {
	Proposal  models.Proposal   `json:"proposal"`
	Feedbacks []models.Feedback `json:"feedbacks"`
}

// Adjustment is the oracle's revised proposal plus its judgement on
// whether another round is worthwhile.
type Adjustment struct {
	Proposal       models.Proposal `json:"proposal"`
	ShouldContinue bool            `json:"should_continue"`
}

// IdentifyGapsRequest asks the oracle what the first proposal is missing.
type IdentifyGapsRequest struct {
	Demand   *models.Demand  `json:"demand"`
	Proposal models.Proposal `json:"proposal"`
}

// JudgeRecursionRequest asks the oracle which gaps are worth a bounded
// sub-negotiation given the remaining depth and time budget.
type JudgeRecursionRequest struct {
	Gaps          []models.Gap  `json:"gaps"`
	Depth         int           `json:"depth"`
	TimeRemaining time.Duration `json:"time_remaining"`
}

// ReviewRequest asks the oracle for one participant's verdict on a
// distributed proposal.
type ReviewRequest struct {
	Proposal   models.Proposal     `json:"proposal"`
	Assignment models.Assignment   `json:"assignment"`
	Profile    models.AgentProfile `json:"profile"`
	Round      int                 `json:"round"`
}

// FeedbackDraft is the oracle's draft of a participant's feedback.
type FeedbackDraft struct {
	Kind       models.FeedbackKind `json:"kind"`
	Adjustment string              `json:"adjustment,omitempty"`
	Rationale  string              `json:"rationale,omitempty"`
}

// Service is the typed oracle surface the engine consumes. Every
// implementation must be safe for concurrent use.
type Service interface {
	UnderstandDemand(ctx context.Context, req UnderstandRequest) (*Understanding, error)
	FilterCandidates(ctx context.Context, req FilterRequest) ([]models.CandidateMatch, error)
	GenerateOfferResponse(ctx context.Context, req GenerateOfferRequest) (*OfferDraft, error)
	AggregateOffers(ctx context.Context, req AggregateRequest) (*models.Proposal, error)
	AdjustProposal(ctx context.Context, req AdjustRequest) (*Adjustment, error)
	IdentifyGaps(ctx context.Context, req IdentifyGapsRequest) ([]models.Gap, error)
	JudgeRecursion(ctx context.Context, req JudgeRecursionRequest) ([]models.Gap, error)
	ReviewProposal(ctx context.Context, req ReviewRequest) (*FeedbackDraft, error)
}
