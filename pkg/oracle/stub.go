package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NatureBlueee/towow/pkg/models"
)

// StubService is a deterministic, LLM-free oracle. It powers the
// "stub" oracle mode and the test suite. Every operation
// has a capability-matching default and an optional per-operation
// override hook so tests can script exact trajectories.
type StubService struct {
	UnderstandFunc func(ctx context.Context, req UnderstandRequest) (*Understanding, error)
	FilterFunc     func(ctx context.Context, req FilterRequest) ([]models.CandidateMatch, error)
	OfferFunc      func(ctx context.Context, req GenerateOfferRequest) (*OfferDraft, error)
	AggregateFunc  func(ctx context.Context, req AggregateRequest) (*models.Proposal, error)
	AdjustFunc     func(ctx context.Context, req AdjustRequest) (*Adjustment, error)
	GapsFunc       func(ctx context.Context, req IdentifyGapsRequest) ([]models.Gap, error)
	RecursionFunc  func(ctx context.Context, req JudgeRecursionRequest) ([]models.Gap, error)
	ReviewFunc     func(ctx context.Context, req ReviewRequest) (*FeedbackDraft, error)
}

var _ Service = (*StubService)(nil)

// NewStubService creates a stub with all default behaviors.
func NewStubService() *StubService {
	return &StubService{}
}

// UnderstandDemand tokenizes the raw text into capability tags.
func (s *StubService) UnderstandDemand(ctx context.Context, req UnderstandRequest) (*Understanding, error) {
	if s.UnderstandFunc != nil {
		return s.UnderstandFunc(ctx, req)
	}
	return &Understanding{
		Surface:    req.RawText,
		Deep:       "collaboration request: " + req.RawText,
		Tags:       extractTags(req.RawText),
		Confidence: 80,
	}, nil
}

// FilterCandidates selects profiles whose capabilities intersect the
// demand's tags (or the single dominant capability when focused).
func (s *StubService) FilterCandidates(ctx context.Context, req FilterRequest) ([]models.CandidateMatch, error) {
	if s.FilterFunc != nil {
		return s.FilterFunc(ctx, req)
	}
	max := req.MaxCandidates
	if max <= 0 {
		max = 20
	}
	tags := req.Demand.Tags
	if req.Focused && req.Capability != "" {
		tags = []string{req.Capability}
	}

	var matches []models.CandidateMatch
	for _, p := range req.Profiles {
		for _, tag := range tags {
			if p.HasCapability(tag) {
				matches = append(matches, models.CandidateMatch{
					AgentID: p.ID,
					Reason:  "capability match: " + tag,
				})
				break
			}
		}
		if len(matches) >= max {
			break
		}
	}
	return matches, nil
}

// GenerateOfferResponse participates when the profile matches a demand
// tag, otherwise declines.
func (s *StubService) GenerateOfferResponse(ctx context.Context, req GenerateOfferRequest) (*OfferDraft, error) {
	if s.OfferFunc != nil {
		return s.OfferFunc(ctx, req)
	}
	for _, tag := range req.Demand.Tags {
		if req.Profile.HasCapability(tag) {
			return &OfferDraft{
				Decision:     models.DecisionParticipate,
				Contribution: fmt.Sprintf("%s can contribute %s", req.Profile.DisplayName, tag),
				Confidence:   75,
			}, nil
		}
	}
	return &OfferDraft{
		Decision:   models.DecisionDecline,
		Confidence: 20,
		Rationale:  "no matching capability",
	}, nil
}

// AggregateOffers assigns a role to every non-declining offer.
func (s *StubService) AggregateOffers(ctx context.Context, req AggregateRequest) (*models.Proposal, error) {
	if s.AggregateFunc != nil {
		return s.AggregateFunc(ctx, req)
	}
	var assignments []models.Assignment
	for _, o := range req.Offers {
		if o.Decision == models.DecisionDecline {
			continue
		}
		assignments = append(assignments, models.Assignment{
			AgentID:            o.AgentID,
			Role:               "participant",
			Responsibility:     o.Contribution,
			ConditionsAccepted: len(o.Conditions) > 0,
		})
	}
	return &models.Proposal{
		ChannelID:   channelIDOf(req.Offers),
		Summary:     "collaboration plan for: " + req.Demand.RawText,
		Assignments: assignments,
		Timeline:    "to be scheduled",
		Confidence:  70,
		CreatedAt:   time.Now(),
	}, nil
}

// AdjustProposal appends the requested adjustments to the summary.
func (s *StubService) AdjustProposal(ctx context.Context, req AdjustRequest) (*Adjustment, error) {
	if s.AdjustFunc != nil {
		return s.AdjustFunc(ctx, req)
	}
	revised := req.Proposal
	for _, f := range req.Feedbacks {
		if f.Kind == models.FeedbackNegotiate && f.Adjustment != "" {
			revised.Summary += "; adjusted: " + f.Adjustment
		}
	}
	return &Adjustment{Proposal: revised, ShouldContinue: true}, nil
}

// IdentifyGaps finds nothing by default; tests script gaps explicitly.
func (s *StubService) IdentifyGaps(ctx context.Context, req IdentifyGapsRequest) ([]models.Gap, error) {
	if s.GapsFunc != nil {
		return s.GapsFunc(ctx, req)
	}
	return nil, nil
}

// JudgeRecursion selects gaps with importance >= 60, fewer the deeper
// the channel sits.
func (s *StubService) JudgeRecursion(ctx context.Context, req JudgeRecursionRequest) ([]models.Gap, error) {
	if s.RecursionFunc != nil {
		return s.RecursionFunc(ctx, req)
	}
	var selected []models.Gap
	for _, g := range req.Gaps {
		if g.Importance >= 60 {
			selected = append(selected, g)
		}
	}
	if req.Depth > 0 && len(selected) > 1 {
		selected = selected[:1]
	}
	return selected, nil
}

// ReviewProposal accepts by default.
func (s *StubService) ReviewProposal(ctx context.Context, req ReviewRequest) (*FeedbackDraft, error) {
	if s.ReviewFunc != nil {
		return s.ReviewFunc(ctx, req)
	}
	return &FeedbackDraft{Kind: models.FeedbackAccept, Rationale: "assignment fits profile"}, nil
}

// extractTags lowercases and keeps distinct words of 4+ runes, capped at 8.
func extractTags(text string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len([]rune(w)) < 4 || seen[w] {
			continue
		}
		seen[w] = true
		tags = append(tags, w)
		if len(tags) == 8 {
			break
		}
	}
	return tags
}

func channelIDOf(offers []models.Offer) string {
	if len(offers) == 0 {
		return ""
	}
	return offers[0].ChannelID
}
