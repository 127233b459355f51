package oracle

import (
	"time"

	"github.com/NatureBlueee/towow/pkg/models"
)

// Fallback records are returned whenever an oracle call times out,
// fails, or is short-circuited by an open breaker. They are
// deterministic for a given request and shaped so downstream engine
// code stays well-formed: the state machine degrades, it never wedges.

const fallbackNote = "oracle unavailable"

func fallbackUnderstanding(req UnderstandRequest) *Understanding {
	return &Understanding{
		Surface:       req.RawText,
		Deep:          "",
		Tags:          []string{},
		Uncertainties: []string{fallbackNote},
		Confidence:    10,
	}
}

func fallbackCandidates(FilterRequest) []models.CandidateMatch {
	return []models.CandidateMatch{}
}

func fallbackOfferDraft(GenerateOfferRequest) *OfferDraft {
	return &OfferDraft{
		Decision:   models.DecisionDecline,
		Confidence: 0,
		Rationale:  fallbackNote,
	}
}

// fallbackProposal builds a low-confidence placeholder proposal from the
// non-declining offers so the channel can still reach a (degraded)
// resolution during an oracle outage.
func fallbackProposal(req AggregateRequest) *models.Proposal {
	var assignments []models.Assignment
	for _, o := range req.Offers {
		if o.Decision == models.DecisionDecline {
			continue
		}
		assignments = append(assignments, models.Assignment{
			AgentID:        o.AgentID,
			Role:           "participant",
			Responsibility: o.Contribution,
		})
	}
	channelID := ""
	if len(req.Offers) > 0 {
		channelID = req.Offers[0].ChannelID
	}
	return &models.Proposal{
		ChannelID:     channelID,
		Summary:       "proposal unavailable: oracle degraded",
		Assignments:   assignments,
		OpenQuestions: []string{fallbackNote},
		Confidence:    10,
		CreatedAt:     time.Now(),
	}
}

func fallbackAdjustment(req AdjustRequest) *Adjustment {
	return &Adjustment{Proposal: req.Proposal, ShouldContinue: false}
}

func fallbackGaps(IdentifyGapsRequest) []models.Gap {
	return []models.Gap{}
}

func fallbackRecursion(JudgeRecursionRequest) []models.Gap {
	return []models.Gap{}
}

func fallbackFeedback(ReviewRequest) *FeedbackDraft {
	return &FeedbackDraft{
		Kind:      models.FeedbackAccept,
		Rationale: fallbackNote + " (auto-accept)",
	}
}
