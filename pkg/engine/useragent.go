package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/NatureBlueee/towow/pkg/models"
	"github.com/NatureBlueee/towow/pkg/oracle"
	"github.com/NatureBlueee/towow/pkg/router"
)

// UserAgent represents one human user in negotiations. It answers
// demand invitations with offers and proposal reviews with feedback,
// consulting the oracle for both. Handlers are idempotent: the router
// dedups redeliveries, and the agent additionally refuses to answer the
// same channel or proposal version twice.
type UserAgent struct {
	profile models.AgentProfile
	oracle  oracle.Service
	send    SendFunc

	mu       sync.Mutex
	answered map[string]bool
}

var _ router.Agent = (*UserAgent)(nil)

// NewUserAgent builds the agent for a profile.
func NewUserAgent(p models.AgentProfile, svc oracle.Service, send SendFunc) *UserAgent {
	return &UserAgent{
		profile:  p,
		oracle:   svc,
		send:     send,
		answered: make(map[string]bool),
	}
}

// Name implements router.Agent.
func (u *UserAgent) Name() string {
	return router.UserAgentName(u.profile.ID)
}

// HandleMessage implements router.Agent.
func (u *UserAgent) HandleMessage(ctx context.Context, msg router.Message) error {
	switch msg.Type {
	case router.TypeDemandOffer:
		invite, ok := msg.Payload.(*DemandInvite)
		if !ok {
			return fmt.Errorf("demand_offer payload is not an invite")
		}
		u.onInvite(ctx, invite)
		return nil
	case router.TypeProposalReview:
		review, ok := msg.Payload.(*ReviewRequest)
		if !ok {
			return fmt.Errorf("proposal_review payload is not a review request")
		}
		u.onReview(ctx, review)
		return nil
	default:
		return fmt.Errorf("user agent cannot handle message type %s", msg.Type)
	}
}

// claim marks a work key done, reporting whether this caller won it.
func (u *UserAgent) claim(key string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.answered[key] {
		return false
	}
	u.answered[key] = true
	return true
}

// onInvite drafts and submits this user's offer for a demand.
func (u *UserAgent) onInvite(ctx context.Context, invite *DemandInvite) {
	if !u.claim("offer:" + invite.ChannelID) {
		slog.Debug("Ignoring repeat invitation",
			"agent_id", u.profile.ID, "channel_id", invite.ChannelID)
		return
	}

	draft, _ := u.oracle.GenerateOfferResponse(ctx, oracle.GenerateOfferRequest{
		Demand:  &invite.Demand,
		Profile: u.profile,
		Reason:  invite.Reason,
	})

	offer := models.NewOffer(invite.Demand.ID, invite.ChannelID, u.profile.ID, draft.Decision)
	offer.Contribution = draft.Contribution
	offer.Conditions = draft.Conditions
	offer.Confidence = draft.Confidence
	offer.Rationale = draft.Rationale
	if offer.Decision == models.DecisionDecline && offer.Rationale == "" {
		offer.Rationale = "not a fit"
	}

	u.send(ctx, router.Message{
		Type:      router.TypeOfferResponse,
		Sender:    u.Name(),
		Recipient: router.ChannelAdminName,
		ChannelID: invite.ChannelID,
		Nonce:     invite.Demand.ID,
		Payload:   offer,
	})
}

// onReview drafts and submits this user's feedback on a proposal
// version. Successive versions are distinct work; redeliveries of the
// same version are not.
func (u *UserAgent) onReview(ctx context.Context, review *ReviewRequest) {
	key := "review:" + review.ChannelID + ":" + strconv.Itoa(review.Proposal.Version)
	if !u.claim(key) {
		slog.Debug("Ignoring repeat review request",
			"agent_id", u.profile.ID, "channel_id", review.ChannelID,
			"version", review.Proposal.Version)
		return
	}

	assignment, _ := review.Proposal.AssignmentFor(u.profile.ID)
	draft, _ := u.oracle.ReviewProposal(ctx, oracle.ReviewRequest{
		Proposal:   review.Proposal,
		Assignment: assignment,
		Profile:    u.profile,
		Round:      review.Round,
	})

	fb := &models.Feedback{
		ChannelID:  review.ChannelID,
		Version:    review.Proposal.Version,
		AgentID:    u.profile.ID,
		Kind:       draft.Kind,
		Adjustment: draft.Adjustment,
		Rationale:  draft.Rationale,
		CreatedAt:  time.Now(),
	}
	if fb.Kind == models.FeedbackNegotiate && fb.Adjustment == "" {
		fb.Kind = models.FeedbackAccept
	}

	u.send(ctx, router.Message{
		Type:      router.TypeFeedback,
		Sender:    u.Name(),
		Recipient: router.ChannelAdminName,
		ChannelID: review.ChannelID,
		Nonce:     strconv.Itoa(fb.Version),
		Payload:   fb,
	})
}
