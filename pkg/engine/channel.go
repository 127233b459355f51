package engine

import (
	"fmt"
	"time"

	"github.com/NatureBlueee/towow/pkg/models"
)

// ChannelState is a negotiation channel's lifecycle phase.
type ChannelState string

// Channel lifecycle states. A channel moves strictly forward through
// the happy path; an adjustment round re-enters the cycle at
// COLLECTING and flows through AGGREGATING back to PROPOSAL_SENT.
const (
	StateCreated      ChannelState = "created"
	StateBroadcasting ChannelState = "broadcasting"
	StateCollecting   ChannelState = "collecting"
	StateAggregating  ChannelState = "aggregating"
	StateProposalSent ChannelState = "proposal_sent"
	StateNegotiating  ChannelState = "negotiating"
	StateFinalized    ChannelState = "finalized"
	StateFailed       ChannelState = "failed"
)

// validTransitions is the complete transition table. Any edge not
// listed here is a protocol violation and fails the channel.
var validTransitions = map[ChannelState][]ChannelState{
	StateCreated:      {StateBroadcasting, StateFailed},
	StateBroadcasting: {StateCollecting, StateFailed},
	StateCollecting:   {StateAggregating, StateFailed},
	StateAggregating:  {StateProposalSent, StateFailed},
	StateProposalSent: {StateNegotiating, StateFailed},
	StateNegotiating:  {StateCollecting, StateFinalized, StateFailed},
	StateFinalized:    {},
	StateFailed:       {},
}

// Terminal reports whether the state admits no further transitions.
func (s ChannelState) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// canTransition reports whether from → to is a legal edge.
func canTransition(from, to ChannelState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Channel is the mutable negotiation record owned by the channel
// administrator. All mutation happens on the channel's own goroutine;
// snapshots for readers are taken under the administrator's lock.
type Channel struct {
	ID     string
	Demand *models.Demand
	State  ChannelState

	// Invited user IDs, in broadcast order. The offer map is keyed by
	// agent (user) ID; invitees absent at the collection deadline are
	// implicit declines.
	Invited []string
	Offers  map[string]*models.Offer

	// Proposal is the current version under review. Feedbacks holds the
	// current round's responses keyed by agent ID; Withdrawn accumulates
	// across rounds.
	Proposal  *models.Proposal
	Round     int
	Feedbacks map[string]*models.Feedback
	Withdrawn map[string]bool

	// Gap recursion bookkeeping. PendingSubnets is keyed by gap ID;
	// the value is the sub-channel ID once its outcome lands. Outcomes
	// holds results as they arrive.
	Gaps           []models.Gap
	PendingSubnets map[string]string
	Outcomes       []models.SubnetOutcome

	// Plan is set when the channel finalizes.
	Plan *models.Plan

	// Parent linkage for sub-channels; zero values for top level.
	ParentChannelID string
	GapID           string
	Depth           int

	CreatedAt time.Time
	// FailReason is set when State is failed.
	FailReason string
}

// newChannel creates a channel in the created state.
func newChannel(id string, demand *models.Demand, invited []string) *Channel {
	return &Channel{
		ID:              id,
		Demand:          demand,
		State:           StateCreated,
		Invited:         invited,
		Offers:          make(map[string]*models.Offer),
		Feedbacks:       make(map[string]*models.Feedback),
		Withdrawn:       make(map[string]bool),
		PendingSubnets:  make(map[string]string),
		ParentChannelID: demand.ParentChannelID,
		GapID:           demand.GapID,
		Depth:           demand.Depth,
		CreatedAt:       time.Now(),
	}
}

// transition moves the channel to the target state, rejecting any edge
// not in the table.
func (c *Channel) transition(to ChannelState) error {
	if !canTransition(c.State, to) {
		return fmt.Errorf("invalid channel transition %s → %s", c.State, to)
	}
	c.State = to
	return nil
}

// isSubChannel reports whether this channel resolves a parent's gap.
func (c *Channel) isSubChannel() bool {
	return c.ParentChannelID != ""
}

// viableOffers returns the non-declining offers in invitation order.
func (c *Channel) viableOffers() []models.Offer {
	out := make([]models.Offer, 0, len(c.Offers))
	for _, id := range c.Invited {
		o, ok := c.Offers[id]
		if ok && o.Decision != models.DecisionDecline {
			out = append(out, *o)
		}
	}
	return out
}

// unresolvedGaps returns identified gaps with no successful outcome,
// including gaps whose sub-channels are still pending.
func (c *Channel) unresolvedGaps() []models.Gap {
	resolved := make(map[string]bool, len(c.Outcomes))
	for _, o := range c.Outcomes {
		if o.Succeeded {
			resolved[o.GapID] = true
		}
	}
	var out []models.Gap
	for _, g := range c.Gaps {
		if !resolved[g.ID] {
			out = append(out, g)
		}
	}
	return out
}

// snapshot returns a shallow read-only copy for API consumers.
func (c *Channel) snapshot() ChannelSnapshot {
	s := ChannelSnapshot{
		ID:              c.ID,
		DemandID:        c.Demand.ID,
		State:           c.State,
		Round:           c.Round,
		Invited:         append([]string(nil), c.Invited...),
		OfferCount:      len(c.Offers),
		Depth:           c.Depth,
		ParentChannelID: c.ParentChannelID,
		CreatedAt:       c.CreatedAt,
		FailReason:      c.FailReason,
	}
	if c.Proposal != nil {
		p := *c.Proposal
		s.Proposal = &p
	}
	if c.Plan != nil {
		p := *c.Plan
		s.Plan = &p
	}
	return s
}

// ChannelSnapshot is a point-in-time view of a channel for readers
// outside the administrator's goroutine.
type ChannelSnapshot struct {
	ID              string           `json:"id"`
	DemandID        string           `json:"demand_id"`
	State           ChannelState     `json:"state"`
	Round           int              `json:"round"`
	Invited         []string         `json:"invited"`
	OfferCount      int              `json:"offer_count"`
	Proposal        *models.Proposal `json:"proposal,omitempty"`
	Plan            *models.Plan     `json:"plan,omitempty"`
	Depth           int              `json:"depth"`
	ParentChannelID string           `json:"parent_channel_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	FailReason      string           `json:"fail_reason,omitempty"`
}
