package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OfferDecision is a candidate's answer to a demand invitation.
type OfferDecision string

// Offer decision values.
const (
	DecisionParticipate OfferDecision = "participate"
	DecisionDecline     OfferDecision = "decline"
	DecisionConditional OfferDecision = "conditional"
)

// ParseOfferDecision validates a wire-level decision string.
func ParseOfferDecision(s string) (OfferDecision, error) {
	switch OfferDecision(s) {
	case DecisionParticipate, DecisionDecline, DecisionConditional:
		return OfferDecision(s), nil
	}
	return "", fmt.Errorf("invalid offer decision %q", s)
}

// Offer is a candidate's response to a demand broadcast. Immutable once
// recorded by the channel administrator.
type Offer struct {
	ID           string        `json:"id"`
	DemandID     string        `json:"demand_id"`
	ChannelID    string        `json:"channel_id"`
	AgentID      string        `json:"agent_id"`
	Decision     OfferDecision `json:"decision"`
	Contribution string        `json:"contribution,omitempty"`
	Conditions   []string      `json:"conditions,omitempty"`
	Confidence   int           `json:"confidence"`
	Rationale    string        `json:"rationale,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewOffer creates an offer for the given channel and responder.
func NewOffer(demandID, channelID, agentID string, decision OfferDecision) *Offer {
	return &Offer{
		ID:        uuid.New().String(),
		DemandID:  demandID,
		ChannelID: channelID,
		AgentID:   agentID,
		Decision:  decision,
		CreatedAt: time.Now(),
	}
}

// Validate checks the structural rules for offers: conditional offers
// must carry at least one condition, declines must carry a rationale.
func (o *Offer) Validate() error {
	if _, err := ParseOfferDecision(string(o.Decision)); err != nil {
		return err
	}
	if o.Decision == DecisionConditional && len(o.Conditions) == 0 {
		return fmt.Errorf("conditional offer from %s has no conditions", o.AgentID)
	}
	if o.Decision == DecisionDecline && o.Rationale == "" {
		return fmt.Errorf("decline from %s has no rationale", o.AgentID)
	}
	if o.Confidence < 0 || o.Confidence > 100 {
		return fmt.Errorf("offer confidence %d out of range [0,100]", o.Confidence)
	}
	return nil
}
