// Package router delivers typed messages between agent instances with
// fingerprint-based deduplication, guaranteeing at-most-once delivery
// per (sender, recipient, type, channel, nonce) tuple over a short
// window.
package router

import "context"

// MessageType identifies the kind of directed agent-to-agent message.
type MessageType string

// Message types used by the negotiation engine.
const (
	// TypeDemandOffer invites a user agent to respond to a demand.
	TypeDemandOffer MessageType = "demand_offer"
	// TypeOfferResponse carries a user agent's offer to the channel admin.
	TypeOfferResponse MessageType = "offer_response"
	// TypeProposalReview asks a participant to review a proposal version.
	TypeProposalReview MessageType = "proposal_review"
	// TypeFeedback carries a participant's feedback to the channel admin.
	TypeFeedback MessageType = "feedback"
	// TypeSubnetDemand hands a gap-derived sub-demand to the coordinator.
	TypeSubnetDemand MessageType = "subnet_demand"
	// TypeSubnetResult reports a sub-channel outcome to the parent admin.
	TypeSubnetResult MessageType = "subnet_result"
)

// Well-known agent names. Singletons are addressed by role name, user
// agents by UserAgentName(userID).
const (
	CoordinatorName  = "coordinator"
	ChannelAdminName = "channel_admin"
)

// UserAgentName returns the routing name for a user's agent.
func UserAgentName(userID string) string {
	return "user_agent_" + userID
}

// Message is one directed, typed message between agents.
type Message struct {
	Type      MessageType
	Sender    string
	Recipient string
	// ChannelID scopes the message to a negotiation channel; empty for
	// channel-less traffic (e.g. subnet demand intake).
	ChannelID string
	// Nonce distinguishes otherwise-identical messages that are both
	// legitimate (e.g. proposal reviews of successive rounds). Senders
	// set it to a round number or entity ID; redeliveries reuse it.
	Nonce string
	// Payload is a pointer to a typed record owned by the recipient
	// after delivery (engine message payloads, offers, feedback).
	Payload any
}

// Agent is anything the router can deliver to.
type Agent interface {
	Name() string
	HandleMessage(ctx context.Context, msg Message) error
}

// Directory resolves recipient names to agent instances. Implemented by
// the registry; the router never holds a back-reference to it beyond
// this interface.
type Directory interface {
	Resolve(ctx context.Context, name string) (Agent, error)
}
