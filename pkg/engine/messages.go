package engine

import (
	"context"
	"log/slog"

	"github.com/NatureBlueee/towow/pkg/models"
	"github.com/NatureBlueee/towow/pkg/router"
)

// DemandInvite is the payload of a demand_offer message: an invitation
// for a user agent to respond to a demand.
type DemandInvite struct {
	ChannelID string
	Demand    models.Demand
	// Reason is the oracle's explanation of why this agent was matched.
	Reason string
}

// ReviewRequest is the payload of a proposal_review message.
type ReviewRequest struct {
	ChannelID string
	Proposal  models.Proposal
	Round     int
}

// SubnetRequest is the payload of a subnet_demand message: a capability
// gap handed to the coordinator for a bounded sub-negotiation.
type SubnetRequest struct {
	Gap             models.Gap
	ParentChannelID string
	ParentDemandID  string
	// Depth is the depth of the sub-channel to create (parent depth + 1).
	Depth int
}

// SendFunc dispatches a message through the router, absorbing delivery
// errors. Agents fire and forget; the router's at-most-once guarantee
// and the channel deadlines cover the failure modes.
type SendFunc func(ctx context.Context, msg router.Message)

// newSendFunc wraps a router into a SendFunc that logs failed
// deliveries instead of propagating them.
func newSendFunc(rt *router.Router) SendFunc {
	return func(ctx context.Context, msg router.Message) {
		result, err := rt.Send(ctx, msg)
		if err != nil {
			slog.Warn("Message delivery failed",
				"type", msg.Type, "recipient", msg.Recipient,
				"channel_id", msg.ChannelID, "result", result, "error", err)
		}
	}
}
