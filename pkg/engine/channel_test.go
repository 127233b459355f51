package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/towow/pkg/models"
)

func TestChannelTransitionTable(t *testing.T) {
	legal := [][2]ChannelState{
		{StateCreated, StateBroadcasting},
		{StateBroadcasting, StateCollecting},
		{StateCollecting, StateAggregating},
		{StateAggregating, StateProposalSent},
		{StateProposalSent, StateNegotiating},
		{StateNegotiating, StateCollecting},
		{StateNegotiating, StateFinalized},
		{StateNegotiating, StateFailed},
	}
	for _, edge := range legal {
		assert.True(t, canTransition(edge[0], edge[1]), "%s → %s should be legal", edge[0], edge[1])
	}

	illegal := [][2]ChannelState{
		{StateCreated, StateCollecting},
		{StateCollecting, StateProposalSent},
		{StateNegotiating, StateProposalSent},
		{StateProposalSent, StateFinalized},
		{StateProposalSent, StateAggregating},
		{StateFinalized, StateNegotiating},
		{StateFailed, StateBroadcasting},
		{StateFinalized, StateFailed},
	}
	for _, edge := range illegal {
		assert.False(t, canTransition(edge[0], edge[1]), "%s → %s should be illegal", edge[0], edge[1])
	}
}

func TestChannelTransitionRejectsIllegalEdge(t *testing.T) {
	ch := newChannel("collab-1", models.NewDemand("x", "u0"), []string{"alice"})
	require.NoError(t, ch.transition(StateBroadcasting))
	err := ch.transition(StateAggregating)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid channel transition")
	assert.Equal(t, StateBroadcasting, ch.State, "failed transition leaves state unchanged")
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateFinalized.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateNegotiating.Terminal())
	assert.False(t, StateCreated.Terminal())
}

func TestViableOffersKeepsInvitationOrder(t *testing.T) {
	ch := newChannel("collab-1", models.NewDemand("x", "u0"), []string{"alice", "bob", "carol"})
	ch.Offers["carol"] = &models.Offer{AgentID: "carol", Decision: models.DecisionConditional}
	ch.Offers["alice"] = &models.Offer{AgentID: "alice", Decision: models.DecisionParticipate}
	ch.Offers["bob"] = &models.Offer{AgentID: "bob", Decision: models.DecisionDecline, Rationale: "busy"}

	viable := ch.viableOffers()
	require.Len(t, viable, 2)
	assert.Equal(t, "alice", viable[0].AgentID)
	assert.Equal(t, "carol", viable[1].AgentID)
}

func TestUnresolvedGaps(t *testing.T) {
	ch := newChannel("collab-1", models.NewDemand("x", "u0"), nil)
	ch.Gaps = []models.Gap{
		{ID: "g1", Capability: "plumbing"},
		{ID: "g2", Capability: "wiring"},
		{ID: "g3", Capability: "roofing"},
	}
	ch.Outcomes = []models.SubnetOutcome{
		{GapID: "g1", Succeeded: true},
		{GapID: "g2", Succeeded: false, Reason: "no_candidates"},
	}

	unresolved := ch.unresolvedGaps()
	require.Len(t, unresolved, 2)
	assert.Equal(t, "g2", unresolved[0].ID)
	assert.Equal(t, "g3", unresolved[1].ID)
}

func TestChannelSnapshotIsDetached(t *testing.T) {
	ch := newChannel("collab-1", models.NewDemand("x", "u0"), []string{"alice"})
	ch.Proposal = &models.Proposal{ChannelID: "collab-1", Version: 1}

	s := ch.snapshot()
	s.Proposal.Version = 99
	s.Invited[0] = "mallory"

	assert.Equal(t, 1, ch.Proposal.Version)
	assert.Equal(t, "alice", ch.Invited[0])
}
