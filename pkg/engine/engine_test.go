package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NatureBlueee/towow/pkg/bus"
	"github.com/NatureBlueee/towow/pkg/config"
	"github.com/NatureBlueee/towow/pkg/models"
	"github.com/NatureBlueee/towow/pkg/oracle"
	"github.com/NatureBlueee/towow/pkg/profile"
)

const eventWait = 5 * time.Second

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.CollectionDeadline = 200 * time.Millisecond
	cfg.Engine.NegotiationDeadline = 200 * time.Millisecond
	return cfg
}

func gardenProfiles() *profile.MemoryRepository {
	return profile.NewMemoryRepository(
		models.AgentProfile{ID: "alice", DisplayName: "Alice", Capabilities: []string{"garden"}},
		models.AgentProfile{ID: "bob", DisplayName: "Bob", Capabilities: []string{"garden"}},
		models.AgentProfile{ID: "carol", DisplayName: "Carol", Capabilities: []string{"garden"}},
	)
}

func startEngine(t *testing.T, cfg *config.Config, upstream oracle.Service, repo profile.Repository) (*Engine, <-chan bus.Event) {
	t.Helper()
	eng := New(cfg, upstream, repo)
	feed, cancel := eng.Events().Subscribe("*", 256)
	t.Cleanup(func() {
		cancel()
		ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = eng.Shutdown(ctx)
	})
	return eng, feed
}

// collectUntil consumes the feed until an event of the wanted type
// arrives, returning everything seen including it.
func collectUntil(t *testing.T, feed <-chan bus.Event, eventType string) []bus.Event {
	t.Helper()
	deadline := time.After(eventWait)
	var seen []bus.Event
	for {
		select {
		case evt := <-feed:
			seen = append(seen, evt)
			if evt.Type == eventType {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, saw %v", eventType, eventTypes(seen))
			return nil
		}
	}
}

func eventTypes(events []bus.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// requireOrdered asserts that wanted appears as an ordered subsequence
// of the observed event types.
func requireOrdered(t *testing.T, events []bus.Event, wanted ...string) {
	t.Helper()
	types := eventTypes(events)
	i := 0
	for _, typ := range types {
		if i < len(wanted) && typ == wanted[i] {
			i++
		}
	}
	require.Equal(t, len(wanted), i,
		"expected ordered subsequence %v in %v", wanted, types)
}

func countType(events []bus.Event, eventType string) int {
	n := 0
	for _, e := range events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func findType(events []bus.Event, eventType string) (bus.Event, bool) {
	for _, e := range events {
		if e.Type == eventType {
			return e, true
		}
	}
	return bus.Event{}, false
}

func TestEngineHappyPathFinalizes(t *testing.T) {
	eng, feed := startEngine(t, testConfig(), oracle.NewStubService(), gardenProfiles())

	demand, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)
	require.NotEmpty(t, demand.ID)

	events := collectUntil(t, feed, bus.EventNegotiationFinalized)
	requireOrdered(t, events,
		bus.EventDemandSubmitted,
		bus.EventDemandUnderstood,
		bus.EventFilterCompleted,
		bus.EventChannelCreated,
		bus.EventDemandBroadcast,
		bus.EventOfferSubmitted,
		bus.EventProposalDistributed,
		bus.EventFeedbackSubmitted,
		bus.EventNegotiationFinalized,
	)
	assert.Equal(t, 3, countType(events, bus.EventOfferSubmitted))
	assert.Equal(t, 3, countType(events, bus.EventFeedbackSubmitted))
	assert.Equal(t, 0, countType(events, bus.EventRoundStarted),
		"round_started is only emitted for rounds after the first")

	created, _ := findType(events, bus.EventChannelCreated)
	channelID := created.Payload["channel_id"].(string)
	snap, ok := eng.Channel(channelID)
	require.True(t, ok)
	assert.Equal(t, StateFinalized, snap.State)
	require.NotNil(t, snap.Plan)
	assert.Equal(t, 1, snap.Plan.Rounds)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"},
		snap.Proposal.ParticipantIDs())
}

func TestEngineInsufficientCandidatesFails(t *testing.T) {
	repo := profile.NewMemoryRepository(
		models.AgentProfile{ID: "alice", DisplayName: "Alice", Capabilities: []string{"garden"}},
	)
	eng, feed := startEngine(t, testConfig(), oracle.NewStubService(), repo)

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	events := collectUntil(t, feed, bus.EventNegotiationFailed)
	failed, _ := findType(events, bus.EventNegotiationFailed)
	assert.Equal(t, FailNoCandidates, failed.Payload["reason"])
	assert.Equal(t, 0, countType(events, bus.EventChannelCreated))
}

func TestEngineNegotiationRoundsConverge(t *testing.T) {
	stub := oracle.NewStubService()
	stub.ReviewFunc = func(_ context.Context, req oracle.ReviewRequest) (*oracle.FeedbackDraft, error) {
		if req.Proposal.Version == 1 && req.Profile.ID == "alice" {
			return &oracle.FeedbackDraft{
				Kind:       models.FeedbackNegotiate,
				Adjustment: "move the build to Saturday",
			}, nil
		}
		return &oracle.FeedbackDraft{Kind: models.FeedbackAccept}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	events := collectUntil(t, feed, bus.EventNegotiationFinalized)
	assert.Equal(t, 2, countType(events, bus.EventProposalDistributed),
		"one adjustment round before convergence")
	assert.Equal(t, 1, countType(events, bus.EventRoundStarted))

	created, _ := findType(events, bus.EventChannelCreated)
	snap, ok := eng.Channel(created.Payload["channel_id"].(string))
	require.True(t, ok)
	assert.Equal(t, 2, snap.Plan.Rounds)
	assert.Equal(t, 2, snap.Plan.Version)
	assert.Contains(t, snap.Plan.Summary, "move the build to Saturday")
}

func TestEngineMajorityWithdrawalFails(t *testing.T) {
	stub := oracle.NewStubService()
	stub.ReviewFunc = func(_ context.Context, req oracle.ReviewRequest) (*oracle.FeedbackDraft, error) {
		if req.Profile.ID == "carol" {
			return &oracle.FeedbackDraft{Kind: models.FeedbackAccept}, nil
		}
		return &oracle.FeedbackDraft{Kind: models.FeedbackWithdraw, Rationale: "lost interest"}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	events := collectUntil(t, feed, bus.EventNegotiationFailed)
	failed, _ := findType(events, bus.EventNegotiationFailed)
	assert.Equal(t, FailMajorityRejected, failed.Payload["reason"])
}

// rolePlanStub aggregates offers into fixed per-agent roles so
// withdrawal scenarios can pin who holds what.
func rolePlanStub(roles map[string]string) *oracle.StubService {
	stub := oracle.NewStubService()
	stub.AggregateFunc = func(_ context.Context, req oracle.AggregateRequest) (*models.Proposal, error) {
		var assignments []models.Assignment
		for _, o := range req.Offers {
			if o.Decision == models.DecisionDecline {
				continue
			}
			assignments = append(assignments, models.Assignment{
				AgentID: o.AgentID,
				Role:    roles[o.AgentID],
			})
		}
		return &models.Proposal{
			Summary:     "meetup plan",
			Assignments: assignments,
			Confidence:  70,
		}, nil
	}
	return stub
}

func TestEngineSoleRoleHolderWithdrawalFails(t *testing.T) {
	stub := rolePlanStub(map[string]string{
		"alice": "venue",
		"bob":   "speaker",
		"carol": "organizer",
	})
	stub.ReviewFunc = func(_ context.Context, req oracle.ReviewRequest) (*oracle.FeedbackDraft, error) {
		if req.Profile.ID == "alice" {
			return &oracle.FeedbackDraft{Kind: models.FeedbackWithdraw, Rationale: "double-booked"}, nil
		}
		return &oracle.FeedbackDraft{Kind: models.FeedbackAccept}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	// Nobody else holds the venue role, so the withdrawal ends the
	// negotiation in round 1 instead of pruning into another round.
	events := collectUntil(t, feed, bus.EventNegotiationFailed)
	failed, _ := findType(events, bus.EventNegotiationFailed)
	assert.Equal(t, FailCoreWithdrew, failed.Payload["reason"])
	assert.Equal(t, 1, countType(events, bus.EventProposalDistributed))
}

func TestEngineAbsorbedWithdrawalContinues(t *testing.T) {
	stub := rolePlanStub(map[string]string{
		"alice": "venue",
		"bob":   "venue",
		"carol": "organizer",
	})
	stub.ReviewFunc = func(_ context.Context, req oracle.ReviewRequest) (*oracle.FeedbackDraft, error) {
		if req.Proposal.Version == 1 && req.Profile.ID == "alice" {
			return &oracle.FeedbackDraft{Kind: models.FeedbackWithdraw, Rationale: "double-booked"}, nil
		}
		return &oracle.FeedbackDraft{Kind: models.FeedbackAccept}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	// Bob also holds venue, so the channel prunes alice and converges
	// in the next round.
	events := collectUntil(t, feed, bus.EventNegotiationFinalized)
	assert.Equal(t, 2, countType(events, bus.EventProposalDistributed))

	created, _ := findType(events, bus.EventChannelCreated)
	snap, ok := eng.Channel(created.Payload["channel_id"].(string))
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"bob", "carol"}, snap.Proposal.ParticipantIDs())
}

func TestEngineSingleWillingParticipantFinalizes(t *testing.T) {
	stub := oracle.NewStubService()
	stub.OfferFunc = func(_ context.Context, req oracle.GenerateOfferRequest) (*oracle.OfferDraft, error) {
		if req.Profile.ID != "alice" {
			return &oracle.OfferDraft{
				Decision:   models.DecisionDecline,
				Confidence: 10,
				Rationale:  "no time this month",
			}, nil
		}
		return &oracle.OfferDraft{
			Decision:     models.DecisionParticipate,
			Contribution: "Alice runs it solo",
			Confidence:   85,
		}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	// One willing invitee is enough to aggregate a plan.
	events := collectUntil(t, feed, bus.EventNegotiationFinalized)
	assert.Equal(t, 3, countType(events, bus.EventOfferSubmitted))

	created, _ := findType(events, bus.EventChannelCreated)
	snap, ok := eng.Channel(created.Payload["channel_id"].(string))
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, snap.Proposal.ParticipantIDs())
}

func TestEngineAllDeclinesFailNoResponses(t *testing.T) {
	stub := oracle.NewStubService()
	stub.OfferFunc = func(_ context.Context, req oracle.GenerateOfferRequest) (*oracle.OfferDraft, error) {
		return &oracle.OfferDraft{
			Decision:   models.DecisionDecline,
			Confidence: 10,
			Rationale:  "not interested",
		}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	events := collectUntil(t, feed, bus.EventNegotiationFailed)
	failed, _ := findType(events, bus.EventNegotiationFailed)
	assert.Equal(t, FailNoResponses, failed.Payload["reason"])
	assert.Equal(t, 0, countType(events, bus.EventProposalDistributed))
}

func TestEngineAggregationConfinedToResponders(t *testing.T) {
	stub := oracle.NewStubService()
	stub.AggregateFunc = func(_ context.Context, req oracle.AggregateRequest) (*models.Proposal, error) {
		// A misbehaving oracle names an agent that was never invited.
		assignments := []models.Assignment{{AgentID: "mallory", Role: "organizer"}}
		for _, o := range req.Offers {
			assignments = append(assignments, models.Assignment{
				AgentID: o.AgentID,
				Role:    "participant",
			})
		}
		return &models.Proposal{
			Summary:     "plan with a stowaway",
			Assignments: assignments,
			Confidence:  70,
		}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	events := collectUntil(t, feed, bus.EventNegotiationFinalized)
	assert.Equal(t, 3, countType(events, bus.EventFeedbackSubmitted),
		"only real responders review the proposal")

	created, _ := findType(events, bus.EventChannelCreated)
	snap, ok := eng.Channel(created.Payload["channel_id"].(string))
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"},
		snap.Proposal.ParticipantIDs())
	for _, a := range snap.Plan.Assignments {
		assert.NotEqual(t, "mallory", a.AgentID)
	}
}

func TestEngineAdjustmentConfinedToResponders(t *testing.T) {
	stub := oracle.NewStubService()
	stub.ReviewFunc = func(_ context.Context, req oracle.ReviewRequest) (*oracle.FeedbackDraft, error) {
		if req.Proposal.Version == 1 && req.Profile.ID == "bob" {
			return &oracle.FeedbackDraft{
				Kind:       models.FeedbackNegotiate,
				Adjustment: "add a rain date",
			}, nil
		}
		return &oracle.FeedbackDraft{Kind: models.FeedbackAccept}, nil
	}
	stub.AdjustFunc = func(_ context.Context, req oracle.AdjustRequest) (*oracle.Adjustment, error) {
		revised := req.Proposal
		revised.Assignments = append(append([]models.Assignment(nil), revised.Assignments...),
			models.Assignment{AgentID: "mallory", Role: "speaker"})
		return &oracle.Adjustment{Proposal: revised, ShouldContinue: true}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	events := collectUntil(t, feed, bus.EventNegotiationFinalized)
	assert.Equal(t, 2, countType(events, bus.EventProposalDistributed))

	created, _ := findType(events, bus.EventChannelCreated)
	snap, ok := eng.Channel(created.Payload["channel_id"].(string))
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"},
		snap.Proposal.ParticipantIDs())
}

func TestEngineEventPayloadContract(t *testing.T) {
	stub := oracle.NewStubService()
	stub.GapsFunc = func(_ context.Context, req oracle.IdentifyGapsRequest) ([]models.Gap, error) {
		return []models.Gap{{ID: "g1", Description: "needs a photographer",
			Capability: "photography", Importance: 40}}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)
	events := collectUntil(t, feed, bus.EventNegotiationFinalized)

	understood, _ := findType(events, bus.EventDemandUnderstood)
	assert.NotEmpty(t, understood.Payload["deep"])

	filtered, _ := findType(events, bus.EventFilterCompleted)
	candidates, ok := filtered.Payload["candidates"].([]models.CandidateMatch)
	require.True(t, ok, "filter.completed carries the candidate list")
	assert.Len(t, candidates, 3)
	assert.NotEmpty(t, candidates[0].Reason)

	created, _ := findType(events, bus.EventChannelCreated)
	invitees, ok := created.Payload["invitees"].([]string)
	require.True(t, ok, "channel.created carries the invitee list")
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, invitees)

	offer, _ := findType(events, bus.EventOfferSubmitted)
	assert.Contains(t, offer.Payload, "confidence")

	gapped, _ := findType(events, bus.EventGapIdentified)
	gaps, ok := gapped.Payload["gaps"].([]models.Gap)
	require.True(t, ok, "gap.identified carries the gap list")
	require.Len(t, gaps, 1)
	assert.Equal(t, "g1", gaps[0].ID)
	assert.Equal(t, 1, countType(events, bus.EventGapIdentified))

	finalized, _ := findType(events, bus.EventNegotiationFinalized)
	plan, ok := finalized.Payload["final_proposal"].(*models.Plan)
	require.True(t, ok, "negotiation.finalized carries the final plan")
	assert.Len(t, plan.Assignments, 3)
}

func TestEngineInvalidOfferDroppedCollectionDeadlineProceeds(t *testing.T) {
	stub := oracle.NewStubService()
	stub.OfferFunc = func(_ context.Context, req oracle.GenerateOfferRequest) (*oracle.OfferDraft, error) {
		if req.Profile.ID == "carol" {
			// Out-of-range confidence makes the offer invalid; the
			// administrator must discard it and rely on the deadline.
			return &oracle.OfferDraft{Decision: models.DecisionParticipate, Confidence: 150}, nil
		}
		return &oracle.OfferDraft{
			Decision:     models.DecisionParticipate,
			Contribution: req.Profile.DisplayName + " helps",
			Confidence:   80,
		}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	events := collectUntil(t, feed, bus.EventNegotiationFinalized)
	assert.GreaterOrEqual(t, countType(events, bus.EventProtocolViolation), 1)
	assert.Equal(t, 2, countType(events, bus.EventOfferSubmitted))

	created, _ := findType(events, bus.EventChannelCreated)
	snap, _ := eng.Channel(created.Payload["channel_id"].(string))
	assert.ElementsMatch(t, []string{"alice", "bob"}, snap.Proposal.ParticipantIDs())
}

func TestEngineOracleOutageDegradesGracefully(t *testing.T) {
	broken := &oracle.StubService{
		UnderstandFunc: func(context.Context, oracle.UnderstandRequest) (*oracle.Understanding, error) {
			return nil, errors.New("model unavailable")
		},
		FilterFunc: func(context.Context, oracle.FilterRequest) ([]models.CandidateMatch, error) {
			return nil, errors.New("model unavailable")
		},
	}
	eng, feed := startEngine(t, testConfig(), broken, gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	// Fallback understanding has no tags, the fallback filter has no
	// candidates: the demand fails cleanly instead of wedging.
	events := collectUntil(t, feed, bus.EventNegotiationFailed)
	failed, _ := findType(events, bus.EventNegotiationFailed)
	assert.Equal(t, FailNoCandidates, failed.Payload["reason"])

	stats := eng.OracleStats()
	assert.GreaterOrEqual(t, stats.Fallback, int64(2))
	assert.Zero(t, stats.Success)
}

func TestEngineSubnetRecursion(t *testing.T) {
	repo := profile.NewMemoryRepository(
		models.AgentProfile{ID: "alice", DisplayName: "Alice", Capabilities: []string{"garden"}},
		models.AgentProfile{ID: "bob", DisplayName: "Bob", Capabilities: []string{"garden"}},
		models.AgentProfile{ID: "dave", DisplayName: "Dave", Capabilities: []string{"plumbing"}},
		models.AgentProfile{ID: "erin", DisplayName: "Erin", Capabilities: []string{"plumbing"}},
	)
	stub := oracle.NewStubService()
	stub.GapsFunc = func(_ context.Context, req oracle.IdentifyGapsRequest) ([]models.Gap, error) {
		if req.Demand.IsSubDemand() {
			return nil, nil
		}
		return []models.Gap{{
			ID:          "g1",
			Description: "irrigation needs plumbing work",
			Capability:  "plumbing",
			Importance:  80,
		}}, nil
	}
	eng, feed := startEngine(t, testConfig(), stub, repo)

	_, err := eng.SubmitDemand(context.Background(), "organize the community garden", "host")
	require.NoError(t, err)

	// Both the parent and the sub-channel must finalize.
	var events []bus.Event
	finalized := 0
	deadline := time.After(eventWait)
	for finalized < 2 {
		select {
		case evt := <-feed:
			events = append(events, evt)
			if evt.Type == bus.EventNegotiationFinalized {
				finalized++
			}
		case <-deadline:
			t.Fatalf("saw %d finalizations, events %v", finalized, eventTypes(events))
		}
	}

	requireOrdered(t, events,
		bus.EventGapIdentified,
		bus.EventSubnetTriggered,
		bus.EventChannelCreated,
	)
	assert.Equal(t, 2, countType(events, bus.EventChannelCreated))

	triggered, _ := findType(events, bus.EventSubnetTriggered)
	assert.Equal(t, "g1", triggered.Payload["gap_id"])
	assert.Equal(t, 1, triggered.Payload["depth"])

	// The sub-channel sits at depth 1 and invited the plumbers.
	var sub ChannelSnapshot
	for _, snap := range eng.Channels() {
		if snap.Depth == 1 {
			sub = snap
		}
	}
	require.NotEmpty(t, sub.ID)
	assert.Equal(t, sub.ID, triggered.Payload["sub_channel_id"])
	assert.Equal(t, sub.ParentChannelID, triggered.Payload["parent_channel_id"])
	assert.ElementsMatch(t, []string{"dave", "erin"}, sub.Invited)
	assert.Equal(t, StateFinalized, sub.State)
}

func TestEngineRejectsEmptySubmissions(t *testing.T) {
	eng, _ := startEngine(t, testConfig(), oracle.NewStubService(), gardenProfiles())

	_, err := eng.SubmitDemand(context.Background(), "   ", "host")
	assert.Error(t, err)
	_, err = eng.SubmitDemand(context.Background(), "real demand", "")
	assert.Error(t, err)
}
