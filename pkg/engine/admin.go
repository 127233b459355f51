package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NatureBlueee/towow/pkg/bus"
	"github.com/NatureBlueee/towow/pkg/config"
	"github.com/NatureBlueee/towow/pkg/models"
	"github.com/NatureBlueee/towow/pkg/oracle"
	"github.com/NatureBlueee/towow/pkg/router"
)

// Channel failure reasons, surfaced in negotiation.failed payloads.
const (
	FailNoResponses       = "no_responses"
	FailMajorityRejected  = "majority_rejected"
	FailCoreWithdrew      = "core_participant_withdrew"
	FailMaxRounds         = "max_rounds_no_consensus"
	FailInternal          = "internal"
	FailInvalidTransition = "internal.invalid_transition"
)

// mailboxDepth bounds a channel's pending work. Offers and feedback
// from at most MaxCandidates participants fit with ample headroom.
const mailboxDepth = 128

type channelEventKind int

const (
	evStart channelEventKind = iota
	evOffer
	evFeedback
	evSubnetResult
	evCollectDeadline
	evRoundDeadline
)

// channelEvent is one unit of work for a channel's run loop.
type channelEvent struct {
	kind     channelEventKind
	offer    *models.Offer
	feedback *models.Feedback
	outcome  *models.SubnetOutcome
	// round stamps deadline events so stale timers are ignored.
	round int
}

// channelRuntime pairs a channel with its mailbox and goroutine state.
type channelRuntime struct {
	mu      sync.Mutex
	ch      *Channel
	mailbox chan channelEvent
	// reasons holds the oracle's match reason per invited agent.
	reasons map[string]string

	// settled flips when the run loop observes a terminal state. It is
	// read without rt.mu because HandleMessage can be re-entered from a
	// dispatch that already holds the lock.
	settled atomic.Bool

	collectTimer *time.Timer
	roundTimer   *time.Timer
}

func (rt *channelRuntime) enqueue(ev channelEvent) bool {
	select {
	case rt.mailbox <- ev:
		return true
	default:
		return false
	}
}

func (rt *channelRuntime) stopTimers() {
	if rt.collectTimer != nil {
		rt.collectTimer.Stop()
	}
	if rt.roundTimer != nil {
		rt.roundTimer.Stop()
	}
}

// Administrator is the singleton channel administrator agent. It owns
// every negotiation channel: one goroutine per channel serializes that
// channel's state mutations while distinct channels progress in
// parallel.
type Administrator struct {
	cfg    *config.EngineConfig
	oracle oracle.Service
	bus    *bus.Bus
	send   SendFunc

	ctx context.Context
	wg  sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channelRuntime
	closed   bool
}

var _ router.Agent = (*Administrator)(nil)

// newAdministrator creates the administrator. The send function is
// wired by the engine once the router exists.
func newAdministrator(ctx context.Context, cfg *config.EngineConfig, svc oracle.Service, b *bus.Bus) *Administrator {
	return &Administrator{
		cfg:      cfg,
		oracle:   svc,
		bus:      b,
		ctx:      ctx,
		channels: make(map[string]*channelRuntime),
	}
}

// Name implements router.Agent.
func (a *Administrator) Name() string {
	return router.ChannelAdminName
}

// HandleMessage implements router.Agent. Messages are enqueued onto the
// target channel's mailbox; processing is asynchronous.
func (a *Administrator) HandleMessage(ctx context.Context, msg router.Message) error {
	var ev channelEvent
	channelID := msg.ChannelID

	switch msg.Type {
	case router.TypeOfferResponse:
		offer, ok := msg.Payload.(*models.Offer)
		if !ok {
			return a.violation(channelID, msg, "offer_response payload is not an offer")
		}
		if channelID == "" {
			channelID = offer.ChannelID
		}
		ev = channelEvent{kind: evOffer, offer: offer}
	case router.TypeFeedback:
		fb, ok := msg.Payload.(*models.Feedback)
		if !ok {
			return a.violation(channelID, msg, "feedback payload is not a feedback")
		}
		if channelID == "" {
			channelID = fb.ChannelID
		}
		ev = channelEvent{kind: evFeedback, feedback: fb}
	case router.TypeSubnetResult:
		outcome, ok := msg.Payload.(*models.SubnetOutcome)
		if !ok {
			return a.violation(channelID, msg, "subnet_result payload is not an outcome")
		}
		ev = channelEvent{kind: evSubnetResult, outcome: outcome}
	default:
		return a.violation(channelID, msg, "unexpected message type for channel administrator")
	}

	a.mu.Lock()
	rt, ok := a.channels[channelID]
	a.mu.Unlock()
	if !ok {
		return a.violation(channelID, msg, "message addresses unknown channel")
	}
	if rt.settled.Load() {
		slog.Debug("Dropping message for settled channel",
			"channel_id", channelID, "type", msg.Type, "sender", msg.Sender)
		return nil
	}
	if !rt.enqueue(ev) {
		slog.Error("Channel mailbox full, dropping message",
			"channel_id", channelID, "type", msg.Type, "sender", msg.Sender)
		return fmt.Errorf("channel %s mailbox full", channelID)
	}
	return nil
}

func (a *Administrator) violation(channelID string, msg router.Message, detail string) error {
	a.publish(bus.EventProtocolViolation, map[string]any{
		"channel_id": channelID,
		"type":       string(msg.Type),
		"sender":     msg.Sender,
		"detail":     detail,
	})
	return fmt.Errorf("protocol violation on channel %s: %s", channelID, detail)
}

func (a *Administrator) publish(eventType string, payload map[string]any) {
	a.bus.Publish(bus.NewEvent(eventType, router.ChannelAdminName, payload))
}

// OpenChannel creates a channel for the demand and starts its run loop.
// The invited set is the filtered candidate list, in filter order.
func (a *Administrator) OpenChannel(channelID string, demand *models.Demand, matches []models.CandidateMatch) error {
	invited := make([]string, 0, len(matches))
	reasons := make(map[string]string, len(matches))
	for _, m := range matches {
		invited = append(invited, m.AgentID)
		reasons[m.AgentID] = m.Reason
	}

	rt := &channelRuntime{
		ch:      newChannel(channelID, demand, invited),
		mailbox: make(chan channelEvent, mailboxDepth),
		reasons: reasons,
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("administrator is shut down")
	}
	if _, exists := a.channels[channelID]; exists {
		a.mu.Unlock()
		return fmt.Errorf("channel %s already exists", channelID)
	}
	a.channels[channelID] = rt
	a.wg.Add(1)
	a.mu.Unlock()

	go a.run(rt)
	rt.enqueue(channelEvent{kind: evStart})
	return nil
}

// Snapshot returns a point-in-time view of the channel, if it exists.
func (a *Administrator) Snapshot(channelID string) (ChannelSnapshot, bool) {
	a.mu.Lock()
	rt, ok := a.channels[channelID]
	a.mu.Unlock()
	if !ok {
		return ChannelSnapshot{}, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.ch.snapshot(), true
}

// Snapshots returns views of all channels, newest first not guaranteed.
func (a *Administrator) Snapshots() []ChannelSnapshot {
	a.mu.Lock()
	rts := make([]*channelRuntime, 0, len(a.channels))
	for _, rt := range a.channels {
		rts = append(rts, rt)
	}
	a.mu.Unlock()

	out := make([]ChannelSnapshot, 0, len(rts))
	for _, rt := range rts {
		rt.mu.Lock()
		out = append(out, rt.ch.snapshot())
		rt.mu.Unlock()
	}
	return out
}

// Wait blocks until every channel goroutine has exited. Called during
// shutdown after the base context is cancelled.
func (a *Administrator) Wait() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}

// run is a channel's event loop. All mutation of rt.ch happens here,
// under rt.mu so snapshot readers see consistent state.
func (a *Administrator) run(rt *channelRuntime) {
	defer a.wg.Done()
	defer rt.stopTimers()
	for {
		select {
		case <-a.ctx.Done():
			return
		case ev := <-rt.mailbox:
			rt.mu.Lock()
			a.dispatch(rt, ev)
			terminal := rt.ch.State.Terminal()
			rt.mu.Unlock()
			if terminal {
				rt.settled.Store(true)
				return
			}
		}
	}
}

func (a *Administrator) dispatch(rt *channelRuntime, ev channelEvent) {
	ch := rt.ch
	switch ev.kind {
	case evStart:
		a.broadcast(rt)
	case evOffer:
		a.onOffer(rt, ev.offer)
	case evFeedback:
		a.onFeedback(rt, ev.feedback)
	case evSubnetResult:
		a.onSubnetResult(ch, ev.outcome)
	case evCollectDeadline:
		if ch.State == StateCollecting {
			slog.Info("Collection deadline reached",
				"channel_id", ch.ID, "offers", len(ch.Offers), "invited", len(ch.Invited))
			a.aggregate(rt)
		}
	case evRoundDeadline:
		if ev.round == ch.Round && (ch.State == StateProposalSent || ch.State == StateNegotiating) {
			slog.Info("Negotiation round deadline reached",
				"channel_id", ch.ID, "round", ch.Round, "feedbacks", len(ch.Feedbacks))
			a.evaluateRound(rt, true)
		}
	}
}

// setState applies a transition, failing the channel on an illegal edge.
// Returns false when the transition was rejected.
func (a *Administrator) setState(ch *Channel, to ChannelState) bool {
	if err := ch.transition(to); err != nil {
		a.publish(bus.EventProtocolViolation, map[string]any{
			"channel_id": ch.ID,
			"detail":     err.Error(),
		})
		slog.Error("Invalid channel transition", "channel_id", ch.ID, "error", err)
		if !ch.State.Terminal() {
			a.fail(ch, FailInvalidTransition)
		}
		return false
	}
	return true
}

// broadcast invites every filtered candidate and opens the collection
// window.
func (a *Administrator) broadcast(rt *channelRuntime) {
	ch := rt.ch
	if !a.setState(ch, StateBroadcasting) {
		return
	}
	a.publish(bus.EventDemandBroadcast, map[string]any{
		"channel_id": ch.ID,
		"demand_id":  ch.Demand.ID,
		"invited":    len(ch.Invited),
	})
	for _, agentID := range ch.Invited {
		a.send(a.ctx, router.Message{
			Type:      router.TypeDemandOffer,
			Sender:    router.ChannelAdminName,
			Recipient: router.UserAgentName(agentID),
			ChannelID: ch.ID,
			Nonce:     ch.Demand.ID,
			Payload: &DemandInvite{
				ChannelID: ch.ID,
				Demand:    *ch.Demand,
				Reason:    rt.reasons[agentID],
			},
		})
	}
	if !a.setState(ch, StateCollecting) {
		return
	}
	rt.collectTimer = time.AfterFunc(a.cfg.CollectionDeadline, func() {
		if !rt.enqueue(channelEvent{kind: evCollectDeadline}) {
			slog.Error("Channel mailbox full, collection deadline lost",
				"channel_id", ch.ID)
		}
	})

	// Synchronous user agents may have answered during the broadcast
	// loop; their offers are already queued behind this event.
}

// onOffer records one invitee's offer. Offers are immutable: the first
// valid offer per agent wins, later ones are dropped.
func (a *Administrator) onOffer(rt *channelRuntime, offer *models.Offer) {
	ch := rt.ch
	if ch.State != StateCollecting {
		slog.Debug("Dropping offer outside collection window",
			"channel_id", ch.ID, "agent_id", offer.AgentID, "state", ch.State)
		return
	}
	if !contains(ch.Invited, offer.AgentID) {
		a.publish(bus.EventProtocolViolation, map[string]any{
			"channel_id": ch.ID,
			"agent_id":   offer.AgentID,
			"detail":     "offer from uninvited agent",
		})
		return
	}
	if _, dup := ch.Offers[offer.AgentID]; dup {
		slog.Debug("Ignoring repeat offer", "channel_id", ch.ID, "agent_id", offer.AgentID)
		return
	}
	if err := offer.Validate(); err != nil {
		a.publish(bus.EventProtocolViolation, map[string]any{
			"channel_id": ch.ID,
			"agent_id":   offer.AgentID,
			"detail":     err.Error(),
		})
		return
	}

	ch.Offers[offer.AgentID] = offer
	a.publish(bus.EventOfferSubmitted, map[string]any{
		"channel_id": ch.ID,
		"agent_id":   offer.AgentID,
		"decision":   string(offer.Decision),
		"confidence": offer.Confidence,
	})

	if len(ch.Offers) == len(ch.Invited) {
		a.aggregate(rt)
	}
}

// aggregate folds the collected offers into the first proposal, runs
// the gap phase, and distributes.
func (a *Administrator) aggregate(rt *channelRuntime) {
	ch := rt.ch
	if rt.collectTimer != nil {
		rt.collectTimer.Stop()
	}

	// A deadline with nothing viable fails from the collection state; a
	// single willing participant is enough to aggregate.
	viable := ch.viableOffers()
	if len(viable) == 0 {
		a.fail(ch, FailNoResponses)
		return
	}
	if !a.setState(ch, StateAggregating) {
		return
	}

	proposal, _ := a.oracle.AggregateOffers(a.ctx, oracle.AggregateRequest{
		Demand: ch.Demand,
		Offers: viable,
	})
	proposal.ChannelID = ch.ID
	proposal.Version = 1
	proposal.CreatedAt = time.Now()
	proposal.Assignments = restrictToResponders(proposal.Assignments, viable)
	if len(proposal.Assignments) == 0 {
		a.fail(ch, FailInternal)
		return
	}
	ch.Proposal = proposal

	a.identifyGaps(rt)
	a.distribute(rt)
}

// identifyGaps runs once, against the first proposal. Selected gaps
// spawn bounded sub-negotiations through the coordinator.
func (a *Administrator) identifyGaps(rt *channelRuntime) {
	ch := rt.ch
	gaps, _ := a.oracle.IdentifyGaps(a.ctx, oracle.IdentifyGapsRequest{
		Demand:   ch.Demand,
		Proposal: *ch.Proposal,
	})
	if len(gaps) == 0 {
		return
	}
	ch.Gaps = gaps
	a.publish(bus.EventGapIdentified, map[string]any{
		"channel_id": ch.ID,
		"gaps":       gaps,
	})

	if ch.Depth >= a.cfg.MaxRecursionDepth || a.cfg.MaxSubnetsPerChannel <= 0 {
		return
	}

	remaining := time.Duration(a.cfg.MaxRounds) * a.cfg.NegotiationDeadline
	selected, _ := a.oracle.JudgeRecursion(a.ctx, oracle.JudgeRecursionRequest{
		Gaps:          gaps,
		Depth:         ch.Depth,
		TimeRemaining: remaining,
	})
	if len(selected) > a.cfg.MaxSubnetsPerChannel {
		selected = selected[:a.cfg.MaxSubnetsPerChannel]
	}
	// The coordinator emits subnet.triggered once the sub-channel
	// exists and its ID is known.
	for _, g := range selected {
		ch.PendingSubnets[g.ID] = ""
		a.send(a.ctx, router.Message{
			Type:      router.TypeSubnetDemand,
			Sender:    router.ChannelAdminName,
			Recipient: router.CoordinatorName,
			ChannelID: ch.ID,
			Nonce:     g.ID,
			Payload: &SubnetRequest{
				Gap:             g,
				ParentChannelID: ch.ID,
				ParentDemandID:  ch.Demand.ID,
				Depth:           ch.Depth + 1,
			},
		})
	}
}

// distribute sends the current proposal version to every non-withdrawn
// participant and opens the feedback window for this round.
func (a *Administrator) distribute(rt *channelRuntime) {
	ch := rt.ch
	if !a.setState(ch, StateProposalSent) {
		return
	}
	if ch.Round > 0 {
		a.publish(bus.EventRoundStarted, map[string]any{
			"channel_id": ch.ID,
			"round":      ch.Round,
			"version":    ch.Proposal.Version,
		})
	}

	participants := ch.Proposal.ParticipantIDs()
	a.publish(bus.EventProposalDistributed, map[string]any{
		"channel_id":   ch.ID,
		"version":      ch.Proposal.Version,
		"participants": len(participants),
	})
	for _, agentID := range participants {
		if ch.Withdrawn[agentID] {
			continue
		}
		a.send(a.ctx, router.Message{
			Type:      router.TypeProposalReview,
			Sender:    router.ChannelAdminName,
			Recipient: router.UserAgentName(agentID),
			ChannelID: ch.ID,
			Nonce:     strconv.Itoa(ch.Proposal.Version),
			Payload: &ReviewRequest{
				ChannelID: ch.ID,
				Proposal:  *ch.Proposal,
				Round:     ch.Round,
			},
		})
	}

	round := ch.Round
	if rt.roundTimer != nil {
		rt.roundTimer.Stop()
	}
	rt.roundTimer = time.AfterFunc(a.cfg.NegotiationDeadline, func() {
		if !rt.enqueue(channelEvent{kind: evRoundDeadline, round: round}) {
			slog.Error("Channel mailbox full, negotiation deadline lost",
				"channel_id", ch.ID, "round", round)
		}
	})
}

// onFeedback records one participant's verdict on the current proposal
// version.
func (a *Administrator) onFeedback(rt *channelRuntime, fb *models.Feedback) {
	ch := rt.ch
	if ch.State != StateProposalSent && ch.State != StateNegotiating {
		slog.Debug("Dropping feedback outside negotiation",
			"channel_id", ch.ID, "agent_id", fb.AgentID, "state", ch.State)
		return
	}
	if fb.Version != ch.Proposal.Version {
		slog.Debug("Dropping stale feedback",
			"channel_id", ch.ID, "agent_id", fb.AgentID,
			"version", fb.Version, "current", ch.Proposal.Version)
		return
	}
	if _, isParticipant := ch.Proposal.AssignmentFor(fb.AgentID); !isParticipant {
		a.publish(bus.EventProtocolViolation, map[string]any{
			"channel_id": ch.ID,
			"agent_id":   fb.AgentID,
			"detail":     "feedback from non-participant",
		})
		return
	}
	if err := fb.Validate(); err != nil {
		a.publish(bus.EventProtocolViolation, map[string]any{
			"channel_id": ch.ID,
			"agent_id":   fb.AgentID,
			"detail":     err.Error(),
		})
		return
	}
	if _, dup := ch.Feedbacks[fb.AgentID]; dup {
		slog.Debug("Ignoring repeat feedback", "channel_id", ch.ID, "agent_id", fb.AgentID)
		return
	}

	if ch.State == StateProposalSent {
		if !a.setState(ch, StateNegotiating) {
			return
		}
	}
	ch.Feedbacks[fb.AgentID] = fb
	if fb.Kind == models.FeedbackWithdraw {
		ch.Withdrawn[fb.AgentID] = true
	}
	a.publish(bus.EventFeedbackSubmitted, map[string]any{
		"channel_id": ch.ID,
		"agent_id":   fb.AgentID,
		"kind":       string(fb.Kind),
		"version":    fb.Version,
	})

	if len(ch.Feedbacks) == len(ch.Proposal.ParticipantIDs()) {
		a.evaluateRound(rt, false)
	}
}

// evaluateRound closes the current feedback window and decides whether
// to finalize, fail, or adjust into another round. When the deadline
// fired, silent participants count per the implicit-accept knob.
func (a *Administrator) evaluateRound(rt *channelRuntime, deadline bool) {
	ch := rt.ch
	if rt.roundTimer != nil {
		rt.roundTimer.Stop()
	}
	// A deadline can close a round nobody responded to.
	if ch.State == StateProposalSent {
		if !a.setState(ch, StateNegotiating) {
			return
		}
	}

	participants := ch.Proposal.ParticipantIDs()
	n := len(participants)
	var accepts, withdraws int
	nonAccept := make([]models.Feedback, 0, len(ch.Feedbacks))
	for _, id := range participants {
		fb, ok := ch.Feedbacks[id]
		if !ok {
			if deadline && a.cfg.ImplicitAccept() {
				accepts++
			}
			continue
		}
		switch fb.Kind {
		case models.FeedbackAccept:
			accepts++
		case models.FeedbackWithdraw:
			withdraws++
			nonAccept = append(nonAccept, *fb)
		default:
			nonAccept = append(nonAccept, *fb)
		}
	}

	if n == 0 {
		a.fail(ch, FailInternal)
		return
	}
	withdrawRate := float64(withdraws) / float64(n)
	acceptRate := float64(accepts) / float64(n)
	slog.Info("Negotiation round evaluated",
		"channel_id", ch.ID, "round", ch.Round,
		"accept_rate", acceptRate, "withdraw_rate", withdrawRate)

	if withdrawRate > a.cfg.WithdrawThreshold {
		a.fail(ch, FailMajorityRejected)
		return
	}
	// A withdrawal is fatal when it strands a role no remaining
	// participant holds.
	if withdraws > 0 && !rolesAbsorbed(ch.Proposal.Assignments, ch.Withdrawn) {
		a.fail(ch, FailCoreWithdrew)
		return
	}
	if acceptRate >= a.cfg.AcceptThreshold {
		a.finalize(ch)
		return
	}
	if ch.Round+1 >= a.cfg.MaxRounds {
		a.fail(ch, FailMaxRounds)
		return
	}

	// An adjustment round re-enters the proposal cycle through
	// COLLECTING into AGGREGATING, where the oracle revises the proposal
	// against the negotiate and withdraw feedback.
	if !a.setState(ch, StateCollecting) {
		return
	}
	if !a.setState(ch, StateAggregating) {
		return
	}
	adj, _ := a.oracle.AdjustProposal(a.ctx, oracle.AdjustRequest{
		Proposal:  *ch.Proposal,
		Feedbacks: nonAccept,
	})
	if !adj.ShouldContinue {
		a.fail(ch, FailMaxRounds)
		return
	}

	next := adj.Proposal
	next.ChannelID = ch.ID
	next.Version = ch.Proposal.Version + 1
	next.CreatedAt = time.Now()
	next.Assignments = restrictToResponders(next.Assignments, ch.viableOffers())
	if len(next.Assignments) == 0 {
		a.fail(ch, FailInternal)
		return
	}
	next.Assignments = pruneWithdrawn(next.Assignments, ch.Withdrawn)
	if len(next.Assignments) == 0 {
		a.fail(ch, FailCoreWithdrew)
		return
	}

	ch.Proposal = &next
	ch.Round++
	ch.Feedbacks = make(map[string]*models.Feedback)
	a.distribute(rt)
}

// onSubnetResult records a sub-channel's terminal outcome.
func (a *Administrator) onSubnetResult(ch *Channel, outcome *models.SubnetOutcome) {
	if ch.State.Terminal() {
		slog.Debug("Dropping subnet result for settled channel",
			"channel_id", ch.ID, "gap_id", outcome.GapID)
		return
	}
	if _, pending := ch.PendingSubnets[outcome.GapID]; !pending {
		slog.Debug("Dropping subnet result for unknown gap",
			"channel_id", ch.ID, "gap_id", outcome.GapID)
		return
	}
	delete(ch.PendingSubnets, outcome.GapID)
	ch.Outcomes = append(ch.Outcomes, *outcome)

	if !outcome.Succeeded {
		a.publish(bus.EventSubnetFailed, map[string]any{
			"parent_channel_id": ch.ID,
			"sub_channel_id":    outcome.SubChannelID,
			"gap_id":            outcome.GapID,
			"reason":            outcome.Reason,
		})
	}
}

// finalize seals the channel into a plan.
func (a *Administrator) finalize(ch *Channel) {
	if !a.setState(ch, StateFinalized) {
		return
	}
	p := ch.Proposal
	plan := &models.Plan{
		ChannelID:      ch.ID,
		DemandID:       ch.Demand.ID,
		Version:        p.Version,
		Summary:        p.Summary,
		Assignments:    p.Assignments,
		Timeline:       p.Timeline,
		Rounds:         ch.Round + 1,
		Confidence:     p.Confidence,
		UnresolvedGaps: ch.unresolvedGaps(),
		SubPlans:       ch.Outcomes,
		FinalizedAt:    time.Now(),
	}
	ch.Plan = plan
	ch.Demand.Status = models.DemandStatusFinalized

	a.publish(bus.EventNegotiationFinalized, map[string]any{
		"channel_id":      ch.ID,
		"demand_id":       ch.Demand.ID,
		"rounds":          plan.Rounds,
		"participants":    len(dedupAgentIDs(plan.Assignments)),
		"unresolved_gaps": len(plan.UnresolvedGaps),
		"summary":         plan.Summary,
		"final_proposal":  plan,
	})
	slog.Info("Negotiation finalized",
		"channel_id", ch.ID, "rounds", plan.Rounds, "version", plan.Version)

	if ch.isSubChannel() {
		a.reportToParent(ch, &models.SubnetOutcome{
			SubChannelID: ch.ID,
			GapID:        ch.GapID,
			Succeeded:    true,
			Plan:         plan,
		})
	}
}

// fail settles the channel as failed with the given reason.
func (a *Administrator) fail(ch *Channel, reason string) {
	if ch.State.Terminal() {
		return
	}
	// The failed edge exists from every non-terminal state.
	ch.State = StateFailed
	ch.FailReason = reason
	ch.Demand.Status = models.DemandStatusFailed

	a.publish(bus.EventNegotiationFailed, map[string]any{
		"channel_id": ch.ID,
		"demand_id":  ch.Demand.ID,
		"reason":     reason,
	})
	slog.Warn("Negotiation failed", "channel_id", ch.ID, "reason", reason)

	if ch.isSubChannel() {
		a.reportToParent(ch, &models.SubnetOutcome{
			SubChannelID: ch.ID,
			GapID:        ch.GapID,
			Succeeded:    false,
			Reason:       reason,
		})
	}
}

func (a *Administrator) reportToParent(ch *Channel, outcome *models.SubnetOutcome) {
	a.send(a.ctx, router.Message{
		Type:      router.TypeSubnetResult,
		Sender:    router.ChannelAdminName,
		Recipient: router.ChannelAdminName,
		ChannelID: ch.ParentChannelID,
		Nonce:     ch.ID,
		Payload:   outcome,
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// restrictToResponders drops assignments naming agents outside the
// non-declining responder set. Oracle output is untrusted; the
// participant set may only ever shrink the responder set.
func restrictToResponders(assignments []models.Assignment, offers []models.Offer) []models.Assignment {
	responded := make(map[string]bool, len(offers))
	for _, o := range offers {
		responded[o.AgentID] = true
	}
	out := assignments[:0:0]
	for _, a := range assignments {
		if responded[a.AgentID] {
			out = append(out, a)
		}
	}
	return out
}

// rolesAbsorbed reports whether every role held by a withdrawn agent
// is also held by at least one remaining participant.
func rolesAbsorbed(assignments []models.Assignment, withdrawn map[string]bool) bool {
	remaining := make(map[string]bool)
	for _, a := range assignments {
		if !withdrawn[a.AgentID] {
			remaining[a.Role] = true
		}
	}
	for _, a := range assignments {
		if withdrawn[a.AgentID] && !remaining[a.Role] {
			return false
		}
	}
	return true
}

func pruneWithdrawn(assignments []models.Assignment, withdrawn map[string]bool) []models.Assignment {
	out := assignments[:0:0]
	for _, a := range assignments {
		if !withdrawn[a.AgentID] {
			out = append(out, a)
		}
	}
	return out
}

func dedupAgentIDs(assignments []models.Assignment) []string {
	seen := make(map[string]bool, len(assignments))
	out := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if !seen[a.AgentID] {
			seen[a.AgentID] = true
			out = append(out, a.AgentID)
		}
	}
	return out
}
