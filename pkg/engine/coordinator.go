package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NatureBlueee/towow/pkg/bus"
	"github.com/NatureBlueee/towow/pkg/config"
	"github.com/NatureBlueee/towow/pkg/models"
	"github.com/NatureBlueee/towow/pkg/oracle"
	"github.com/NatureBlueee/towow/pkg/profile"
	"github.com/NatureBlueee/towow/pkg/router"
)

// FailNoCandidates is the failure reason when filtering finds fewer
// than two candidates and no channel can open.
const FailNoCandidates = "no_candidates"

// Coordinator is the singleton demand intake agent. It understands raw
// demands through the oracle, filters the active profile pool down to
// candidates, and opens a negotiation channel with the administrator.
type Coordinator struct {
	cfg      *config.EngineConfig
	oracle   oracle.Service
	profiles profile.Repository
	admin    *Administrator
	bus      *bus.Bus
	send     SendFunc
}

var _ router.Agent = (*Coordinator)(nil)

func newCoordinator(cfg *config.EngineConfig, svc oracle.Service, profiles profile.Repository, admin *Administrator, b *bus.Bus) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		oracle:   svc,
		profiles: profiles,
		admin:    admin,
		bus:      b,
	}
}

// Name implements router.Agent.
func (c *Coordinator) Name() string {
	return router.CoordinatorName
}

// HandleMessage implements router.Agent. The coordinator's only inbound
// message is a gap-derived sub-demand from a channel administrator.
func (c *Coordinator) HandleMessage(ctx context.Context, msg router.Message) error {
	if msg.Type != router.TypeSubnetDemand {
		return fmt.Errorf("coordinator cannot handle message type %s", msg.Type)
	}
	req, ok := msg.Payload.(*SubnetRequest)
	if !ok {
		return fmt.Errorf("subnet_demand payload is not a subnet request")
	}
	return c.handleSubnetDemand(ctx, req)
}

// Intake runs a top-level demand through understanding, filtering, and
// channel creation. Called on its own goroutine per demand.
func (c *Coordinator) Intake(ctx context.Context, demand *models.Demand) error {
	c.publish(bus.EventDemandSubmitted, map[string]any{
		"demand_id":    demand.ID,
		"submitter_id": demand.SubmitterID,
	})
	return c.negotiate(ctx, demand, "", 0)
}

// handleSubnetDemand synthesizes a demand from a parent channel's gap
// and runs a focused intake for it. Depth overruns are rejected before
// any oracle work.
func (c *Coordinator) handleSubnetDemand(ctx context.Context, req *SubnetRequest) error {
	if req.Depth > c.cfg.MaxRecursionDepth {
		slog.Warn("Rejecting sub-demand beyond recursion depth",
			"parent_channel_id", req.ParentChannelID, "gap_id", req.Gap.ID, "depth", req.Depth)
		c.reportSubnetFailure(ctx, req, "recursion depth exceeded")
		return nil
	}

	demand := models.NewSubDemand(req.Gap, req.ParentChannelID, req.ParentDemandID, req.Depth)
	c.publish(bus.EventDemandSubmitted, map[string]any{
		"demand_id":         demand.ID,
		"submitter_id":      demand.SubmitterID,
		"parent_channel_id": req.ParentChannelID,
		"gap_id":            req.Gap.ID,
	})
	return c.negotiate(ctx, demand, req.Gap.Capability, c.cfg.SubnetMaxCandidates)
}

// negotiate is the shared intake pipeline. A non-empty capability marks
// a focused (sub-demand) filter.
func (c *Coordinator) negotiate(ctx context.Context, demand *models.Demand, capability string, maxCandidates int) error {
	understanding, _ := c.oracle.UnderstandDemand(ctx, oracle.UnderstandRequest{
		RawText:     demand.RawText,
		SubmitterID: demand.SubmitterID,
	})
	demand.Surface = understanding.Surface
	demand.Deep = understanding.Deep
	if len(understanding.Tags) > 0 {
		demand.Tags = understanding.Tags
	}
	demand.Uncertainties = understanding.Uncertainties
	demand.Confidence = understanding.Confidence
	demand.Status = models.DemandStatusUnderstood
	c.publish(bus.EventDemandUnderstood, map[string]any{
		"demand_id":  demand.ID,
		"surface":    demand.Surface,
		"deep":       demand.Deep,
		"tags":       demand.Tags,
		"confidence": demand.Confidence,
	})

	profiles, err := c.profiles.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active profiles: %w", err)
	}
	pool := make([]models.AgentProfile, 0, len(profiles))
	for _, p := range profiles {
		if p.ID != demand.SubmitterID {
			pool = append(pool, p)
		}
	}

	if maxCandidates <= 0 {
		maxCandidates = c.cfg.MaxCandidates
	}
	matches, _ := c.oracle.FilterCandidates(ctx, oracle.FilterRequest{
		Demand:        demand,
		Profiles:      pool,
		Focused:       capability != "",
		Capability:    capability,
		MaxCandidates: maxCandidates,
	})
	c.publish(bus.EventFilterCompleted, map[string]any{
		"demand_id":  demand.ID,
		"pool":       len(pool),
		"candidates": matches,
	})

	if len(matches) < 2 {
		demand.Status = models.DemandStatusFailed
		c.publish(bus.EventNegotiationFailed, map[string]any{
			"demand_id": demand.ID,
			"reason":    FailNoCandidates,
		})
		slog.Info("Demand failed before channel creation",
			"demand_id", demand.ID, "candidates", len(matches))
		if demand.IsSubDemand() {
			c.reportSubnetOutcome(ctx, demand, "", FailNoCandidates)
		}
		return nil
	}

	channelID := "collab-" + demand.ID[:8]
	if err := c.admin.OpenChannel(channelID, demand, matches); err != nil {
		return fmt.Errorf("open channel for demand %s: %w", demand.ID, err)
	}
	demand.Status = models.DemandStatusNegotiating
	if demand.IsSubDemand() {
		c.publish(bus.EventSubnetTriggered, map[string]any{
			"parent_channel_id": demand.ParentChannelID,
			"sub_channel_id":    channelID,
			"gap_id":            demand.GapID,
			"depth":             demand.Depth,
		})
	}
	invitees := make([]string, 0, len(matches))
	for _, m := range matches {
		invitees = append(invitees, m.AgentID)
	}
	c.publish(bus.EventChannelCreated, map[string]any{
		"channel_id": channelID,
		"demand_id":  demand.ID,
		"invitees":   invitees,
		"depth":      demand.Depth,
	})
	slog.Info("Channel created",
		"channel_id", channelID, "demand_id", demand.ID, "invited", len(matches))
	return nil
}

func (c *Coordinator) reportSubnetFailure(ctx context.Context, req *SubnetRequest, reason string) {
	c.send(ctx, router.Message{
		Type:      router.TypeSubnetResult,
		Sender:    router.CoordinatorName,
		Recipient: router.ChannelAdminName,
		ChannelID: req.ParentChannelID,
		Nonce:     req.Gap.ID,
		Payload: &models.SubnetOutcome{
			GapID:     req.Gap.ID,
			Succeeded: false,
			Reason:    reason,
		},
	})
}

func (c *Coordinator) reportSubnetOutcome(ctx context.Context, demand *models.Demand, subChannelID, reason string) {
	c.send(ctx, router.Message{
		Type:      router.TypeSubnetResult,
		Sender:    router.CoordinatorName,
		Recipient: router.ChannelAdminName,
		ChannelID: demand.ParentChannelID,
		Nonce:     demand.GapID,
		Payload: &models.SubnetOutcome{
			SubChannelID: subChannelID,
			GapID:        demand.GapID,
			Succeeded:    false,
			Reason:       reason,
		},
	})
}

func (c *Coordinator) publish(eventType string, payload map[string]any) {
	c.bus.Publish(bus.NewEvent(eventType, router.CoordinatorName, payload))
}
