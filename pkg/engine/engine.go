// Package engine hosts the negotiation core: the coordinator and
// channel administrator singletons, per-user agents, and the façade
// that wires them to the oracle, router, registry, and event bus.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/NatureBlueee/towow/pkg/bus"
	"github.com/NatureBlueee/towow/pkg/config"
	"github.com/NatureBlueee/towow/pkg/models"
	"github.com/NatureBlueee/towow/pkg/oracle"
	"github.com/NatureBlueee/towow/pkg/profile"
	"github.com/NatureBlueee/towow/pkg/registry"
	"github.com/NatureBlueee/towow/pkg/router"
)

// Engine is the running negotiation system. One Engine per process.
type Engine struct {
	cfg      *config.Config
	bus      *bus.Bus
	recorder *bus.Recorder
	router   *router.Router
	registry *registry.Registry
	adapter  *oracle.Adapter
	admin    *Administrator
	coord    *Coordinator
	profiles profile.Repository
	send     SendFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles an engine over the given oracle backend and profile
// store. The engine is live on return; Shutdown releases it.
func New(cfg *config.Config, upstream oracle.Service, profiles profile.Repository) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	b := bus.New()
	recorder := bus.NewRecorder(b, cfg.Events.RingSize)

	sink := func(eventType string, payload map[string]any) {
		b.Publish(bus.NewEvent(eventType, "oracle_adapter", payload))
	}
	adapter := oracle.NewAdapter(upstream, oracle.AdapterConfig{
		DefaultTimeout:   cfg.Oracle.DefaultTimeout,
		OpTimeouts:       cfg.Oracle.OpTimeouts,
		FailureThreshold: cfg.Oracle.FailureThreshold,
		Cooldown:         cfg.Oracle.Cooldown,
	}, sink)

	admin := newAdministrator(ctx, cfg.Engine, adapter, b)

	eng := &Engine{
		cfg:      cfg,
		bus:      b,
		recorder: recorder,
		adapter:  adapter,
		admin:    admin,
		profiles: profiles,
		ctx:      ctx,
		cancel:   cancel,
	}

	// The factory closes over eng so user agents share the guarded
	// oracle and the router send path.
	reg := registry.New(profiles, func(p models.AgentProfile) router.Agent {
		return NewUserAgent(p, eng.adapter, eng.send)
	})
	rt := router.New(reg, router.Config{
		DedupWindow:  cfg.Router.DedupWindow,
		DedupMaxSize: cfg.Router.DedupMaxSize,
	})
	eng.registry = reg
	eng.router = rt
	eng.send = newSendFunc(rt)
	admin.send = eng.send

	coord := newCoordinator(cfg.Engine, adapter, profiles, admin, b)
	coord.send = eng.send
	eng.coord = coord

	reg.RegisterSingleton(coord)
	reg.RegisterSingleton(admin)

	slog.Info("Engine assembled",
		"oracle_mode", cfg.Oracle.Mode,
		"max_rounds", cfg.Engine.MaxRounds,
		"max_recursion_depth", cfg.Engine.MaxRecursionDepth)
	return eng
}

// SubmitDemand accepts a raw demand and starts its negotiation
// asynchronously. The returned demand is a snapshot taken at
// submission; it carries the ID to follow on the event stream while
// the coordinator mutates its own copy.
func (e *Engine) SubmitDemand(ctx context.Context, rawText, submitterID string) (*models.Demand, error) {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return nil, fmt.Errorf("demand text is empty")
	}
	if submitterID == "" {
		return nil, fmt.Errorf("submitter id is empty")
	}
	if err := e.ctx.Err(); err != nil {
		return nil, fmt.Errorf("engine is shut down")
	}

	demand := models.NewDemand(rawText, submitterID)
	submitted := *demand
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.coord.Intake(e.ctx, demand); err != nil {
			slog.Error("Demand intake failed", "demand_id", demand.ID, "error", err)
		}
	}()
	return &submitted, nil
}

// Events exposes the bounded event recorder for streaming consumers.
func (e *Engine) Events() *bus.Recorder {
	return e.recorder
}

// OracleStats returns the guarded oracle's counters.
func (e *Engine) OracleStats() oracle.Stats {
	return e.adapter.Stats()
}

// RouterCounters returns delivery totals (delivered, duplicates, dropped).
func (e *Engine) RouterCounters() (int64, int64, int64) {
	return e.router.Counters()
}

// Channel returns a snapshot of one channel.
func (e *Engine) Channel(channelID string) (ChannelSnapshot, bool) {
	return e.admin.Snapshot(channelID)
}

// Channels returns snapshots of every known channel.
func (e *Engine) Channels() []ChannelSnapshot {
	return e.admin.Snapshots()
}

// Shutdown stops intake, cancels all channel loops, and waits for them
// within the context's deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.admin.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("engine shutdown timed out: %w", ctx.Err())
	}
	e.recorder.Close()
	slog.Info("Engine stopped")
	return err
}
