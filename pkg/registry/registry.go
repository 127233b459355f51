// Package registry holds the system singleton agents and lazily
// materializes per-user agents on first reference. It implements the
// router's Directory interface; the router never reaches back into it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/NatureBlueee/towow/pkg/models"
	"github.com/NatureBlueee/towow/pkg/profile"
	"github.com/NatureBlueee/towow/pkg/router"
)

const userAgentPrefix = "user_agent_"

// Registry errors.
var (
	ErrUnknownAgent = errors.New("unknown agent")
)

// UserAgentFactory builds a user agent for a profile. Wired by the
// engine at init.
type UserAgentFactory func(p models.AgentProfile) router.Agent

// Registry resolves agent names to live instances. Singletons are
// registered once at engine init; user agents are materialized on first
// reference and cached for the process lifetime.
type Registry struct {
	mu         sync.RWMutex
	singletons map[string]router.Agent
	userAgents map[string]router.Agent

	factory  UserAgentFactory
	profiles profile.Repository
	group    singleflight.Group
}

var _ router.Directory = (*Registry)(nil)

// New creates a registry backed by the given profile repository.
func New(profiles profile.Repository, factory UserAgentFactory) *Registry {
	return &Registry{
		singletons: make(map[string]router.Agent),
		userAgents: make(map[string]router.Agent),
		factory:    factory,
		profiles:   profiles,
	}
}

// RegisterSingleton installs a system agent under its routing name.
// Registering the same name twice is a programming error.
func (r *Registry) RegisterSingleton(agent router.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := agent.Name()
	if _, exists := r.singletons[name]; exists {
		panic(fmt.Sprintf("registry: singleton %q registered twice", name))
	}
	r.singletons[name] = agent
}

// Resolve implements router.Directory. Concurrent first references to
// the same user agent are collapsed through singleflight so both
// callers receive the same instance.
func (r *Registry) Resolve(ctx context.Context, name string) (router.Agent, error) {
	r.mu.RLock()
	if agent, ok := r.singletons[name]; ok {
		r.mu.RUnlock()
		return agent, nil
	}
	if agent, ok := r.userAgents[name]; ok {
		r.mu.RUnlock()
		return agent, nil
	}
	r.mu.RUnlock()

	userID, ok := strings.CutPrefix(name, userAgentPrefix)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return r.materialize(ctx, name, userID)
}

// materialize builds and caches the user agent for userID.
func (r *Registry) materialize(ctx context.Context, name, userID string) (router.Agent, error) {
	v, err, _ := r.group.Do(userID, func() (any, error) {
		// Re-check under the flight: a previous flight may have landed.
		r.mu.RLock()
		if agent, ok := r.userAgents[name]; ok {
			r.mu.RUnlock()
			return agent, nil
		}
		r.mu.RUnlock()

		p, err := r.profiles.Get(ctx, userID)
		if err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				return nil, fmt.Errorf("%w: no profile for user %s", ErrUnknownAgent, userID)
			}
			return nil, fmt.Errorf("load profile for %s: %w", userID, err)
		}

		agent := r.factory(*p)
		r.mu.Lock()
		r.userAgents[name] = agent
		r.mu.Unlock()

		slog.Debug("Materialized user agent", "user_id", userID)
		return agent, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(router.Agent), nil
}

// MaterializedCount returns the number of cached user agents. Used by
// tests to assert singleflight behavior.
func (r *Registry) MaterializedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userAgents)
}
