// Package profile provides the agent profile repository consumed by the
// negotiation engine, with in-memory, SQLite, and PostgreSQL backings.
package profile

import (
	"context"
	"errors"

	"github.com/NatureBlueee/towow/pkg/models"
)

// ErrNotFound is returned when a profile does not exist.
var ErrNotFound = errors.New("profile not found")

// Repository is the read surface the engine consumes. Implementations
// must be safe for concurrent use.
type Repository interface {
	// ListActive returns the profiles currently eligible for invitation.
	ListActive(ctx context.Context) ([]models.AgentProfile, error)
	// Get returns one profile or ErrNotFound.
	Get(ctx context.Context, userID string) (*models.AgentProfile, error)
}

// Writer is the management surface used by seeding and admin tooling.
// The engine itself never writes profiles.
type Writer interface {
	Upsert(ctx context.Context, p models.AgentProfile, active bool) error
	SetActive(ctx context.Context, userID string, active bool) error
}
