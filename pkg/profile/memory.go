package profile

import (
	"context"
	"sync"

	"github.com/NatureBlueee/towow/pkg/models"
)

// MemoryRepository is an in-memory Repository for tests and dev mode.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]models.AgentProfile
	inactive map[string]bool
	order    []string
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Writer     = (*MemoryRepository)(nil)
)

// NewMemoryRepository creates a repository pre-loaded with the given
// profiles, all active.
func NewMemoryRepository(profiles ...models.AgentProfile) *MemoryRepository {
	r := &MemoryRepository{
		profiles: make(map[string]models.AgentProfile, len(profiles)),
		inactive: make(map[string]bool),
	}
	for _, p := range profiles {
		r.profiles[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r
}

// ListActive implements Repository.
func (r *MemoryRepository) ListActive(context.Context) ([]models.AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.AgentProfile, 0, len(r.order))
	for _, id := range r.order {
		if !r.inactive[id] {
			out = append(out, r.profiles[id])
		}
	}
	return out, nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, userID string) (*models.AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// Upsert implements Writer.
func (r *MemoryRepository) Upsert(_ context.Context, p models.AgentProfile, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.profiles[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	r.profiles[p.ID] = p
	r.inactive[p.ID] = !active
	return nil
}

// SetActive implements Writer.
func (r *MemoryRepository) SetActive(_ context.Context, userID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[userID]; !ok {
		return ErrNotFound
	}
	r.inactive[userID] = !active
	return nil
}
