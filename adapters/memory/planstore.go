package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/ports"
)

// PlanStore is an in-memory implementation of ports.PlanSource.
type PlanStore struct {
	mu      sync.RWMutex
	plans   map[string]pricing.Plan
	lookups map[string]int
}

// NewPlanStore creates a plan store holding plans.
func NewPlanStore(plans ...pricing.Plan) *PlanStore {
	s := &PlanStore{
		plans:   make(map[string]pricing.Plan),
		lookups: make(map[string]int),
	}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

// Put stores or replaces a plan.
func (s *PlanStore) Put(p pricing.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
}

// Lookups returns how many times id was fetched through GetPlan.
func (s *PlanStore) Lookups(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups[id]
}

// GetPlan retrieves a plan by ID.
func (s *PlanStore) GetPlan(ctx context.Context, id string) (pricing.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups[id]++
	p, ok := s.plans[id]
	if !ok {
		return pricing.Plan{}, ports.ErrNotFound
	}
	return p, nil
}

// ListPlans returns all plans ordered by ID.
func (s *PlanStore) ListPlans(ctx context.Context) ([]pricing.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]pricing.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ ports.PlanSource = (*PlanStore)(nil)
