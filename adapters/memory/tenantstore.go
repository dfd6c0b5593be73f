package memory

import (
	"context"
	"sync"

	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/ports"
)

// TenantStore is an in-memory implementation of ports.TenantSource and
// ports.TaxRateSource.
type TenantStore struct {
	mu       sync.RWMutex
	tenants  map[string]tenant.Tenant
	taxRates []tenant.TaxRate
}

// NewTenantStore creates an empty tenant store.
func NewTenantStore() *TenantStore {
	return &TenantStore{tenants: make(map[string]tenant.Tenant)}
}

// Put stores or replaces a tenant.
func (s *TenantStore) Put(t tenant.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// PutTaxRate appends a tax rate.
func (s *TenantStore) PutTaxRate(r tenant.TaxRate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxRates = append(s.taxRates, r)
}

// GetTenant retrieves a tenant by ID.
func (s *TenantStore) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return tenant.Tenant{}, ports.ErrNotFound
	}
	t.PlanHistories = append([]tenant.PlanHistoryEntry(nil), t.PlanHistories...)
	return t, nil
}

// UpdatePlanReservation replaces the tenant's plan reservation.
func (s *TenantStore) UpdatePlanReservation(ctx context.Context, id string, r tenant.PlanReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return ports.ErrNotFound
	}
	t.Reservation = r
	s.tenants[id] = t
	return nil
}

// ListTaxRates returns the tax rates in insertion order.
func (s *TenantStore) ListTaxRates(ctx context.Context) ([]tenant.TaxRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]tenant.TaxRate(nil), s.taxRates...), nil
}

var (
	_ ports.TenantSource  = (*TenantStore)(nil)
	_ ports.TaxRateSource = (*TenantStore)(nil)
)
