// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/meterbill/domain/auth"
	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher hashes bearer tokens so config files need not hold them in clear.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Data Source Ports
// -----------------------------------------------------------------------------

// UsageSource reads raw metering counters.
type UsageSource interface {
	// GetUsageCounts returns the samples of one metering unit for a tenant
	// within [start, end].
	GetUsageCounts(ctx context.Context, tenantID, unitName string, start, end time.Time) ([]usage.Count, error)
}

// MeteringWriter updates metering counters.
type MeteringWriter interface {
	// UpdateCount applies an update to the counter bucket at ts and returns
	// the resulting count.
	UpdateCount(ctx context.Context, tenantID, unitName string, ts time.Time, u usage.CountUpdate) (usage.Count, error)
}

// PlanSource reads pricing plan definitions.
type PlanSource interface {
	// GetPlan retrieves a plan by ID. Returns ErrNotFound for unknown IDs.
	GetPlan(ctx context.Context, id string) (pricing.Plan, error)

	// ListPlans returns all plans.
	ListPlans(ctx context.Context) ([]pricing.Plan, error)
}

// PlanLookup resolves one plan. PlanSource.GetPlan satisfies it.
type PlanLookup func(ctx context.Context, id string) (pricing.Plan, error)

// TenantSource reads and updates tenant records.
type TenantSource interface {
	// GetTenant retrieves a tenant by ID. Returns ErrNotFound for unknown IDs.
	GetTenant(ctx context.Context, id string) (tenant.Tenant, error)

	// UpdatePlanReservation schedules (or clears) the tenant's next plan.
	UpdatePlanReservation(ctx context.Context, id string, r tenant.PlanReservation) error
}

// TaxRateSource reads tax rate definitions.
type TaxRateSource interface {
	ListTaxRates(ctx context.Context) ([]tenant.TaxRate, error)
}

// UserInfoProvider resolves a bearer token to the authenticated user.
type UserInfoProvider interface {
	GetUserInfo(ctx context.Context, token string) (auth.UserInfo, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound is returned by sources when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when credentials are missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
)

// LookupError is a failed call to an external source. It wraps the
// source's error, so errors.Is(err, ErrNotFound) still matches.
type LookupError struct {
	Source string // "usage", "plan", "tenant", "tax_rate", "user_info"
	Key    string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s lookup %q: %v", e.Source, e.Key, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// StatusCode returns the upstream status carried by the wrapped error, or 0.
func (e *LookupError) StatusCode() int {
	var sc interface{ HTTPStatus() int }
	if errors.As(e.Err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}

// NewLookupError wraps err unless it is nil or already a LookupError.
func NewLookupError(source, key string, err error) error {
	if err == nil {
		return nil
	}
	var le *LookupError
	if errors.As(err, &le) {
		return err
	}
	return &LookupError{Source: source, Key: key, Err: err}
}
