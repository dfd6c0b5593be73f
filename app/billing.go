package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/meterbill/domain/auth"
	"github.com/artpar/meterbill/domain/billing"
	"github.com/artpar/meterbill/domain/period"
	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/domain/usage"
	"github.com/artpar/meterbill/ports"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrForbidden is returned when the user lacks billing access to a tenant.
var ErrForbidden = errors.New("insufficient permissions")

// BillingService answers the billing screens of a tenant by combining the
// plan, tenant, tax rate and usage sources with the rating engine and the
// period segmenter.
type BillingService struct {
	rating    *RatingEngine
	segmenter *PeriodSegmenter
	plans     ports.PlanSource
	tenants   ports.TenantSource
	taxRates  ports.TaxRateSource
	metering  ports.MeteringWriter
	users     ports.UserInfoProvider
	clock     ports.Clock
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// BillingDeps contains dependencies for BillingService.
type BillingDeps struct {
	Rating    *RatingEngine
	Segmenter *PeriodSegmenter
	Plans     ports.PlanSource
	Tenants   ports.TenantSource
	TaxRates  ports.TaxRateSource
	Metering  ports.MeteringWriter
	Users     ports.UserInfoProvider
	Clock     ports.Clock
	Logger    zerolog.Logger
	Tracer    trace.Tracer // optional
}

// NewBillingService creates a new billing service.
func NewBillingService(deps BillingDeps) *BillingService {
	return &BillingService{
		rating:    deps.Rating,
		segmenter: deps.Segmenter,
		plans:     deps.Plans,
		tenants:   deps.Tenants,
		taxRates:  deps.TaxRates,
		metering:  deps.Metering,
		users:     deps.Users,
		clock:     deps.Clock,
		logger:    deps.Logger,
		tracer:    tracerOrNoop(deps.Tracer),
	}
}

// Authenticate resolves a bearer token to its user.
func (s *BillingService) Authenticate(ctx context.Context, token string) (auth.UserInfo, error) {
	if token == "" {
		return auth.UserInfo{}, ports.ErrUnauthorized
	}
	user, err := s.users.GetUserInfo(ctx, token)
	if err != nil {
		if errors.Is(err, ports.ErrUnauthorized) {
			return auth.UserInfo{}, err
		}
		return auth.UserInfo{}, ports.NewLookupError("user_info", "", err)
	}
	return user, nil
}

// Authorize resolves a bearer token and checks the user's billing access
// to tenantID.
func (s *BillingService) Authorize(ctx context.Context, token, tenantID string) (auth.UserInfo, error) {
	user, err := s.Authenticate(ctx, token)
	if err != nil {
		return auth.UserInfo{}, err
	}
	if !auth.HasBillingAccess(user, tenantID) {
		s.logger.Info().
			Str("user_id", user.ID).
			Str("tenant_id", tenantID).
			Msg("billing access denied")
		return auth.UserInfo{}, ErrForbidden
	}
	return user, nil
}

// Dashboard rates planID for the tenant over [start, end] and attaches the
// plan info and the tax rate the tenant had for that plan at start.
func (s *BillingService) Dashboard(ctx context.Context, tenantID, planID string, start, end int64) (billing.Dashboard, error) {
	ctx, span := s.tracer.Start(ctx, "BillingService.Dashboard", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("plan_id", planID),
		attribute.Int64("period_start", start),
		attribute.Int64("period_end", end),
	))
	d, err := s.dashboard(ctx, tenantID, planID, start, end)
	endSpan(span, err)
	return d, err
}

func (s *BillingService) dashboard(ctx context.Context, tenantID, planID string, start, end int64) (billing.Dashboard, error) {
	if tenantID == "" || planID == "" {
		return billing.Dashboard{}, fmt.Errorf("%w: tenant_id and plan_id are required", ErrInvalidArgument)
	}
	if end < start {
		return billing.Dashboard{}, fmt.Errorf("%w: period_end before period_start", ErrInvalidArgument)
	}

	var (
		plan pricing.Plan
		t    tenant.Tenant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		plan, err = s.plans.GetPlan(gctx, planID)
		return ports.NewLookupError("plan", planID, err)
	})
	g.Go(func() error {
		var err error
		t, err = s.tenants.GetTenant(gctx, tenantID)
		return ports.NewLookupError("tenant", tenantID, err)
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return billing.Dashboard{}, cancelled(ctxErr)
		}
		return billing.Dashboard{}, err
	}

	tax, err := s.taxRateFor(ctx, t, planID, start)
	if err != nil {
		return billing.Dashboard{}, err
	}

	result, err := s.rating.Rate(ctx, tenantID, time.Unix(start, 0), time.Unix(end, 0), plan)
	if err != nil {
		return billing.Dashboard{}, err
	}

	info := billing.PlanInfo{
		PlanID:      planID,
		DisplayName: plan.DisplayName,
		Description: plan.Description,
	}
	return billing.NewDashboard(result, info, tax), nil
}

func (s *BillingService) taxRateFor(ctx context.Context, t tenant.Tenant, planID string, start int64) (*tenant.TaxRate, error) {
	id := tenant.TaxRateIDForPeriod(t.PlanHistories, planID, start)
	if id == "" {
		return nil, nil
	}

	rates, err := s.taxRates.ListTaxRates(ctx)
	if err != nil {
		return nil, ports.NewLookupError("tax_rate", id, err)
	}
	rate, ok := tenant.FindTaxRate(rates, id)
	if !ok {
		s.logger.Warn().
			Str("tenant_id", t.ID).
			Str("tax_rate_id", id).
			Msg("tax rate referenced by plan history not found")
		return nil, nil
	}
	return &rate, nil
}

// PlanPeriods returns the tenant's billing periods, most recent first.
func (s *BillingService) PlanPeriods(ctx context.Context, tenantID string) ([]period.Segment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id required", ErrInvalidArgument)
	}

	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, ports.NewLookupError("tenant", tenantID, err)
	}
	return s.segmenter.Segment(ctx, tenantID, t.PlanHistories, t.BillingContext(), s.plans.GetPlan)
}

// UpdateMeteringCount applies a counter update for one metering unit at ts.
// A zero ts means now.
func (s *BillingService) UpdateMeteringCount(ctx context.Context, tenantID, unitName string, ts int64, u usage.CountUpdate) (usage.Count, error) {
	if tenantID == "" || unitName == "" {
		return usage.Count{}, fmt.Errorf("%w: tenant_id and metering unit are required", ErrInvalidArgument)
	}
	if err := usage.ValidateUpdate(u); err != nil {
		return usage.Count{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	at := s.clock.Now()
	if ts > 0 {
		at = time.Unix(ts, 0)
	}

	count, err := s.metering.UpdateCount(ctx, tenantID, unitName, at, u)
	if err != nil {
		return usage.Count{}, ports.NewLookupError("usage", unitName, err)
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("metering_unit", unitName).
		Str("method", string(u.Method)).
		Int64("count", u.Count).
		Int64("result", count.Count).
		Msg("metering count updated")
	return count, nil
}

// ListPlans returns every pricing plan.
func (s *BillingService) ListPlans(ctx context.Context) ([]pricing.Plan, error) {
	plans, err := s.plans.ListPlans(ctx)
	if err != nil {
		return nil, ports.NewLookupError("plan", "", err)
	}
	return plans, nil
}

// ListTaxRates returns every tax rate.
func (s *BillingService) ListTaxRates(ctx context.Context) ([]tenant.TaxRate, error) {
	rates, err := s.taxRates.ListTaxRates(ctx)
	if err != nil {
		return nil, ports.NewLookupError("tax_rate", "", err)
	}
	return rates, nil
}

// TenantPlan is a tenant's current plan and any scheduled switch.
type TenantPlan struct {
	ID          string
	Name        string
	PlanID      string
	TaxRateID   string
	Reservation *tenant.PlanReservation // nil when nothing is scheduled
}

// TenantPlan returns the tenant's plan. The tax rate is the one recorded
// on the last plan history entry.
func (s *BillingService) TenantPlan(ctx context.Context, tenantID string) (TenantPlan, error) {
	if tenantID == "" {
		return TenantPlan{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidArgument)
	}

	t, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return TenantPlan{}, ports.NewLookupError("tenant", tenantID, err)
	}

	tp := TenantPlan{
		ID:        t.ID,
		Name:      t.Name,
		PlanID:    t.PlanID,
		TaxRateID: tenant.CurrentTaxRateID(t.PlanHistories),
	}
	if t.Reservation.IsScheduled() {
		r := t.Reservation
		tp.Reservation = &r
	}
	return tp, nil
}

// UpdateTenantPlan schedules the tenant's next plan. An empty next plan
// with no start time cancels a pending reservation.
func (s *BillingService) UpdateTenantPlan(ctx context.Context, tenantID string, r tenant.PlanReservation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidArgument)
	}
	if r.UsingNextPlanFrom < 0 {
		r.UsingNextPlanFrom = 0
	}

	if err := s.tenants.UpdatePlanReservation(ctx, tenantID, r); err != nil {
		return ports.NewLookupError("tenant", tenantID, err)
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("next_plan_id", r.NextPlanID).
		Int64("using_next_plan_from", r.UsingNextPlanFrom).
		Msg("tenant plan reservation updated")
	return nil
}
