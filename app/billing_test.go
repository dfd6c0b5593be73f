package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/meterbill/adapters/clock"
	"github.com/artpar/meterbill/adapters/memory"
	"github.com/artpar/meterbill/app"
	"github.com/artpar/meterbill/domain/auth"
	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/domain/usage"
	"github.com/artpar/meterbill/ports"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type billingFixture struct {
	svc     *app.BillingService
	usage   *memory.UsageStore
	plans   *memory.PlanStore
	tenants *memory.TenantStore
	users   *memory.UserStore
	clock   *clock.Manual
}

func newBillingFixture() *billingFixture {
	f := &billingFixture{
		usage:   memory.NewUsageStore(),
		plans:   memory.NewPlanStore(),
		tenants: memory.NewTenantStore(),
		users:   memory.NewUserStore(),
		clock:   clock.NewManual(time.Unix(jst(2024, 2, 15), 0)),
	}
	logger := zerolog.Nop()

	f.svc = app.NewBillingService(app.BillingDeps{
		Rating:    app.NewRatingEngine(app.RatingDeps{Usage: f.usage, Logger: logger}, app.RatingConfig{}),
		Segmenter: app.NewPeriodSegmenter(app.SegmenterDeps{Clock: f.clock, Logger: logger}),
		Plans:     f.plans,
		Tenants:   f.tenants,
		TaxRates:  f.tenants,
		Metering:  f.usage,
		Users:     f.users,
		Clock:     f.clock,
		Logger:    logger,
	})
	return f
}

func (f *billingFixture) seed() {
	f.plans.Put(pricing.Plan{
		ID:          "basic",
		DisplayName: "Basic",
		Description: "Basic plan",
		Menus: []pricing.Menu{{DisplayName: "API", Units: []pricing.Unit{
			pricing.FixedUnit{UnitBase: pricing.UnitBase{DisplayName: "base"}, Amount: d(1000)},
			pricing.UsageUnit{UnitBase: pricing.UnitBase{DisplayName: "calls"}, Metered: metered("api_calls"), UnitAmount: d(2)},
		}}},
	})
	f.plans.Put(monthlyPlan("pro"))

	f.tenants.Put(tenant.Tenant{
		ID:     "t1",
		Name:   "Acme",
		PlanID: "pro",
		PlanHistories: []tenant.PlanHistoryEntry{
			{PlanID: "basic", AppliedAt: jst(2023, 12, 1), TaxRateID: "tax8"},
			{PlanID: "basic", AppliedAt: jst(2024, 1, 1), TaxRateID: "tax10"},
			{PlanID: "pro", AppliedAt: jst(2024, 2, 1), TaxRateID: "tax10b"},
		},
	})
	f.tenants.PutTaxRate(tenant.TaxRate{ID: "tax8", DisplayName: "8%", Percentage: decimal.NewFromInt(8)})
	f.tenants.PutTaxRate(tenant.TaxRate{ID: "tax10", DisplayName: "10%", Percentage: decimal.NewFromInt(10)})

	f.usage.Set("t1", "api_calls", jst(2024, 1, 5), 30)
}

func TestBilling_Dashboard(t *testing.T) {
	f := newBillingFixture()
	f.seed()

	dash, err := f.svc.Dashboard(context.Background(), "t1", "basic", jst(2024, 1, 1), jst(2024, 2, 1)-1)
	if err != nil {
		t.Fatalf("Dashboard error: %v", err)
	}

	if dash.Summary.TotalMeteringUnits != 2 {
		t.Errorf("TotalMeteringUnits = %d, want 2", dash.Summary.TotalMeteringUnits)
	}
	if len(dash.Summary.TotalByCurrency) != 1 || !dash.Summary.TotalByCurrency[0].TotalAmount.Equal(d(1060)) {
		t.Errorf("TotalByCurrency = %+v, want JPY 1060", dash.Summary.TotalByCurrency)
	}
	if dash.Plan.PlanID != "basic" || dash.Plan.DisplayName != "Basic" || dash.Plan.Description != "Basic plan" {
		t.Errorf("Plan = %+v", dash.Plan)
	}
	if dash.TaxRate == nil || dash.TaxRate.ID != "tax10" {
		t.Errorf("TaxRate = %+v, want tax10", dash.TaxRate)
	}
}

func TestBilling_DashboardTaxRate(t *testing.T) {
	tests := []struct {
		name  string
		plan  string
		start int64
		want  string // "" = no tax rate
	}{
		{"earlier application", "basic", jst(2023, 12, 15), "tax8"},
		{"latest application before start", "basic", jst(2024, 1, 20), "tax10"},
		{"before any application", "basic", jst(2023, 11, 1), ""},
		{"unknown tax rate id", "pro", jst(2024, 2, 1), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture()
			f.seed()

			dash, err := f.svc.Dashboard(context.Background(), "t1", tt.plan, tt.start, tt.start+day)
			if err != nil {
				t.Fatalf("Dashboard error: %v", err)
			}
			switch {
			case tt.want == "" && dash.TaxRate != nil:
				t.Errorf("TaxRate = %+v, want none", dash.TaxRate)
			case tt.want != "" && (dash.TaxRate == nil || dash.TaxRate.ID != tt.want):
				t.Errorf("TaxRate = %+v, want %s", dash.TaxRate, tt.want)
			}
		})
	}
}

func TestBilling_DashboardErrors(t *testing.T) {
	f := newBillingFixture()
	f.seed()
	ctx := context.Background()

	if _, err := f.svc.Dashboard(ctx, "", "basic", 0, 1); !errors.Is(err, app.ErrInvalidArgument) {
		t.Errorf("missing tenant: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := f.svc.Dashboard(ctx, "t1", "basic", 10, 1); !errors.Is(err, app.ErrInvalidArgument) {
		t.Errorf("inverted period: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := f.svc.Dashboard(ctx, "t1", "missing", 0, 1); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("unknown plan: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.Dashboard(ctx, "nobody", "basic", 0, 1); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("unknown tenant: err = %v, want ErrNotFound", err)
	}
}

func TestBilling_PlanPeriods(t *testing.T) {
	f := newBillingFixture()
	f.seed()

	segs, err := f.svc.PlanPeriods(context.Background(), "t1")
	if err != nil {
		t.Fatalf("PlanPeriods error: %v", err)
	}

	// Dec, Jan for basic; Feb 1 up to the clock (Feb 15) for pro.
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if segs[0].PlanID != "pro" || segs[0].End != f.clock.Now().Unix() {
		t.Errorf("newest segment = %+v", segs[0])
	}
	if segs[2].PlanID != "basic" || segs[2].Start != jst(2023, 12, 1) {
		t.Errorf("oldest segment = %+v", segs[2])
	}
}

func TestBilling_UpdateMeteringCount(t *testing.T) {
	f := newBillingFixture()
	ctx := context.Background()

	got, err := f.svc.UpdateMeteringCount(ctx, "t1", "api_calls", 0, usage.CountUpdate{Method: usage.MethodAdd, Count: 5})
	if err != nil {
		t.Fatalf("UpdateMeteringCount error: %v", err)
	}
	if got.Count != 5 || got.Timestamp != f.clock.Now().Unix() {
		t.Errorf("count = %+v, want 5 at the clock's time", got)
	}

	at := jst(2024, 1, 3) + 3600
	got, err = f.svc.UpdateMeteringCount(ctx, "t1", "api_calls", at, usage.CountUpdate{Method: usage.MethodDirect, Count: 9})
	if err != nil {
		t.Fatalf("UpdateMeteringCount error: %v", err)
	}
	if got.Timestamp != at || got.Count != 9 {
		t.Errorf("count = %+v, want 9 at %d", got, at)
	}
}

func TestBilling_UpdateMeteringCountValidation(t *testing.T) {
	f := newBillingFixture()

	tests := []struct {
		name   string
		unit   string
		update usage.CountUpdate
	}{
		{"unknown method", "api_calls", usage.CountUpdate{Method: "mul", Count: 1}},
		{"negative count", "api_calls", usage.CountUpdate{Method: usage.MethodAdd, Count: -1}},
		{"missing unit", "", usage.CountUpdate{Method: usage.MethodAdd, Count: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateMeteringCount(context.Background(), "t1", tt.unit, 0, tt.update)
			if !errors.Is(err, app.ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestBilling_TenantPlan(t *testing.T) {
	f := newBillingFixture()
	f.seed()
	ctx := context.Background()

	tp, err := f.svc.TenantPlan(ctx, "t1")
	if err != nil {
		t.Fatalf("TenantPlan error: %v", err)
	}
	if tp.PlanID != "pro" || tp.TaxRateID != "tax10b" || tp.Name != "Acme" {
		t.Errorf("TenantPlan = %+v", tp)
	}
	if tp.Reservation != nil {
		t.Errorf("Reservation = %+v, want nil", tp.Reservation)
	}

	r := tenant.PlanReservation{NextPlanID: "basic", UsingNextPlanFrom: jst(2024, 3, 1), NextPlanTaxRateID: "tax10"}
	if err := f.svc.UpdateTenantPlan(ctx, "t1", r); err != nil {
		t.Fatalf("UpdateTenantPlan error: %v", err)
	}

	tp, _ = f.svc.TenantPlan(ctx, "t1")
	if tp.Reservation == nil || *tp.Reservation != r {
		t.Errorf("Reservation = %+v, want %+v", tp.Reservation, r)
	}

	if err := f.svc.UpdateTenantPlan(ctx, "t1", tenant.PlanReservation{}); err != nil {
		t.Fatalf("clearing reservation: %v", err)
	}
	tp, _ = f.svc.TenantPlan(ctx, "t1")
	if tp.Reservation != nil {
		t.Errorf("Reservation after clearing = %+v, want nil", tp.Reservation)
	}
}

func TestBilling_Authorize(t *testing.T) {
	f := newBillingFixture()
	f.users.Put("admin-token", auth.UserInfo{ID: "u1", Tenants: []auth.TenantMembership{{
		ID:   "t1",
		Envs: []auth.Env{{ID: 1, Roles: []auth.Role{{RoleName: auth.RoleAdmin}}}},
	}}})
	f.users.Put("viewer-token", auth.UserInfo{ID: "u2", Tenants: []auth.TenantMembership{{
		ID:   "t1",
		Envs: []auth.Env{{ID: 1, Roles: []auth.Role{{RoleName: "viewer"}}}},
	}}})
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		tenant  string
		wantErr error
	}{
		{"admin", "admin-token", "t1", nil},
		{"other tenant", "admin-token", "t2", app.ErrForbidden},
		{"viewer", "viewer-token", "t1", app.ErrForbidden},
		{"unknown token", "nope", "t1", ports.ErrUnauthorized},
		{"no token", "", "t1", ports.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Authorize(ctx, tt.token, tt.tenant)
			if tt.wantErr == nil && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBilling_Listings(t *testing.T) {
	f := newBillingFixture()
	f.seed()
	ctx := context.Background()

	plans, err := f.svc.ListPlans(ctx)
	if err != nil || len(plans) != 2 {
		t.Errorf("ListPlans = %d plans, %v", len(plans), err)
	}
	rates, err := f.svc.ListTaxRates(ctx)
	if err != nil || len(rates) != 2 {
		t.Errorf("ListTaxRates = %d rates, %v", len(rates), err)
	}
}
