package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/domain/usage"
	"github.com/artpar/meterbill/pkg/wire"
	"github.com/artpar/meterbill/ports"
)

// PricingService reads plans, tax rates and metering counts from the
// external pricing service, and updates metering counts there.
//
// API Contract:
//
//	GET /pricing-plans
//	Response: {"pricing_plans": [{...}]}
//
//	GET /pricing-plans/{plan_id}
//	Response: {"id": "...", "display_name": "...", "pricing_menus": [...]}
//
//	GET /tax-rates
//	Response: {"tax_rates": [{...}]}
//
//	GET /metering/tenants/{tenant_id}/units/{unit}/date-periods?start_timestamp=...&end_timestamp=...
//	Response: {"counts": [{"timestamp": 1704034800, "count": 12}]}
//
//	PUT /metering/tenants/{tenant_id}/units/{unit}/timestamp/{ts}
//	Request:  {"method": "add", "count": 1}
//	Response: {"timestamp": 1704034800, "count": 13}
type PricingService struct {
	client *Client
}

// NewPricingService creates a remote pricing service adapter.
func NewPricingService(client *Client) *PricingService {
	return &PricingService{client: client}
}

type planList struct {
	PricingPlans []wire.Plan `json:"pricing_plans"`
}

type taxRateList struct {
	TaxRates []wire.TaxRate `json:"tax_rates"`
}

type countList struct {
	Counts []wire.MeteringCount `json:"counts"`
}

// GetPlan retrieves a plan by ID.
func (s *PricingService) GetPlan(ctx context.Context, id string) (pricing.Plan, error) {
	var p wire.Plan
	if err := s.client.Request(ctx, http.MethodGet, "/pricing-plans/"+escape(id), nil, &p); err != nil {
		return pricing.Plan{}, err
	}
	return p.ToDomain()
}

// ListPlans returns all plans.
func (s *PricingService) ListPlans(ctx context.Context) ([]pricing.Plan, error) {
	var resp planList
	if err := s.client.Request(ctx, http.MethodGet, "/pricing-plans", nil, &resp); err != nil {
		return nil, err
	}

	plans := make([]pricing.Plan, 0, len(resp.PricingPlans))
	for _, wp := range resp.PricingPlans {
		p, err := wp.ToDomain()
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// ListTaxRates returns all tax rates.
func (s *PricingService) ListTaxRates(ctx context.Context) ([]tenant.TaxRate, error) {
	var resp taxRateList
	if err := s.client.Request(ctx, http.MethodGet, "/tax-rates", nil, &resp); err != nil {
		return nil, err
	}

	rates := make([]tenant.TaxRate, len(resp.TaxRates))
	for i, r := range resp.TaxRates {
		rates[i] = r.ToDomain()
	}
	return rates, nil
}

// GetUsageCounts returns the daily counts of one metering unit within
// [start, end]. Upstream errors, 404 included, are returned as *RemoteError.
func (s *PricingService) GetUsageCounts(ctx context.Context, tenantID, unit string, start, end time.Time) ([]usage.Count, error) {
	q := url.Values{}
	q.Set("start_timestamp", strconv.FormatInt(start.Unix(), 10))
	q.Set("end_timestamp", strconv.FormatInt(end.Unix(), 10))
	path := fmt.Sprintf("/metering/tenants/%s/units/%s/date-periods?%s", escape(tenantID), escape(unit), q.Encode())

	var resp countList
	if err := s.client.Request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	counts := make([]usage.Count, len(resp.Counts))
	for i, c := range resp.Counts {
		counts[i] = usage.Count{Timestamp: c.Timestamp, Count: c.Count}
	}
	return counts, nil
}

// UpdateCount applies a counter update at ts.
func (s *PricingService) UpdateCount(ctx context.Context, tenantID, unit string, ts time.Time, u usage.CountUpdate) (usage.Count, error) {
	path := fmt.Sprintf("/metering/tenants/%s/units/%s/timestamp/%d", escape(tenantID), escape(unit), ts.Unix())
	body := wire.MeteringUpdate{Method: string(u.Method), Count: u.Count}

	var resp wire.MeteringCount
	if err := s.client.Request(ctx, http.MethodPut, path, body, &resp); err != nil {
		return usage.Count{}, err
	}
	return usage.Count{Timestamp: resp.Timestamp, Count: resp.Count}, nil
}

var (
	_ ports.PlanSource     = (*PricingService)(nil)
	_ ports.TaxRateSource  = (*PricingService)(nil)
	_ ports.UsageSource    = (*PricingService)(nil)
	_ ports.MeteringWriter = (*PricingService)(nil)
)
