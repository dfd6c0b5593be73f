package remote

import (
	"context"
	"net/http"

	"github.com/artpar/meterbill/domain/auth"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/pkg/wire"
	"github.com/artpar/meterbill/ports"
)

// AuthService reads tenants and users from the external auth service.
//
// API Contract:
//
//	GET /tenants/{tenant_id}
//	Response: {"id": "...", "name": "...", "plan_id": "...", "plan_histories": [...], ...}
//
//	PUT /tenants/{tenant_id}/plan
//	Request:  {"next_plan_id": "...", "using_next_plan_from": 1706713200, "next_plan_tax_rate_id": "..."}
//	Response: {}
//
//	GET /userinfo   (Authorization: Bearer <user's id token>)
//	Response: {"id": "...", "email": "...", "tenants": [{"id": "...", "envs": [{"roles": [...]}]}]}
type AuthService struct {
	client *Client
}

// NewAuthService creates a remote auth service adapter.
func NewAuthService(client *Client) *AuthService {
	return &AuthService{client: client}
}

// GetTenant retrieves a tenant by ID.
func (s *AuthService) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	var t wire.Tenant
	if err := s.client.Request(ctx, http.MethodGet, "/tenants/"+escape(id), nil, &t); err != nil {
		return tenant.Tenant{}, err
	}
	return t.ToDomain(), nil
}

// UpdatePlanReservation schedules the tenant's next plan.
func (s *AuthService) UpdatePlanReservation(ctx context.Context, id string, r tenant.PlanReservation) error {
	return s.client.Request(ctx, http.MethodPut, "/tenants/"+escape(id)+"/plan", wire.FromReservation(r), nil)
}

// GetUserInfo resolves a user's id token.
func (s *AuthService) GetUserInfo(ctx context.Context, token string) (auth.UserInfo, error) {
	var u wire.UserInfo
	if err := s.client.RequestAs(ctx, token, http.MethodGet, "/userinfo", nil, &u); err != nil {
		return auth.UserInfo{}, err
	}
	return u.ToDomain(), nil
}

var (
	_ ports.TenantSource     = (*AuthService)(nil)
	_ ports.UserInfoProvider = (*AuthService)(nil)
)
