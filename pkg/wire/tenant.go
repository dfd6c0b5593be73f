package wire

import (
	"github.com/artpar/meterbill/domain/auth"
	"github.com/artpar/meterbill/domain/tenant"
)

// Tenant is a tenant record on the wire.
type Tenant struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	PlanID               string        `json:"plan_id"`
	PlanHistories        []PlanHistory `json:"plan_histories"`
	CurrentPlanPeriodEnd int64         `json:"current_plan_period_end,omitempty"`
	NextPlanID           string        `json:"next_plan_id,omitempty"`
	UsingNextPlanFrom    int64         `json:"using_next_plan_from,omitempty"`
	NextPlanTaxRateID    string        `json:"next_plan_tax_rate_id,omitempty"`
}

// PlanHistory is one plan history entry on the wire.
type PlanHistory struct {
	PlanID        string `json:"plan_id"`
	PlanAppliedAt int64  `json:"plan_applied_at"`
	TaxRateID     string `json:"tax_rate_id,omitempty"`
}

// PlanReservation is the body of a plan reservation update.
type PlanReservation struct {
	NextPlanID        string `json:"next_plan_id,omitempty"`
	UsingNextPlanFrom int64  `json:"using_next_plan_from,omitempty"`
	NextPlanTaxRateID string `json:"next_plan_tax_rate_id,omitempty"`
}

// TaxRate is a tax rate on the wire.
type TaxRate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Percentage  Amount `json:"percentage"`
	Inclusive   bool   `json:"inclusive"`
	Country     string `json:"country,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToDomain converts a wire tenant.
func (t Tenant) ToDomain() tenant.Tenant {
	out := tenant.Tenant{
		ID:                   t.ID,
		Name:                 t.Name,
		PlanID:               t.PlanID,
		PlanHistories:        make([]tenant.PlanHistoryEntry, len(t.PlanHistories)),
		CurrentPlanPeriodEnd: t.CurrentPlanPeriodEnd,
		Reservation: tenant.PlanReservation{
			NextPlanID:        t.NextPlanID,
			UsingNextPlanFrom: t.UsingNextPlanFrom,
			NextPlanTaxRateID: t.NextPlanTaxRateID,
		},
	}
	for i, h := range t.PlanHistories {
		out.PlanHistories[i] = tenant.PlanHistoryEntry{
			PlanID:    h.PlanID,
			AppliedAt: h.PlanAppliedAt,
			TaxRateID: h.TaxRateID,
		}
	}
	return out
}

// FromTenant converts a domain tenant.
func FromTenant(t tenant.Tenant) Tenant {
	out := Tenant{
		ID:                   t.ID,
		Name:                 t.Name,
		PlanID:               t.PlanID,
		PlanHistories:        make([]PlanHistory, len(t.PlanHistories)),
		CurrentPlanPeriodEnd: t.CurrentPlanPeriodEnd,
		NextPlanID:           t.Reservation.NextPlanID,
		UsingNextPlanFrom:    t.Reservation.UsingNextPlanFrom,
		NextPlanTaxRateID:    t.Reservation.NextPlanTaxRateID,
	}
	for i, h := range t.PlanHistories {
		out.PlanHistories[i] = PlanHistory{PlanID: h.PlanID, PlanAppliedAt: h.AppliedAt, TaxRateID: h.TaxRateID}
	}
	return out
}

// ToDomain converts a wire reservation.
func (r PlanReservation) ToDomain() tenant.PlanReservation {
	return tenant.PlanReservation{
		NextPlanID:        r.NextPlanID,
		UsingNextPlanFrom: r.UsingNextPlanFrom,
		NextPlanTaxRateID: r.NextPlanTaxRateID,
	}
}

// FromReservation converts a domain reservation.
func FromReservation(r tenant.PlanReservation) PlanReservation {
	return PlanReservation{
		NextPlanID:        r.NextPlanID,
		UsingNextPlanFrom: r.UsingNextPlanFrom,
		NextPlanTaxRateID: r.NextPlanTaxRateID,
	}
}

// ToDomain converts a wire tax rate.
func (r TaxRate) ToDomain() tenant.TaxRate {
	return tenant.TaxRate{
		ID:          r.ID,
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Percentage:  r.Percentage.Decimal(),
		Inclusive:   r.Inclusive,
		Country:     r.Country,
		Description: r.Description,
	}
}

// FromTaxRate converts a domain tax rate.
func FromTaxRate(r tenant.TaxRate) TaxRate {
	return TaxRate{
		ID:          r.ID,
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Percentage:  NewAmount(r.Percentage),
		Inclusive:   r.Inclusive,
		Country:     r.Country,
		Description: r.Description,
	}
}

// FromTaxRates converts a list of domain tax rates.
func FromTaxRates(rates []tenant.TaxRate) []TaxRate {
	out := make([]TaxRate, len(rates))
	for i, r := range rates {
		out[i] = FromTaxRate(r)
	}
	return out
}

// UserInfo is the identity provider's user on the wire.
type UserInfo struct {
	ID      string             `json:"id"`
	Email   string             `json:"email"`
	Tenants []TenantMembership `json:"tenants"`
}

// TenantMembership is a user's tenant on the wire.
type TenantMembership struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Envs []Env  `json:"envs"`
}

// Env is an environment with the user's roles on the wire.
type Env struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Roles []Role `json:"roles"`
}

// Role is a role on the wire.
type Role struct {
	RoleName    string `json:"role_name"`
	DisplayName string `json:"display_name"`
}

// ToDomain converts a wire user.
func (u UserInfo) ToDomain() auth.UserInfo {
	out := auth.UserInfo{ID: u.ID, Email: u.Email, Tenants: make([]auth.TenantMembership, len(u.Tenants))}
	for i, t := range u.Tenants {
		m := auth.TenantMembership{ID: t.ID, Name: t.Name, Envs: make([]auth.Env, len(t.Envs))}
		for j, e := range t.Envs {
			env := auth.Env{ID: e.ID, Name: e.Name, Roles: make([]auth.Role, len(e.Roles))}
			for k, r := range e.Roles {
				env.Roles[k] = auth.Role{RoleName: r.RoleName, DisplayName: r.DisplayName}
			}
			m.Envs[j] = env
		}
		out.Tenants[i] = m
	}
	return out
}
