package sqlite

import (
	"context"
	"fmt"

	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/ports"
)

// TenantStore implements ports.TenantSource with SQLite.
type TenantStore struct {
	db *DB
}

// NewTenantStore creates a new SQLite tenant store.
func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{db: db}
}

// GetTenant retrieves a tenant and its plan history in insertion order.
func (s *TenantStore) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, plan_id, current_plan_period_end,
			   next_plan_id, using_next_plan_from, next_plan_tax_rate_id
		FROM tenants WHERE id = ?
	`, id).Scan(
		&t.ID, &t.Name, &t.PlanID, &t.CurrentPlanPeriodEnd,
		&t.Reservation.NextPlanID, &t.Reservation.UsingNextPlanFrom, &t.Reservation.NextPlanTaxRateID,
	)
	if err != nil {
		return tenant.Tenant{}, notFound(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT plan_id, plan_applied_at, tax_rate_id
		FROM plan_histories WHERE tenant_id = ? ORDER BY id
	`, id)
	if err != nil {
		return tenant.Tenant{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var h tenant.PlanHistoryEntry
		if err := rows.Scan(&h.PlanID, &h.AppliedAt, &h.TaxRateID); err != nil {
			return tenant.Tenant{}, err
		}
		t.PlanHistories = append(t.PlanHistories, h)
	}
	return t, rows.Err()
}

// UpdatePlanReservation replaces the tenant's plan reservation.
func (s *TenantStore) UpdatePlanReservation(ctx context.Context, id string, r tenant.PlanReservation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET next_plan_id = ?, using_next_plan_from = ?, next_plan_tax_rate_id = ?
		WHERE id = ?
	`, r.NextPlanID, r.UsingNextPlanFrom, r.NextPlanTaxRateID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// PutTenant stores or replaces a tenant together with its full plan history.
func (s *TenantStore) PutTenant(ctx context.Context, t tenant.Tenant) error {
	if t.ID == "" {
		return fmt.Errorf("tenant id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenants (id, name, plan_id, current_plan_period_end,
			next_plan_id, using_next_plan_from, next_plan_tax_rate_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			plan_id = excluded.plan_id,
			current_plan_period_end = excluded.current_plan_period_end,
			next_plan_id = excluded.next_plan_id,
			using_next_plan_from = excluded.using_next_plan_from,
			next_plan_tax_rate_id = excluded.next_plan_tax_rate_id
	`, t.ID, t.Name, t.PlanID, t.CurrentPlanPeriodEnd,
		t.Reservation.NextPlanID, t.Reservation.UsingNextPlanFrom, t.Reservation.NextPlanTaxRateID)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_histories WHERE tenant_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clear plan history %s: %w", t.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plan_histories (tenant_id, plan_id, plan_applied_at, tax_rate_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, h := range t.PlanHistories {
		if _, err := stmt.ExecContext(ctx, t.ID, h.PlanID, h.AppliedAt, h.TaxRateID); err != nil {
			return fmt.Errorf("insert plan history %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

var _ ports.TenantSource = (*TenantStore)(nil)
