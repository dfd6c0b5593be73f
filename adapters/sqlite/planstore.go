package sqlite

import (
	"context"
	"fmt"

	"github.com/artpar/meterbill/domain/pricing"
	"github.com/artpar/meterbill/domain/tenant"
	"github.com/artpar/meterbill/pkg/wire"
	"github.com/artpar/meterbill/ports"
)

// PlanStore implements ports.PlanSource and ports.TaxRateSource with SQLite.
// Plans are kept as JSON wire documents.
type PlanStore struct {
	db *DB
}

// NewPlanStore creates a new SQLite plan store.
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

// GetPlan retrieves a plan by ID.
func (s *PlanStore) GetPlan(ctx context.Context, id string) (pricing.Plan, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM plans WHERE id = ?`, id).Scan(&doc)
	if err != nil {
		return pricing.Plan{}, notFound(err)
	}
	return wire.DecodePlan([]byte(doc))
}

// ListPlans returns all plans ordered by ID.
func (s *PlanStore) ListPlans(ctx context.Context) ([]pricing.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM plans ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []pricing.Plan
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		p, err := wire.DecodePlan([]byte(doc))
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// PutPlan stores or replaces a plan.
func (s *PlanStore) PutPlan(ctx context.Context, p pricing.Plan) error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	doc, err := wire.EncodePlan(p)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", p.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, display_name, document, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			document = excluded.document,
			updated_at = excluded.updated_at
	`, p.ID, p.DisplayName, string(doc))
	return err
}

// ListTaxRates returns tax rates in the order they were added.
func (s *PlanStore) ListTaxRates(ctx context.Context) ([]tenant.TaxRate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, percentage, inclusive, country, description
		FROM tax_rates ORDER BY position, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []tenant.TaxRate
	for rows.Next() {
		var r tenant.TaxRate
		if err := rows.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Percentage, &r.Inclusive, &r.Country, &r.Description); err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// PutTaxRate stores or replaces a tax rate. New rates are listed last.
func (s *PlanStore) PutTaxRate(ctx context.Context, r tenant.TaxRate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tax_rates (id, name, display_name, percentage, inclusive, country, description, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM tax_rates))
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			display_name = excluded.display_name,
			percentage = excluded.percentage,
			inclusive = excluded.inclusive,
			country = excluded.country,
			description = excluded.description
	`, r.ID, r.Name, r.DisplayName, r.Percentage.String(), r.Inclusive, r.Country, r.Description)
	return err
}

var (
	_ ports.PlanSource    = (*PlanStore)(nil)
	_ ports.TaxRateSource = (*PlanStore)(nil)
)
