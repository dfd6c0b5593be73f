package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/meterbill/domain/usage"
	"github.com/artpar/meterbill/ports"
)

// UsageStore implements ports.UsageSource and ports.MeteringWriter using
// SQLite. Counters are kept per tenant, metering unit and write instant.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// GetUsageCounts returns the daily counts of unit written within
// [start, end], oldest first.
func (s *UsageStore) GetUsageCounts(ctx context.Context, tenantID, unit string, start, end time.Time) ([]usage.Count, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recorded_at, count FROM metering_counts
		WHERE tenant_id = ? AND unit_name = ? AND recorded_at >= ? AND recorded_at <= ?
	`, tenantID, unit, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []usage.Count
	for rows.Next() {
		var c usage.Count
		if err := rows.Scan(&c.Timestamp, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return usage.Daily(counts), nil
}

// UpdateCount applies u to the counter at ts.
func (s *UsageStore) UpdateCount(ctx context.Context, tenantID, unit string, ts time.Time, u usage.CountUpdate) (usage.Count, error) {
	if err := usage.ValidateUpdate(u); err != nil {
		return usage.Count{}, err
	}
	at := ts.Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return usage.Count{}, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT count FROM metering_counts
		WHERE tenant_id = ? AND unit_name = ? AND recorded_at = ?
	`, tenantID, unit, at).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return usage.Count{}, err
	}

	next := usage.Apply(current, u)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO metering_counts (tenant_id, unit_name, recorded_at, count, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(tenant_id, unit_name, recorded_at) DO UPDATE SET
			count = excluded.count,
			updated_at = excluded.updated_at
	`, tenantID, unit, at, next)
	if err != nil {
		return usage.Count{}, err
	}

	if err := tx.Commit(); err != nil {
		return usage.Count{}, err
	}
	return usage.Count{Timestamp: at, Count: next}, nil
}

var (
	_ ports.UsageSource    = (*UsageStore)(nil)
	_ ports.MeteringWriter = (*UsageStore)(nil)
)
