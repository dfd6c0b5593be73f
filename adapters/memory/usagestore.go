package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/meterbill/domain/usage"
	"github.com/artpar/meterbill/ports"
)

// UsageStore is an in-memory implementation of ports.UsageSource and
// ports.MeteringWriter. Counters are kept per tenant, metering unit and the
// instant they were written; reads fold them into JST days.
type UsageStore struct {
	mu      sync.RWMutex
	counts  map[usageKey]map[int64]int64
	lookups map[string]int
	fail    map[string]error
}

type usageKey struct {
	tenantID string
	unit     string
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{
		counts:  make(map[usageKey]map[int64]int64),
		lookups: make(map[string]int),
		fail:    make(map[string]error),
	}
}

// Set stores a raw counter at epoch second ts, replacing its count.
func (s *UsageStore) Set(tenantID, unit string, ts, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samplesLocked(tenantID, unit)[ts] = count
}

// FailOn makes lookups of unit return err. A nil err clears it.
func (s *UsageStore) FailOn(unit string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, unit)
		return
	}
	s.fail[unit] = err
}

// Lookups returns how many times unit was read through GetUsageCounts.
func (s *UsageStore) Lookups(unit string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups[unit]
}

// GetUsageCounts returns the daily counts of unit written within [start, end],
// oldest first. A day cut by the window only counts the part inside it.
func (s *UsageStore) GetUsageCounts(ctx context.Context, tenantID, unit string, start, end time.Time) ([]usage.Count, error) {
	s.mu.Lock()
	s.lookups[unit]++
	err := s.fail[unit]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var in []usage.Count
	for ts, count := range s.counts[usageKey{tenantID, unit}] {
		if ts >= start.Unix() && ts <= end.Unix() {
			in = append(in, usage.Count{Timestamp: ts, Count: count})
		}
	}
	return usage.Daily(in), nil
}

// UpdateCount applies u to the counter at ts.
func (s *UsageStore) UpdateCount(ctx context.Context, tenantID, unit string, ts time.Time, u usage.CountUpdate) (usage.Count, error) {
	if err := usage.ValidateUpdate(u); err != nil {
		return usage.Count{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := ts.Unix()
	samples := s.samplesLocked(tenantID, unit)
	samples[at] = usage.Apply(samples[at], u)

	return usage.Count{Timestamp: at, Count: samples[at]}, nil
}

func (s *UsageStore) samplesLocked(tenantID, unit string) map[int64]int64 {
	k := usageKey{tenantID, unit}
	b, ok := s.counts[k]
	if !ok {
		b = make(map[int64]int64)
		s.counts[k] = b
	}
	return b
}

var (
	_ ports.UsageSource    = (*UsageStore)(nil)
	_ ports.MeteringWriter = (*UsageStore)(nil)
)
