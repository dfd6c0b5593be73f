// Package idgen provides ports.IDGenerator implementations.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/meterbill/ports"
	"github.com/google/uuid"
)

// UUID generates time-ordered UUIDs (version 7), used as request IDs.
type UUID struct{}

// New returns a new UUID. It falls back to a random (version 4) UUID if the
// time-ordered one cannot be produced.
func (UUID) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Sequential generates prefix1, prefix2, ... (for tests).
type Sequential struct {
	prefix string
	n      atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next ID.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.n.Add(1), 10)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
