// Package hasher provides bearer token hashing.
package hasher

import (
	"github.com/artpar/meterbill/ports"
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt hashes tokens with bcrypt.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher. Out of range costs fall back to
// bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Cost returns the work factor new hashes are made with.
func (h *Bcrypt) Cost() int {
	return h.cost
}

// Hash generates a bcrypt hash of token.
func (h *Bcrypt) Hash(token string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(token), h.cost)
}

// Compare reports whether token matches hash. Malformed hashes never match.
func (h *Bcrypt) Compare(hash []byte, token string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
}

// IsHash reports whether s looks like a bcrypt hash.
func IsHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

var _ ports.Hasher = (*Bcrypt)(nil)

// Fake compares in clear. Tests only.
type Fake struct{}

// Hash returns token unchanged.
func (Fake) Hash(token string) ([]byte, error) {
	return []byte(token), nil
}

// Compare checks equality.
func (Fake) Compare(hash []byte, token string) bool {
	return string(hash) == token
}

var _ ports.Hasher = Fake{}
