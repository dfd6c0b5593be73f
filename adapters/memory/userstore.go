package memory

import (
	"context"
	"sync"

	"github.com/artpar/meterbill/domain/auth"
	"github.com/artpar/meterbill/ports"
)

// HashedToken is a user whose bearer token is only known by its hash.
type HashedToken struct {
	Hash []byte
	User auth.UserInfo
}

// UserStore is an in-memory implementation of ports.UserInfoProvider keyed
// by bearer token. Hashed tokens are checked with the hasher and memoized
// once matched.
type UserStore struct {
	mu       sync.RWMutex
	users    map[string]auth.UserInfo
	hashed   []HashedToken
	hasher   ports.Hasher
	verified map[string]auth.UserInfo
	gen      uint64 // bumped on every table swap
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users:    make(map[string]auth.UserInfo),
		verified: make(map[string]auth.UserInfo),
	}
}

// SetHasher sets the hasher used for hashed tokens.
func (s *UserStore) SetHasher(h ports.Hasher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasher = h
}

// Put registers the user behind token.
func (s *UserStore) Put(token string, u auth.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = u
}

// Replace swaps the whole token table.
func (s *UserStore) Replace(users map[string]auth.UserInfo, hashed []HashedToken) {
	next := make(map[string]auth.UserInfo, len(users))
	for token, u := range users {
		next[token] = u
	}
	nextHashed := append([]HashedToken(nil), hashed...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = next
	s.hashed = nextHashed
	s.verified = make(map[string]auth.UserInfo)
	s.gen++
}

// GetUserInfo resolves a token. Unknown tokens are unauthorized.
func (s *UserStore) GetUserInfo(ctx context.Context, token string) (auth.UserInfo, error) {
	s.mu.RLock()
	if u, ok := s.users[token]; ok {
		s.mu.RUnlock()
		return u, nil
	}
	if u, ok := s.verified[token]; ok {
		s.mu.RUnlock()
		return u, nil
	}
	hashed, h, gen := s.hashed, s.hasher, s.gen
	s.mu.RUnlock()

	if h == nil || token == "" {
		return auth.UserInfo{}, ports.ErrUnauthorized
	}

	for _, ht := range hashed {
		if !h.Compare(ht.Hash, token) {
			continue
		}
		s.mu.Lock()
		if s.gen == gen {
			s.verified[token] = ht.User
		}
		s.mu.Unlock()
		return ht.User, nil
	}
	return auth.UserInfo{}, ports.ErrUnauthorized
}

var _ ports.UserInfoProvider = (*UserStore)(nil)
