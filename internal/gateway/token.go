package gateway

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTokenTTL is how long an issued session token remains valid.
const DefaultTokenTTL = time.Hour

// TokenStore maps opaque session token ids to upstream authentication
// context. Entries expire after a fixed TTL; an expired token behaves as if
// it was never issued. The store is safe for concurrent use and holds no
// state across process restarts.
type TokenStore struct {
	entries *expirable.LRU[string, SessionContext]
}

// NewTokenStore returns a store whose tokens live for ttl.
// A non-positive ttl falls back to DefaultTokenTTL.
func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	// Size 0 means no LRU bound; expiry alone evicts.
	return &TokenStore{entries: expirable.NewLRU[string, SessionContext](0, nil, ttl)}
}

// Create stores the context under a fresh random token id and returns the id.
func (s *TokenStore) Create(ctx SessionContext) string {
	id := uuid.NewString()
	ctx.CreatedAt = time.Now().UTC()
	s.entries.Add(id, ctx)
	return id
}

// Lookup returns the context bound to the token id. ok is false both for
// unknown ids and for ids whose TTL has elapsed.
func (s *TokenStore) Lookup(id string) (SessionContext, bool) {
	return s.entries.Get(id)
}
