package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// NonceStore remembers values for a while so they can be used only once.
type NonceStore interface {
	// Claim records nonce for ttl and reports whether it was unseen.
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore is a process-local NonceStore.
type MemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

func NewMemoryNonceStore(now func() time.Time) *MemoryNonceStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryNonceStore{now: now, nonces: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	if nonce == "" || ttl <= 0 {
		return false, errors.New("auth: nonce and ttl are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, k)
		}
	}
	if _, seen := s.nonces[nonce]; seen {
		return false, nil
	}
	s.nonces[nonce] = now.Add(ttl)
	return true, nil
}

// RedisNonceStore shares nonces across instances with SET NX.
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNonceStore(client redis.UniversalClient) *RedisNonceStore {
	return &RedisNonceStore{client: client, prefix: "loomline:webhook-nonce:"}
}

func (s *RedisNonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if nonce == "" || ttl <= 0 {
		return false, errors.New("auth: nonce and ttl are required")
	}
	return s.client.SetNX(ctx, s.prefix+nonce, 1, ttl).Result()
}
