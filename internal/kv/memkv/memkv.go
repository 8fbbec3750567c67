// Package memkv is an in-process kv.Store used by tests and by
// single-node deployments that opt out of Redis (KV_BACKEND=memory).
package memkv

import (
	"context"
	"sync"
	"time"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is a mutex-guarded map implementing kv.Store.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string]entry)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(time.Now()) {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = s.makeEntry(value, ttl)
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	s.data[key] = s.makeEntry(value, ttl)
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || e.expired(time.Now()) {
		s.data[key] = s.makeEntry([]byte("1"), ttl)
		return 1, nil
	}
	n := decodeInt(e.value) + 1
	e.value = encodeInt(n)
	s.data[key] = e
	return n, nil
}

func (s *Store) CompareAndSwap(_ context.Context, key string, cas kv.CASFunc) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	exists := ok && !e.expired(time.Now())
	var current []byte
	if exists {
		current = e.value
	}

	next, ttl, changed := cas(current, exists)
	if !changed {
		return current, false, nil
	}
	if next == nil {
		delete(s.data, key)
		return nil, true, nil
	}
	s.data[key] = s.makeEntry(next, ttl)
	return next, true, nil
}

func (s *Store) makeEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}

func decodeInt(b []byte) int64 {
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func encodeInt(n int64) []byte {
	if n == 0 {
		return []byte("0")
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return buf[i:]
}
