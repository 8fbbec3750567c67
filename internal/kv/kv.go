// Package kv declares the key/value store contract the gateway's core
// relies on. The concrete store is an external collaborator (spec §1,
// §6); this package only fixes the Go-side interface plus the
// in-memory reference adapter used by tests and single-node runs.
package kv

import (
	"context"
	"time"
)

// ErrNotFound is returned by Get when the key has no value (or has expired).
var ErrNotFound = errNotFound("kv: not found")

type errNotFound string

func (e errNotFound) Error() string { return string(e) }

// CASFunc computes the next value for CompareAndSwap given the current
// raw value (nil, exists=false if absent). Returning changed=false
// leaves the stored value untouched. Returning changed=true with a nil
// next deletes the key instead of writing it (used by the session
// directory's owner-only unregister, §4.G).
type CASFunc func(current []byte, exists bool) (next []byte, ttl time.Duration, changed bool)

// Store is the KV contract used throughout internal/session,
// internal/ocpp/cache, internal/ratelimit, internal/auth and
// internal/commandbus.
type Store interface {
	// Get returns the raw value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX claims key with value iff absent; reports whether the claim succeeded.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the counter at key, setting ttl on the
	// key only when this call creates it (§4.N window semantics).
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// CompareAndSwap reads the current value, applies cas, and writes
	// the result back atomically relative to other CompareAndSwap
	// callers on the same key. Used by the session directory's
	// ownership-claim script (§4.G).
	CompareAndSwap(ctx context.Context, key string, cas CASFunc) (next []byte, changed bool, err error)
}
