// Package cache implements the per-(chargePointId, messageId) response
// cache (§4.E): a per-process map consulted first, backed optionally by
// the shared KV store so a replayed CALL gets the identical bytes back
// even if it lands on a different node after a takeover.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
)

type entry struct {
	payload   []byte
	expiresAt time.Time
}

// Cache is the two-level response cache. A nil kv disables the shared
// tier; ttl<=0 disables caching altogether (Get always misses, Store
// is a no-op), per §4.E.
type Cache struct {
	mu    sync.Mutex
	local map[string]entry
	kv    kv.Store
	ttl   time.Duration
	now   func() time.Time
}

// New builds a response cache. kv may be nil to run process-local only.
func New(store kv.Store, ttl time.Duration) *Cache {
	return &Cache{local: make(map[string]entry), kv: store, ttl: ttl, now: time.Now}
}

func cacheKey(chargePointID, messageID string) string {
	return chargePointID + ":" + messageID
}

// Get returns the cached reply bytes for (chargePointId, messageId), if any.
func (c *Cache) Get(ctx context.Context, chargePointID, messageID string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	key := cacheKey(chargePointID, messageID)

	c.mu.Lock()
	e, ok := c.local[key]
	c.mu.Unlock()
	if ok {
		if c.now().Before(e.expiresAt) {
			return e.payload, true
		}
		c.mu.Lock()
		delete(c.local, key)
		c.mu.Unlock()
	}

	if c.kv == nil {
		return nil, false
	}
	raw, err := c.kv.Get(ctx, "response-cache:"+key)
	if err != nil {
		if err != kv.ErrNotFound {
			logrus.WithError(err).WithField("key", key).Warn("response cache KV lookup failed, treating as miss")
		}
		return nil, false
	}

	c.mu.Lock()
	c.local[key] = entry{payload: raw, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return raw, true
}

// Store records payload as the reply for (chargePointId, messageId).
func (c *Cache) Store(ctx context.Context, chargePointID, messageID string, payload []byte) {
	if c.ttl <= 0 {
		return
	}
	key := cacheKey(chargePointID, messageID)

	c.mu.Lock()
	c.local[key] = entry{payload: payload, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	if c.kv == nil {
		return
	}
	if err := c.kv.Set(ctx, "response-cache:"+key, payload, c.ttl); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("response cache KV write failed, local tier still serves")
	}
}
