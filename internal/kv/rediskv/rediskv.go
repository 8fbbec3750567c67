// Package rediskv adapts github.com/go-redis/redis to kv.Store,
// grounded in the connection-pooling pattern of
// _examples/other_examples/steve-white-ocpp-server__csmsServer.go
// (which wires a *redis.Client as the gateway's auth/session cache).
package rediskv

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/breaker"
	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
)

// Store wraps a *redis.Client with the circuit-breaker policy every
// KV call site shares (§5).
type Store struct {
	client  *redis.Client
	guard   *breaker.Guard
	timeout time.Duration
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New dials Redis and verifies connectivity with PING, following the
// pack's ConnectRedis helper.
func New(cfg Config, guard *breaker.Guard) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}
	logrus.WithField("addr", cfg.Addr).Info("connected to redis kv store")
	return &Store{client: client, guard: guard, timeout: 2 * time.Second}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		val, err := s.client.Get(key).Bytes()
		if err == redis.Nil {
			return kv.ErrNotFound
		}
		if err != nil {
			return err
		}
		out = val
		return nil
	})
	return out, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.guard.Do(ctx, func(ctx context.Context) error {
		return s.client.Set(key, value, ttl).Err()
	})
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var claimed bool
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		ok, err := s.client.SetNX(key, value, ttl).Result()
		claimed = ok
		return err
	})
	return claimed, err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.guard.Do(ctx, func(ctx context.Context) error {
		return s.client.Del(key).Err()
	})
}

func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		val, err := s.client.Incr(key).Result()
		if err != nil {
			return err
		}
		n = val
		if n == 1 && ttl > 0 {
			// Only the creator of the counter sets its expiry (§4.N).
			if err := s.client.Expire(key, ttl).Err(); err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

// CompareAndSwap uses a WATCH/MULTI optimistic transaction so the
// read-modify-write the session directory needs (§4.G) is atomic with
// respect to other nodes racing the same key.
func (s *Store) CompareAndSwap(ctx context.Context, key string, cas kv.CASFunc) ([]byte, bool, error) {
	var next []byte
	var changed bool

	err := s.guard.Do(ctx, func(ctx context.Context) error {
		return s.client.Watch(func(tx *redis.Tx) error {
			current, err := tx.Get(key).Bytes()
			exists := true
			if err == redis.Nil {
				exists = false
				err = nil
			}
			if err != nil {
				return err
			}

			var ttl time.Duration
			next, ttl, changed = cas(current, exists)
			if !changed {
				return nil
			}

			_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(key)
					return nil
				}
				pipe.Set(key, next, ttl)
				return nil
			})
			return err
		}, key)
	})
	return next, changed, err
}
