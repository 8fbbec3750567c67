// Package breaker implements the closed/open/half-open circuit breaker
// (§5). cmd/gateway passes one Guard to the Redis KV client
// (internal/kv/rediskv); the in-memory KV store and the in-process
// event bus do not go through a breaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker is open and fast-failing.
var ErrOpen = errors.New("breaker: circuit open")

type state int

const (
	closed state = iota
	open
	halfOpen
)

// Guard wraps calls to a downstream dependency (KV store, event bus)
// with a closed -> open -> half-open -> closed state machine.
type Guard struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	state          state
	consecutiveErr int
	consecutiveOK  int
	openedAt       time.Time
}

// New creates a Guard. failureThreshold consecutive failures trip the
// breaker open; after cooldown it allows a trial call (half-open);
// successThreshold consecutive successes in half-open close it again.
func New(failureThreshold, successThreshold int, cooldown time.Duration) *Guard {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Guard{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		state:            closed,
	}
}

// Do calls fn unless the breaker is open, in which case it fast-fails
// with ErrOpen without invoking fn.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.allow() {
		return ErrOpen
	}
	err := fn(ctx)
	g.record(err)
	return err
}

func (g *Guard) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case closed:
		return true
	case open:
		if time.Since(g.openedAt) >= g.cooldown {
			g.state = halfOpen
			g.consecutiveOK = 0
			return true
		}
		return false
	case halfOpen:
		return true
	default:
		return true
	}
}

func (g *Guard) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil {
		g.consecutiveOK = 0
		g.consecutiveErr++
		if g.state == halfOpen || g.consecutiveErr >= g.failureThreshold {
			g.state = open
			g.openedAt = time.Now()
		}
		return
	}

	g.consecutiveErr = 0
	switch g.state {
	case halfOpen:
		g.consecutiveOK++
		if g.consecutiveOK >= g.successThreshold {
			g.state = closed
			g.consecutiveOK = 0
		}
	case open:
		// A success slipping through before allow() flips state is not
		// possible given the locking above, but stay defensive.
		g.state = closed
	}
}

// IsOpen reports whether the breaker is currently fast-failing.
func (g *Guard) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == open && time.Since(g.openedAt) < g.cooldown
}
