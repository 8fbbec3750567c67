// Package inprocbus is an in-process bus.Bus used by tests and
// single-node deployments (BUS_BACKEND=memory). Each topic keeps a set
// of consumer groups; within a group, messages round-robin across its
// subscribers so two subscriptions in the same group share work,
// mirroring the Kafka-style group semantics §4.K depends on.
package inprocbus

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/bus"
)

type subscription struct {
	id      uint64
	handler bus.Handler
}

type group struct {
	mu      sync.Mutex
	subs    []subscription
	nextIdx int
}

// Bus is the in-process implementation.
type Bus struct {
	mu         sync.Mutex
	groups     map[string]map[string]*group // topic -> group -> subscribers
	closed     bool
	nextSubID  uint64
}

// New creates an empty in-process bus.
func New() *Bus {
	return &Bus{groups: make(map[string]map[string]*group)}
}

// Publish delivers payload to exactly one subscriber per consumer
// group registered on topic, chosen round-robin within the group.
func (b *Bus) Publish(ctx context.Context, topic, partitionKey string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	groupsForTopic := b.groups[topic]
	targets := make([]*group, 0, len(groupsForTopic))
	for _, g := range groupsForTopic {
		targets = append(targets, g)
	}
	b.mu.Unlock()

	for _, g := range targets {
		g.mu.Lock()
		if len(g.subs) == 0 {
			g.mu.Unlock()
			continue
		}
		sub := g.subs[g.nextIdx%len(g.subs)]
		g.nextIdx++
		g.mu.Unlock()

		if err := sub.handler(ctx, partitionKey, payload); err != nil {
			logrus.WithError(err).WithField("topic", topic).Warn("bus handler returned error")
		}
	}
	return nil
}

// Subscribe registers handler under (topic, group).
func (b *Bus) Subscribe(_ context.Context, topic, groupName string, handler bus.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.groups[topic] == nil {
		b.groups[topic] = make(map[string]*group)
	}
	g := b.groups[topic][groupName]
	if g == nil {
		g = &group{}
		b.groups[topic][groupName] = g
	}

	b.nextSubID++
	id := b.nextSubID

	g.mu.Lock()
	g.subs = append(g.subs, subscription{id: id, handler: handler})
	g.mu.Unlock()

	unsubscribe := func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, s := range g.subs {
			if s.id == id {
				g.subs = append(g.subs[:i], g.subs[i+1:]...)
				break
			}
		}
	}
	return unsubscribe, nil
}

// Close marks the bus closed; further publishes are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
