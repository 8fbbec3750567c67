// Package bus declares the event-bus contract the command pipeline and
// event emission rely on. The concrete bus is an external collaborator
// (spec §1, §6); this package fixes the Go-side interface plus an
// in-process reference adapter (see Open Question resolution, SPEC_FULL.md §12).
package bus

import "context"

// Publisher publishes a payload to topic, partitioned by partitionKey
// so a downstream consumer observes one charger's events in order (§5).
type Publisher interface {
	Publish(ctx context.Context, topic, partitionKey string, payload []byte) error
}

// Handler processes one message delivered to a subscription.
type Handler func(ctx context.Context, partitionKey string, payload []byte) error

// Subscriber subscribes handler to topic under consumer group group.
// Two subscribers on the same topic with the same group share the
// partition workload; different groups each see every message (§4.K).
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler Handler) (unsubscribe func(), err error)
}

// Bus is the full contract wiring expects from the bus adapter.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
