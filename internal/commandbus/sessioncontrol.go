package commandbus

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/bus"
)

// ForceDisconnect is published to the losing node of a takeover so it
// can close its now-stale local connection (§4.L).
type ForceDisconnect struct {
	ChargePointID  string `json:"chargePointId"`
	NewEpoch       int64  `json:"newEpoch"`
	NewOwnerNodeID string `json:"newOwnerNodeId"`
	Reason         string `json:"reason"`
}

// SessionControlPublisher publishes ForceDisconnect messages.
type SessionControlPublisher struct {
	publisher bus.Publisher
}

// NewSessionControlPublisher builds a SessionControlPublisher.
func NewSessionControlPublisher(publisher bus.Publisher) *SessionControlPublisher {
	return &SessionControlPublisher{publisher: publisher}
}

// PublishForceDisconnect sends msg to previousOwnerNodeID's
// session-control topic, partitioned by chargePointId.
func (p *SessionControlPublisher) PublishForceDisconnect(ctx context.Context, previousOwnerNodeID string, msg ForceDisconnect) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.publisher.Publish(ctx, SessionControlTopic(previousOwnerNodeID), msg.ChargePointID, body)
}

// LocalSocketCloser closes a locally-held connection for
// chargePointId, but only if its in-memory session epoch is strictly
// less than newEpoch — an echo of a takeover this node itself just won
// must not close the connection it just claimed (§4.L).
type LocalSocketCloser interface {
	CloseIfEpochStale(chargePointID string, newEpoch int64, reason string)
}

// SessionControlConsumer closes local connections on ForceDisconnect.
type SessionControlConsumer struct {
	nodeID string
	bus    bus.Subscriber
	closer LocalSocketCloser
}

// NewSessionControlConsumer builds a SessionControlConsumer for nodeID.
func NewSessionControlConsumer(subscriber bus.Subscriber, nodeID string, closer LocalSocketCloser) *SessionControlConsumer {
	return &SessionControlConsumer{nodeID: nodeID, bus: subscriber, closer: closer}
}

// Start subscribes to this node's session-control topic.
func (c *SessionControlConsumer) Start(ctx context.Context) (func(), error) {
	return c.bus.Subscribe(ctx, SessionControlTopic(c.nodeID), "session-control-"+c.nodeID, c.handle)
}

func (c *SessionControlConsumer) handle(_ context.Context, _ string, payload []byte) error {
	var msg ForceDisconnect
	if err := json.Unmarshal(payload, &msg); err != nil {
		logrus.WithError(err).Warn("dropping malformed ForceDisconnect message")
		return nil
	}
	c.closer.CloseIfEpochStale(msg.ChargePointID, msg.NewEpoch, msg.Reason)
	return nil
}
