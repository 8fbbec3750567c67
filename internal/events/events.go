// Package events builds and emits the outbound event envelope onto the
// event bus (§6), partitioned by chargePointId (fallback stationId)
// so a downstream consumer sees one charger's events in gateway order.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/bus"
)

// Topic names for outbound event traffic (§6).
const (
	TopicStationEvents = "ocpp.station.events"
	TopicSessionEvents = "ocpp.session.events"
	TopicCommandEvents = "ocpp.command.events"
	TopicAuditEvents   = "cpms.audit.events"
)

// Envelope is the outbound event shape every topic above carries.
type Envelope struct {
	EventID       string      `json:"eventId"`
	EventType     string      `json:"eventType"`
	Source        string      `json:"source"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId,omitempty"`
	StationID     string      `json:"stationId,omitempty"`
	TenantID      string      `json:"tenantId,omitempty"`
	ChargePointID string      `json:"chargePointId,omitempty"`
	ConnectorID   *int        `json:"connectorId,omitempty"`
	OCPPVersion   string      `json:"ocppVersion,omitempty"`
	Payload       interface{} `json:"payload,omitempty"`
}

// Emitter publishes envelopes built from a fixed node "source" label.
type Emitter struct {
	publisher bus.Publisher
	source    string
	now       func() time.Time
}

// NewEmitter creates an Emitter whose Source field identifies this node.
func NewEmitter(publisher bus.Publisher, nodeID string) *Emitter {
	return &Emitter{publisher: publisher, source: nodeID, now: time.Now}
}

// Fields describes one event to emit; zero-value fields are omitted.
type Fields struct {
	Topic         string
	EventType     string
	CorrelationID string
	StationID     string
	TenantID      string
	ChargePointID string
	ConnectorID   *int
	OCPPVersion   string
	Payload       interface{}
}

// Emit constructs the envelope and publishes it, partitioned by
// chargePointId (falling back to stationId) per §6.
func (e *Emitter) Emit(ctx context.Context, f Fields) {
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     f.EventType,
		Source:        e.source,
		OccurredAt:    e.now().UTC(),
		CorrelationID: f.CorrelationID,
		StationID:     f.StationID,
		TenantID:      f.TenantID,
		ChargePointID: f.ChargePointID,
		ConnectorID:   f.ConnectorID,
		OCPPVersion:   f.OCPPVersion,
		Payload:       f.Payload,
	}

	partitionKey := f.ChargePointID
	if partitionKey == "" {
		partitionKey = f.StationID
	}

	body, err := json.Marshal(env)
	if err != nil {
		logrus.WithError(err).WithField("eventType", f.EventType).Error("failed to marshal event envelope")
		return
	}

	if err := e.publisher.Publish(ctx, f.Topic, partitionKey, body); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"topic":     f.Topic,
			"eventType": f.EventType,
		}).Warn("failed to publish event, dropping (best-effort)")
	}
}
