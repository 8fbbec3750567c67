package commandbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/bus"
	"github.com/Bravos-hub/ocpp-gateway/internal/events"
	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
	"github.com/Bravos-hub/ocpp-gateway/internal/outbound"
	"github.com/Bravos-hub/ocpp-gateway/internal/session"
)

// CommandRequest is the shape carried on TopicCommandRequests and the
// node-private command topics (§4.K).
type CommandRequest struct {
	CommandID      string                 `json:"commandId"`
	ChargePointID  string                 `json:"chargePointId"`
	CommandType    outbound.CommandType   `json:"commandType"`
	Payload        map[string]interface{} `json:"payload"`
	TimeoutSeconds int                    `json:"timeoutSeconds,omitempty"`
}

func idempotencyKey(commandID string) string { return "cmd:idem:" + commandID }

// SessionDirectory is the slice of *session.Directory the consumer needs.
type SessionDirectory interface {
	Lookup(ctx context.Context, chargePointID string) (session.Entry, bool, error)
}

// LocalConnections resolves whether a charge point is connected to
// this node and, if so, the OCPP wire version it negotiated.
type LocalConnections interface {
	WireVersion(chargePointID string) (wireVersion string, connected bool)
}

// Dispatcher is the slice of *outbound.Dispatcher the consumer needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, chargePointID, wireVersion string, commandType outbound.CommandType, payload map[string]interface{}, timeout time.Duration, auditCommandID string) (outbound.Result, error)
}

// Consumer implements §4.K's per-message command handling.
type Consumer struct {
	nodeID         string
	bus            bus.Bus
	sessions       SessionDirectory
	connections    LocalConnections
	dispatcher     Dispatcher
	emitter        *events.Emitter
	idempotency    kv.Store
	idempotencyTTL time.Duration
	defaultTimeout time.Duration
}

// Config configures a Consumer.
type Config struct {
	NodeID         string
	IdempotencyTTL time.Duration
	DefaultTimeout time.Duration
}

// New builds a command Consumer.
func New(b bus.Bus, sessions SessionDirectory, connections LocalConnections, dispatcher Dispatcher, emitter *events.Emitter, idempotency kv.Store, cfg Config) *Consumer {
	return &Consumer{
		nodeID:         cfg.NodeID,
		bus:            b,
		sessions:       sessions,
		connections:    connections,
		dispatcher:     dispatcher,
		emitter:        emitter,
		idempotency:    idempotency,
		idempotencyTTL: cfg.IdempotencyTTL,
		defaultTimeout: cfg.DefaultTimeout,
	}
}

// Start subscribes to the shared command topic and this node's
// private command topic (§4.K).
func (c *Consumer) Start(ctx context.Context) (func(), error) {
	unsubShared, err := c.bus.Subscribe(ctx, TopicCommandRequests, ConsumerGroupBase, c.handle)
	if err != nil {
		return nil, err
	}
	unsubNode, err := c.bus.Subscribe(ctx, NodeCommandTopic(c.nodeID), ConsumerGroupBase+"-"+c.nodeID, c.handle)
	if err != nil {
		unsubShared()
		return nil, err
	}
	return func() { unsubShared(); unsubNode() }, nil
}

func (c *Consumer) handle(ctx context.Context, _ string, payload []byte) error {
	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logrus.WithError(err).Warn("dropping malformed CommandRequest")
		return nil
	}

	if req.ChargePointID == "" {
		c.emitCommandEvent(ctx, "CommandFailed", req, map[string]interface{}{"reason": "Missing chargePointId"})
		return nil
	}

	log := logrus.WithFields(logrus.Fields{"chargePointId": req.ChargePointID, "commandId": req.CommandID, "commandType": req.CommandType})

	owner, ok, err := c.sessions.Lookup(ctx, req.ChargePointID)
	if err != nil {
		log.WithError(err).Error("session directory lookup failed")
		c.emitCommandEvent(ctx, "CommandFailed", req, map[string]interface{}{"reason": "Session lookup failed"})
		return nil
	}
	if ok && owner.NodeID != c.nodeID {
		if err := c.republish(ctx, owner.NodeID, payload); err != nil {
			log.WithError(err).Error("failed to republish command to owning node")
			c.emitCommandEvent(ctx, "CommandFailed", req, map[string]interface{}{"reason": "Failed to route to owning node"})
			return nil
		}
		c.emitCommandEvent(ctx, "CommandRouted", req, map[string]interface{}{"routedToNodeId": owner.NodeID})
		return nil
	}

	claimed, err := c.idempotency.SetNX(ctx, idempotencyKey(req.CommandID), []byte(c.nodeID), c.idempotencyTTL)
	if err != nil {
		log.WithError(err).Error("idempotency claim failed")
		c.emitCommandEvent(ctx, "CommandFailed", req, map[string]interface{}{"reason": "Idempotency check failed"})
		return nil
	}
	if !claimed {
		c.emitCommandEvent(ctx, "CommandDuplicate", req, nil)
		return nil
	}

	wireVersion, connected := c.connections.WireVersion(req.ChargePointID)
	if !connected {
		c.emitCommandEvent(ctx, "CommandFailed", req, map[string]interface{}{"reason": "Charge point offline"})
		return nil
	}

	c.emitCommandEvent(ctx, "CommandDispatched", req, nil)

	timeout := c.defaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	result, err := c.dispatcher.Dispatch(ctx, req.ChargePointID, wireVersion, req.CommandType, req.Payload, timeout, req.CommandID)
	if err != nil {
		log.WithError(err).Error("dispatch failed")
		c.emitCommandEvent(ctx, "CommandFailed", req, map[string]interface{}{"reason": err.Error()})
		return nil
	}

	switch result.Outcome {
	case outbound.OutcomeAccepted:
		c.emitCommandEvent(ctx, "CommandAccepted", req, map[string]interface{}{"response": result.Response})
	case outbound.OutcomeTimeout:
		c.emitCommandEvent(ctx, "CommandTimeout", req, nil)
	case outbound.OutcomeRejected:
		c.emitCommandEvent(ctx, "CommandRejected", req, map[string]interface{}{"errorCode": result.ErrorCode, "errorDescription": result.ErrorDescription})
	case outbound.OutcomeSchemaMissing, outbound.OutcomePayloadValidationFailed, outbound.OutcomeUnsupportedCommand:
		c.emitCommandEvent(ctx, "CommandFailed", req, map[string]interface{}{"reason": string(result.Outcome)})
	}
	return nil
}

func (c *Consumer) republish(ctx context.Context, ownerNodeID string, payload []byte) error {
	var req CommandRequest
	_ = json.Unmarshal(payload, &req)
	return c.bus.Publish(ctx, NodeCommandTopic(ownerNodeID), req.ChargePointID, payload)
}

func (c *Consumer) emitCommandEvent(ctx context.Context, eventType string, req CommandRequest, detail map[string]interface{}) {
	if c.emitter == nil {
		return
	}
	payload := map[string]interface{}{"commandId": req.CommandID, "commandType": req.CommandType}
	for k, v := range detail {
		payload[k] = v
	}
	c.emitter.Emit(ctx, events.Fields{
		Topic:         events.TopicCommandEvents,
		EventType:     eventType,
		CorrelationID: req.CommandID,
		ChargePointID: req.ChargePointID,
		Payload:       payload,
	})
}
