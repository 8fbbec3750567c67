// Package v201 implements the OCPP 2.0.1 version adapter (§4.C). The
// 2.1 adapter (internal/ocpp/v21) is structurally the same action set
// on this implementation's wire — see the internal/ocpp/v21 entry in
// DESIGN.md — so it is built by parameterizing NewForVersion rather than
// duplicating the dispatch table.
package v201

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Bravos-hub/ocpp-gateway/internal/events"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/adapter"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/state"
	"github.com/Bravos-hub/ocpp-gateway/internal/session"
)

// Adapter is the 2.0.1 / 2.1 version adapter.
type Adapter struct {
	wireVersion string
	tag         adapter.Version
	schemas     *schema.Registry
	state       *state.Store
	emitter     *events.Emitter
	sessions    *session.Directory
	strict      bool
	now         func() time.Time
}

// New builds a 2.0.1 adapter. sessions resolves the stationId/tenantId
// to stamp onto emitted events (§4.G entry fields, §6 envelope).
func New(schemas *schema.Registry, st *state.Store, emitter *events.Emitter, sessions *session.Directory, strict bool) *Adapter {
	return NewForVersion("2.0.1", adapter.V201, schemas, st, emitter, sessions, strict)
}

// NewForVersion builds an adapter for any 2.x wire version, letting
// internal/ocpp/v21 reuse this dispatch table under its own tag.
func NewForVersion(wireVersion string, tag adapter.Version, schemas *schema.Registry, st *state.Store, emitter *events.Emitter, sessions *session.Directory, strict bool) *Adapter {
	return &Adapter{wireVersion: wireVersion, tag: tag, schemas: schemas, state: st, emitter: emitter, sessions: sessions, strict: strict, now: time.Now}
}

func (a *Adapter) Version() adapter.Version { return a.tag }

// tenancy resolves the stationId/tenantId stamped on chargePointID's
// session entry, defaulting to empty strings if no session is on file.
func (a *Adapter) tenancy(ctx context.Context, chargePointID string) (stationID, tenantID string) {
	entry, ok, err := a.sessions.Lookup(ctx, chargePointID)
	if err != nil || !ok {
		return "", ""
	}
	return entry.StationID, entry.TenantID
}

func notImplemented() adapter.Result {
	return adapter.Result{Err: &adapter.CallError{Code: "NotImplemented", Description: "Action not implemented"}}
}

func formatViolation(errs []string) adapter.Result {
	return adapter.Result{Err: &adapter.CallError{
		Code:        state.CodeFormatViolation,
		Description: "Payload validation failed",
		Details:     map[string]interface{}{"errors": errs},
	}}
}

// HandleCall implements adapter.Adapter.
func (a *Adapter) HandleCall(ctx context.Context, chargePointID, action string, payload []byte) adapter.Result {
	if !a.schemas.HasRequestSchema(a.wireVersion, action) {
		return notImplemented()
	}
	if result := a.schemas.ValidateRequest(a.wireVersion, action, payload); !result.Valid {
		return formatViolation(result.Errors)
	}

	switch action {
	case "BootNotification":
		return a.handleBootNotification(chargePointID)
	case "Heartbeat":
		return a.handleHeartbeat(chargePointID)
	case "StatusNotification":
		return a.handleStatusNotification(ctx, chargePointID, payload)
	case "Authorize":
		return adapter.Result{Response: map[string]interface{}{"idTokenInfo": map[string]string{"status": "Accepted"}}}
	case "DataTransfer":
		return a.handleDataTransfer(ctx, chargePointID, payload)
	case "SecurityEventNotification":
		return a.handleGenericNotification(ctx, chargePointID, "SecurityEventReceived", payload)
	case "FirmwareStatusNotification":
		return a.handleGenericNotification(ctx, chargePointID, "FirmwareStatusChanged", payload)
	case "LogStatusNotification":
		return a.handleGenericNotification(ctx, chargePointID, "LogStatusChanged", payload)
	case "TransactionEvent":
		return a.handleTransactionEvent(ctx, chargePointID, payload)
	default:
		return notImplemented()
	}
}

func (a *Adapter) handleBootNotification(chargePointID string) adapter.Result {
	now := a.now().UTC()
	a.state.RecordBoot(chargePointID, now)
	return adapter.Result{Response: map[string]interface{}{
		"status":      "Accepted",
		"currentTime": now.Format(time.RFC3339),
		"interval":    300,
	}}
}

func (a *Adapter) handleHeartbeat(chargePointID string) adapter.Result {
	now := a.now().UTC()
	a.state.RecordHeartbeat(chargePointID, now)
	return adapter.Result{Response: map[string]interface{}{"currentTime": now.Format(time.RFC3339)}}
}

type statusNotificationRequest struct {
	EVSEID          int    `json:"evseId"`
	ConnectorID     *int   `json:"connectorId"`
	ConnectorStatus string `json:"connectorStatus"`
}

func (a *Adapter) handleStatusNotification(ctx context.Context, chargePointID string, payload []byte) adapter.Result {
	var req statusNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return formatViolation([]string{"/ payload is not valid JSON"})
	}
	connectorID := req.EVSEID
	if req.ConnectorID != nil {
		connectorID = *req.ConnectorID
	}
	now := a.now().UTC()
	a.state.SetConnectorStatus(chargePointID, connectorID, req.ConnectorStatus, "", now)
	stationID, tenantID := a.tenancy(ctx, chargePointID)
	a.emitter.Emit(ctx, events.Fields{
		Topic:         events.TopicStationEvents,
		EventType:     "ConnectorStatusChanged",
		ChargePointID: chargePointID,
		ConnectorID:   &connectorID,
		OCPPVersion:   a.wireVersion,
		StationID:     stationID,
		TenantID:      tenantID,
		Payload:       req,
	})
	return adapter.Result{Response: map[string]interface{}{}}
}

func (a *Adapter) handleDataTransfer(ctx context.Context, chargePointID string, payload []byte) adapter.Result {
	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)
	stationID, tenantID := a.tenancy(ctx, chargePointID)
	a.emitter.Emit(ctx, events.Fields{
		Topic:         events.TopicStationEvents,
		EventType:     "DataTransferReceived",
		ChargePointID: chargePointID,
		OCPPVersion:   a.wireVersion,
		StationID:     stationID,
		TenantID:      tenantID,
		Payload:       raw,
	})
	return adapter.Result{Response: map[string]interface{}{"status": "Accepted"}}
}

func (a *Adapter) handleGenericNotification(ctx context.Context, chargePointID, eventType string, payload []byte) adapter.Result {
	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)
	stationID, tenantID := a.tenancy(ctx, chargePointID)
	a.emitter.Emit(ctx, events.Fields{
		Topic:         events.TopicStationEvents,
		EventType:     eventType,
		ChargePointID: chargePointID,
		OCPPVersion:   a.wireVersion,
		StationID:     stationID,
		TenantID:      tenantID,
		Payload:       raw,
	})
	return adapter.Result{Response: map[string]interface{}{}}
}

type transactionEventRequest struct {
	EventType       string `json:"eventType"`
	SeqNo           int    `json:"seqNo"`
	TransactionInfo struct {
		TransactionID string `json:"transactionId"`
	} `json:"transactionInfo"`
	EVSE *struct {
		ID          int  `json:"id"`
		ConnectorID *int `json:"connectorId"`
	} `json:"evse"`
	IDToken *struct {
		IDToken string `json:"idToken"`
	} `json:"idToken"`
}

func (a *Adapter) handleTransactionEvent(ctx context.Context, chargePointID string, payload []byte) adapter.Result {
	var req transactionEventRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return formatViolation([]string{"/ payload is not valid JSON"})
	}

	var evseID, connectorID *int
	if req.EVSE != nil {
		id := req.EVSE.ID
		evseID = &id
		connectorID = req.EVSE.ConnectorID
	}
	var idToken *string
	if req.IDToken != nil {
		idToken = &req.IDToken.IDToken
	}

	result := a.state.TransactionEvent(chargePointID, req.EventType, req.TransactionInfo.TransactionID, req.SeqNo, evseID, connectorID, idToken, a.now(), a.strict)
	if !result.Accepted {
		return occurrenceOrFormat(result)
	}

	stationID, tenantID := a.tenancy(ctx, chargePointID)
	a.emitter.Emit(ctx, events.Fields{
		Topic:         events.TopicSessionEvents,
		EventType:     "TransactionEvent" + req.EventType,
		ChargePointID: chargePointID,
		ConnectorID:   connectorID,
		OCPPVersion:   a.wireVersion,
		StationID:     stationID,
		TenantID:      tenantID,
		Payload:       req,
	})
	return adapter.Result{Response: map[string]interface{}{"idTokenInfo": map[string]string{"status": "Accepted"}}}
}

func occurrenceOrFormat(result state.TransactionEventResult) adapter.Result {
	return adapter.Result{Err: &adapter.CallError{
		Code:        result.RejectCode,
		Description: result.RejectMessage,
	}}
}
