// Package v16 implements the OCPP 1.6J version adapter (§4.C):
// dispatch by action name, sharing the common BootNotification /
// Heartbeat / StatusNotification / Authorize / DataTransfer / notification
// semantics with v201 in spirit (not in code — the 1.6J wire shapes and
// error code differ enough that duplicating the small dispatch table
// reads clearer than a shared generic core, matching how
// _examples/balu-dk-go-cpms/internal/ocpp/central_system.go keeps one
// handler function per callback rather than funneling through a
// single generic method).
package v16

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

const wireVersion = "1.6"

// Adapter is the 1.6J version adapter.
type Adapter struct {
	schemas  *schema.Registry
	state    *state.Store
	emitter  *events.Emitter
	sessions *session.Directory
	strict   bool
	now      func() time.Time
}

// New builds a 1.6J adapter. sessions resolves the stationId/tenantId
// to stamp onto emitted events (§4.G entry fields, §6 envelope).
func New(schemas *schema.Registry, st *state.Store, emitter *events.Emitter, sessions *session.Directory, strict bool) *Adapter {
	return &Adapter{schemas: schemas, state: st, emitter: emitter, sessions: sessions, strict: strict, now: time.Now}
}

// tenancy resolves the stationId/tenantId stamped on chargePointID's
// session entry, defaulting to empty strings if no session is on file
// (e.g. transport-layer calls made before Claim has run).
func (a *Adapter) tenancy(ctx context.Context, chargePointID string) (stationID, tenantID string) {
	entry, ok, err := a.sessions.Lookup(ctx, chargePointID)
	if err != nil || !ok {
		return "", ""
	}
	return entry.StationID, entry.TenantID
}

func (a *Adapter) Version() adapter.Version { return adapter.V16 }

func notImplemented() adapter.Result {
	return adapter.Result{Err: &adapter.CallError{Code: "NotImplemented", Description: "Action not implemented"}}
}

func formationViolation(errs []string) adapter.Result {
	return adapter.Result{Err: &adapter.CallError{
		Code:        state.CodeFormationViolation,
		Description: "Payload validation failed",
		Details:     map[string]interface{}{"errors": errs},
	}}
}

func occurrenceViolation(message string) adapter.Result {
	return adapter.Result{Err: &adapter.CallError{
		Code:        state.CodeOccurrenceConstraintViolation,
		Description: message,
	}}
}

// HandleCall implements adapter.Adapter.
func (a *Adapter) HandleCall(ctx context.Context, chargePointID, action string, payload []byte) adapter.Result {
	if !a.schemas.HasRequestSchema(wireVersion, action) {
		return notImplemented()
	}
	if result := a.schemas.ValidateRequest(wireVersion, action, payload); !result.Valid {
		return formationViolation(result.Errors)
	}

	switch action {
	case "BootNotification":
		return a.handleBootNotification(chargePointID)
	case "Heartbeat":
		return a.handleHeartbeat(chargePointID)
	case "StatusNotification":
		return a.handleStatusNotification(ctx, chargePointID, payload)
	case "Authorize":
		return adapter.Result{Response: map[string]interface{}{"idTagInfo": map[string]string{"status": "Accepted"}}}
	case "DataTransfer":
		return a.handleDataTransfer(ctx, chargePointID, payload)
	case "SecurityEventNotification":
		return a.handleGenericNotification(ctx, chargePointID, "SecurityEventReceived", payload)
	case "FirmwareStatusNotification":
		return a.handleGenericNotification(ctx, chargePointID, "FirmwareStatusChanged", payload)
	case "DiagnosticsStatusNotification":
		return a.handleGenericNotification(ctx, chargePointID, "DiagnosticsStatusChanged", payload)
	case "LogStatusNotification":
		return a.handleGenericNotification(ctx, chargePointID, "LogStatusChanged", payload)
	case "StartTransaction":
		return a.handleStartTransaction(chargePointID, payload)
	case "StopTransaction":
		return a.handleStopTransaction(chargePointID, payload)
	case "MeterValues":
		return a.handleMeterValues(ctx, chargePointID, payload)
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
	ConnectorID int    `json:"connectorId"`
	ErrorCode   string `json:"errorCode"`
	Status      string `json:"status"`
}

func (a *Adapter) handleStatusNotification(ctx context.Context, chargePointID string, payload []byte) adapter.Result {
	var req statusNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return formationViolation([]string{"/ payload is not valid JSON"})
	}
	now := a.now().UTC()
	a.state.SetConnectorStatus(chargePointID, req.ConnectorID, req.Status, req.ErrorCode, now)
	connID := req.ConnectorID
	stationID, tenantID := a.tenancy(ctx, chargePointID)
	a.emitter.Emit(ctx, events.Fields{
		Topic:         events.TopicStationEvents,
		EventType:     "ConnectorStatusChanged",
		ChargePointID: chargePointID,
		ConnectorID:   &connID,
		OCPPVersion:   wireVersion,
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
		OCPPVersion:   wireVersion,
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
		OCPPVersion:   wireVersion,
		StationID:     stationID,
		TenantID:      tenantID,
		Payload:       raw,
	})
	return adapter.Result{Response: map[string]interface{}{}}
}

type startTransactionRequest struct {
	ConnectorID int    `json:"connectorId"`
	IDTag       string `json:"idTag"`
	MeterStart  int    `json:"meterStart"`
	Timestamp   string `json:"timestamp"`
}

func (a *Adapter) handleStartTransaction(chargePointID string, payload []byte) adapter.Result {
	var req startTransactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return formationViolation([]string{"/ payload is not valid JSON"})
	}

	result := a.state.StartTransactionV16(chargePointID, req.ConnectorID, req.IDTag, req.MeterStart, req.Timestamp)
	if !result.Accepted {
		return occurrenceViolation(result.RejectMessage)
	}
	return adapter.Result{Response: map[string]interface{}{
		"transactionId": result.TransactionID,
		"idTagInfo":     map[string]string{"status": "Accepted"},
	}}
}

type stopTransactionRequest struct {
	TransactionID int    `json:"transactionId"`
	MeterStop     int    `json:"meterStop"`
	Timestamp     string `json:"timestamp"`
	Reason        string `json:"reason"`
}

func (a *Adapter) handleStopTransaction(chargePointID string, payload []byte) adapter.Result {
	var req stopTransactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return formationViolation([]string{"/ payload is not valid JSON"})
	}

	result := a.state.StopTransactionV16(chargePointID, req.TransactionID, req.MeterStop, req.Timestamp, req.Reason)
	if !result.Accepted {
		return occurrenceViolation(result.RejectMessage)
	}
	return adapter.Result{Response: map[string]interface{}{"idTagInfo": map[string]string{"status": "Accepted"}}}
}

type meterValuesRequest struct {
	ConnectorID   int  `json:"connectorId"`
	TransactionID *int `json:"transactionId"`
}

func (a *Adapter) handleMeterValues(ctx context.Context, chargePointID string, payload []byte) adapter.Result {
	var req meterValuesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return formationViolation([]string{"/ payload is not valid JSON"})
	}

	result := a.state.MeterValuesV16(chargePointID, req.TransactionID, a.strict)
	if !result.Accepted {
		return occurrenceViolation(result.RejectMessage)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(payload, &raw)
	if result.Orphaned {
		raw["orphaned"] = true
	}
	connID := req.ConnectorID
	stationID, tenantID := a.tenancy(ctx, chargePointID)
	a.emitter.Emit(ctx, events.Fields{
		Topic:         events.TopicSessionEvents,
		EventType:     "MeterValuesReceived",
		ChargePointID: chargePointID,
		ConnectorID:   &connID,
		OCPPVersion:   wireVersion,
		StationID:     stationID,
		TenantID:      tenantID,
		Payload:       raw,
	})
	return adapter.Result{Response: map[string]interface{}{}}
}
