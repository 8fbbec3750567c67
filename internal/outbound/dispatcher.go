package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
)

// CommandType is the version-agnostic command name carried on the
// command bus (§4.J).
type CommandType string

const (
	CommandReset               CommandType = "Reset"
	CommandRemoteStart         CommandType = "RemoteStart"
	CommandRemoteStop          CommandType = "RemoteStop"
	CommandUnlockConnector     CommandType = "UnlockConnector"
	CommandChangeConfiguration CommandType = "ChangeConfiguration"
	CommandTriggerMessage      CommandType = "TriggerMessage"
	CommandUpdateFirmware      CommandType = "UpdateFirmware"
)

type actionMapping struct {
	v16 string
	v2x string // "" means unsupported on 2.x
}

var actionsByCommand = map[CommandType]actionMapping{
	CommandReset:               {v16: "Reset", v2x: "Reset"},
	CommandRemoteStart:         {v16: "RemoteStartTransaction", v2x: "RequestStartTransaction"},
	CommandRemoteStop:          {v16: "RemoteStopTransaction", v2x: "RequestStopTransaction"},
	CommandUnlockConnector:     {v16: "UnlockConnector", v2x: "UnlockConnector"},
	CommandChangeConfiguration: {v16: "ChangeConfiguration", v2x: ""},
	CommandTriggerMessage:      {v16: "TriggerMessage", v2x: ""},
	CommandUpdateFirmware:      {v16: "UpdateFirmware", v2x: "UpdateFirmware"},
}

// actionFor resolves the wire action for commandType on wireVersion,
// reporting false when the command has no 2.x equivalent (§4.J table).
func actionFor(commandType CommandType, wireVersion string) (string, bool) {
	mapping, ok := actionsByCommand[commandType]
	if !ok {
		return "", false
	}
	if wireVersion == "1.6J" {
		return mapping.v16, mapping.v16 != ""
	}
	return mapping.v2x, mapping.v2x != ""
}

// normalizePayload applies §4.J's field renames: *Stop's sessionId
// becomes transactionId (string on 2.x), and 2.x RequestStartTransaction's
// legacy idTag is wrapped as idToken.
func normalizePayload(commandType CommandType, wireVersion string, payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}

	if commandType == CommandRemoteStop {
		if sessionID, ok := out["sessionId"]; ok {
			delete(out, "sessionId")
			if wireVersion == "1.6J" {
				out["transactionId"] = sessionID
			} else {
				out["transactionId"] = fmt.Sprint(sessionID)
			}
		}
	}

	if commandType == CommandRemoteStart && wireVersion != "1.6J" {
		if idTag, ok := out["idTag"]; ok {
			delete(out, "idTag")
			out["idToken"] = map[string]interface{}{"idToken": idTag, "type": "Central"}
		}
	}

	return out
}

// Outcome is the normalized disposition of a dispatched command (§4.J/§4.K).
type Outcome string

const (
	OutcomeAccepted                Outcome = "accepted"
	OutcomeRejected                Outcome = "rejected" // charger returned a CALLERROR
	OutcomeTimeout                 Outcome = "timeout"
	OutcomeSchemaMissing           Outcome = "schema_missing"
	OutcomePayloadValidationFailed Outcome = "payload_validation_failed"
	OutcomeUnsupportedCommand      Outcome = "unsupported_command"
)

// Result is what Dispatch returns.
type Result struct {
	Outcome          Outcome
	MessageID        string
	Response         interface{}
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     interface{}
}

// Sender writes an already-encoded CALL frame to the charge point's
// socket; the gateway connection manager implements this (§4.H).
type Sender interface {
	Send(ctx context.Context, chargePointID string, frame []byte) error
}

// Dispatcher turns one CommandRequest into a CALL, tracks its reply,
// and normalizes the outcome (§4.J).
type Dispatcher struct {
	schemas *schema.Registry
	tracker *Tracker
	sender  Sender
	audit   AuditWriter // may be nil to disable the audit trail
}

// New builds a Dispatcher. audit may be nil.
func New(schemas *schema.Registry, tracker *Tracker, sender Sender, audit AuditWriter) *Dispatcher {
	return &Dispatcher{schemas: schemas, tracker: tracker, sender: sender, audit: audit}
}

// Dispatch sends commandType to chargePointID as a CALL on wireVersion
// and blocks until the reply, timeout, or ctx cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, chargePointID, wireVersion string, commandType CommandType, payload map[string]interface{}, timeout time.Duration, auditCommandID string) (Result, error) {
	action, supported := actionFor(commandType, wireVersion)
	if !supported {
		return Result{Outcome: OutcomeUnsupportedCommand}, nil
	}
	if !d.schemas.HasRequestSchema(wireVersion, action) {
		return Result{Outcome: OutcomeSchemaMissing}, nil
	}

	normalized := normalizePayload(commandType, wireVersion, payload)
	rawPayload, err := json.Marshal(normalized)
	if err != nil {
		return Result{}, err
	}

	if validation := d.schemas.ValidateRequest(wireVersion, action, rawPayload); !validation.Valid {
		return Result{Outcome: OutcomePayloadValidationFailed, ErrorDetails: map[string]interface{}{"errors": validation.Errors}}, nil
	}

	messageID := uuid.NewString()
	d.writeAudit(ctx, auditCommandID, messageID, chargePointID, string(commandType), "Sent", "")

	frame, err := encodeCallFrame(messageID, action, normalized)
	if err != nil {
		return Result{}, err
	}

	replyCh := d.tracker.Register(messageID, wireVersion, action, timeout)
	if err := d.sender.Send(ctx, chargePointID, frame); err != nil {
		d.tracker.Cancel(messageID)
		return Result{}, err
	}

	select {
	case <-ctx.Done():
		d.tracker.Cancel(messageID)
		return Result{Outcome: OutcomeTimeout, MessageID: messageID}, ctx.Err()
	case reply := <-replyCh:
		return d.toResult(messageID, reply), nil
	}
}

func (d *Dispatcher) toResult(messageID string, reply PendingResult) Result {
	if reply.TimedOut || reply.Cancelled {
		return Result{Outcome: OutcomeTimeout, MessageID: messageID}
	}
	if reply.ErrorCode != "" {
		return Result{Outcome: OutcomeRejected, MessageID: messageID, ErrorCode: reply.ErrorCode, ErrorDescription: reply.ErrorDescription, ErrorDetails: reply.ErrorDetails}
	}
	return Result{Outcome: OutcomeAccepted, MessageID: messageID, Response: reply.Response}
}

func (d *Dispatcher) writeAudit(ctx context.Context, commandID, messageID, chargePointID, commandType, state, detail string) {
	if d.audit == nil || commandID == "" {
		return
	}
	_ = d.audit.Write(ctx, AuditRecord{
		CommandID:     commandID,
		MessageID:     messageID,
		ChargePointID: chargePointID,
		CommandType:   commandType,
		State:         state,
		Detail:        detail,
	})
}

// encodeCallFrame builds a `[2, messageId, action, payload]` frame
// without importing internal/ocpp/envelope back into this package's
// dependency surface — it mirrors EncodeCall's shape exactly.
func encodeCallFrame(messageID, action string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{2, messageID, action, payload})
}
