// Package envelope implements the OCPP-J wire codec (§4.A): parsing
// and emitting the three JSON-array frame types (CALL, CALLRESULT,
// CALLERROR) exchanged over the WebSocket.
package envelope

import (
	"encoding/json"
	"errors"
)

// Message-type tags (OCPP-J wire contract, §4.A).
const (
	TypeCall       = 2
	TypeCallResult = 3
	TypeCallError  = 4
)

// Call is a CALL frame: [2, uniqueId, action, payload].
type Call struct {
	UniqueID string
	Action   string
	Payload  json.RawMessage
}

// CallResult is a CALLRESULT frame: [3, uniqueId, payload].
type CallResult struct {
	UniqueID string
	Payload  json.RawMessage
}

// CallError is a CALLERROR frame: [4, uniqueId, errorCode, errorDescription, errorDetails].
type CallError struct {
	UniqueID         string
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Envelope is exactly one of Call, CallResult, or CallError, tagged by Type.
type Envelope struct {
	Type       int
	Call       *Call
	CallResult *CallResult
	CallError  *CallError
}

// Failure describes why Parse could not produce an Envelope.
// UniqueID is populated whenever it could be extracted even though the
// rest of the frame was malformed, so the engine can still reply with
// a CALLERROR referencing it (§4.A, §7).
type Failure struct {
	Reason        string
	MessageTypeID *int
	UniqueID      *string
}

func (f *Failure) Error() string { return f.Reason }

var errNotArray = errors.New("envelope: frame is not a JSON array")

// Parse decodes one wire frame into an Envelope, or returns a Failure.
func Parse(raw []byte) (*Envelope, *Failure) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, &Failure{Reason: "malformed json: " + err.Error()}
	}
	if len(parts) < 3 {
		return nil, &Failure{Reason: "frame has fewer than 3 elements"}
	}

	var typeID int
	if err := json.Unmarshal(parts[0], &typeID); err != nil {
		return nil, &Failure{Reason: "messageTypeId is not an integer"}
	}

	var uniqueID string
	uniqueIDErr := json.Unmarshal(parts[1], &uniqueID)

	switch typeID {
	case TypeCall:
		return parseCall(parts, typeID, uniqueID, uniqueIDErr)
	case TypeCallResult:
		return parseCallResult(parts, typeID, uniqueID, uniqueIDErr)
	case TypeCallError:
		return parseCallError(parts, typeID, uniqueID, uniqueIDErr)
	default:
		return nil, &Failure{Reason: "unknown messageTypeId", MessageTypeID: &typeID}
	}
}

func parseCall(parts []json.RawMessage, typeID int, uniqueID string, uniqueIDErr error) (*Envelope, *Failure) {
	if uniqueIDErr != nil || uniqueID == "" {
		return nil, &Failure{Reason: "CALL uniqueId must be a non-empty string", MessageTypeID: &typeID}
	}
	if len(parts) != 4 {
		return nil, &Failure{Reason: "CALL must have exactly 4 elements", MessageTypeID: &typeID, UniqueID: &uniqueID}
	}
	var action string
	if err := json.Unmarshal(parts[2], &action); err != nil || action == "" {
		return nil, &Failure{Reason: "CALL action must be a non-empty string", MessageTypeID: &typeID, UniqueID: &uniqueID}
	}
	return &Envelope{
		Type: TypeCall,
		Call: &Call{UniqueID: uniqueID, Action: action, Payload: parts[3]},
	}, nil
}

func parseCallResult(parts []json.RawMessage, typeID int, uniqueID string, uniqueIDErr error) (*Envelope, *Failure) {
	if uniqueIDErr != nil || uniqueID == "" {
		return nil, &Failure{Reason: "CALLRESULT uniqueId must be a non-empty string", MessageTypeID: &typeID}
	}
	if len(parts) != 3 {
		return nil, &Failure{Reason: "CALLRESULT must have exactly 3 elements", MessageTypeID: &typeID, UniqueID: &uniqueID}
	}
	return &Envelope{
		Type:       TypeCallResult,
		CallResult: &CallResult{UniqueID: uniqueID, Payload: parts[2]},
	}, nil
}

func parseCallError(parts []json.RawMessage, typeID int, uniqueID string, uniqueIDErr error) (*Envelope, *Failure) {
	if uniqueIDErr != nil || uniqueID == "" {
		return nil, &Failure{Reason: "CALLERROR uniqueId must be a non-empty string", MessageTypeID: &typeID}
	}
	if len(parts) != 5 {
		return nil, &Failure{Reason: "CALLERROR must have exactly 5 elements", MessageTypeID: &typeID, UniqueID: &uniqueID}
	}
	var errorCode, errorDescription string
	if err := json.Unmarshal(parts[2], &errorCode); err != nil || errorCode == "" {
		return nil, &Failure{Reason: "CALLERROR errorCode must be a non-empty string", MessageTypeID: &typeID, UniqueID: &uniqueID}
	}
	_ = json.Unmarshal(parts[3], &errorDescription)

	details := parts[4]
	if !isJSONObject(details) {
		return nil, &Failure{Reason: "CALLERROR errorDetails must be a JSON object", MessageTypeID: &typeID, UniqueID: &uniqueID}
	}

	return &Envelope{
		Type: TypeCallError,
		CallError: &CallError{
			UniqueID:         uniqueID,
			ErrorCode:        errorCode,
			ErrorDescription: errorDescription,
			ErrorDetails:     details,
		},
	}, nil
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil
}

// EncodeCall emits a CALL frame.
func EncodeCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{TypeCall, uniqueID, action, payload})
}

// EncodeCallResult emits a CALLRESULT frame.
func EncodeCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{TypeCallResult, uniqueID, payload})
}

// EncodeCallError emits a CALLERROR frame. A nil details value is
// encoded as an empty JSON object to satisfy the wire invariant.
func EncodeCallError(uniqueID, errorCode, errorDescription string, details interface{}) ([]byte, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{TypeCallError, uniqueID, errorCode, errorDescription, details})
}
