// Package outbound implements the outbound-command machinery: the
// reply-or-timeout tracker (§4.I) and the command dispatcher (§4.J)
// that turns a CommandRequest into a CALL, awaits its CALLRESULT, and
// normalizes the result into one of a handful of outcomes the command
// consumer (§4.K) maps onto lifecycle events.
package outbound

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
)

// PendingResult is what a tracked CALL eventually resolves to.
type PendingResult struct {
	Response         interface{}
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     interface{}
	TimedOut         bool
	Cancelled        bool
}

type pendingCall struct {
	action  string
	version string
	ch      chan PendingResult
	timer   *time.Timer
}

// Tracker registers outbound CALLs and resolves them once from either
// handleCallResult, handleCallError, or the timeout timer (§4.I).
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
	schemas *schema.Registry
}

// NewTracker builds a Tracker validating CALLRESULTs against schemas.
func NewTracker(schemas *schema.Registry) *Tracker {
	return &Tracker{pending: make(map[string]*pendingCall), schemas: schemas}
}

// Register records messageID as awaiting a reply for (version, action)
// and returns the channel its single resolution arrives on. timeout
// rejects the future if no reply arrives in time.
func (t *Tracker) Register(messageID, version, action string, timeout time.Duration) <-chan PendingResult {
	ch := make(chan PendingResult, 1)
	call := &pendingCall{action: action, version: version, ch: ch}

	t.mu.Lock()
	t.pending[messageID] = call
	t.mu.Unlock()

	call.timer = time.AfterFunc(timeout, func() { t.resolve(messageID, PendingResult{TimedOut: true}) })
	return ch
}

// Cancel aborts a pending call without a reply — used when the owning
// connection closes while a command is outstanding. All exit paths
// stop the timer (§4.I).
func (t *Tracker) Cancel(messageID string) {
	t.resolve(messageID, PendingResult{Cancelled: true})
}

// HandleCallResult resolves messageID with payload after validating it
// against the response schema for the call's (version, action).
// Duplicate or unknown messageIds are silently dropped (§4.I).
func (t *Tracker) HandleCallResult(messageID string, payload []byte) {
	call := t.take(messageID)
	if call == nil {
		return
	}
	call.timer.Stop()

	result := t.schemas.ValidateResponse(call.version, call.action, payload)
	if !result.Valid {
		call.ch <- PendingResult{
			ErrorCode:        "ResponseValidationFailed",
			ErrorDescription: "Response failed schema validation",
			ErrorDetails:     map[string]interface{}{"errors": result.Errors},
		}
		return
	}

	var decoded interface{}
	_ = json.Unmarshal(payload, &decoded)
	call.ch <- PendingResult{Response: decoded}
}

// HandleCallError resolves messageID with the charger's CALLERROR.
// Duplicate or unknown messageIds are silently dropped (§4.I).
func (t *Tracker) HandleCallError(messageID, errorCode, errorDescription string, errorDetails interface{}) {
	call := t.take(messageID)
	if call == nil {
		return
	}
	call.timer.Stop()
	call.ch <- PendingResult{ErrorCode: errorCode, ErrorDescription: errorDescription, ErrorDetails: errorDetails}
}

func (t *Tracker) resolve(messageID string, result PendingResult) {
	call := t.take(messageID)
	if call == nil {
		return
	}
	call.timer.Stop()
	call.ch <- result
}

func (t *Tracker) take(messageID string) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.pending[messageID]
	if !ok {
		return nil
	}
	delete(t.pending, messageID)
	return call
}
