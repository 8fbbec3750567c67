// Package adapter declares the common shape every version adapter
// (v16, v201, v21) implements, so the gateway loop dispatches by a tag
// rather than by string-comparing the wire version in the hot path
// (§9 "Dynamic dispatch across versions").
package adapter

import "context"

// CallError is the {code, description, details?} shape returned for a
// CALLERROR reply.
type CallError struct {
	Code        string
	Description string
	Details     interface{}
}

// Result is what a version adapter returns for one inbound CALL:
// either Response is set (CALLRESULT) or Err is set (CALLERROR), never
// both.
type Result struct {
	Response interface{}
	Err      *CallError
}

// Version tags the three supported adapters (§9).
type Version int

const (
	V16 Version = iota
	V201
	V21
)

// Adapter handles one inbound CALL for one OCPP protocol version.
type Adapter interface {
	Version() Version
	HandleCall(ctx context.Context, chargePointID, action string, payload []byte) Result
}
