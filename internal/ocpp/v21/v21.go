// Package v21 implements the OCPP 2.1 version adapter by reusing the
// 2.0.1 dispatch table under its own version tag — this implementation
// treats 2.1's core action set (BootNotification, Heartbeat,
// StatusNotification, Authorize, DataTransfer, TransactionEvent, and
// the security/firmware/log notifications) as wire-compatible with
// 2.0.1 (see the internal/ocpp/v21 entry in DESIGN.md).
package v21

import (
	"github.com/Bravos-hub/ocpp-gateway/internal/events"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/adapter"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/state"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/v201"
	"github.com/Bravos-hub/ocpp-gateway/internal/session"
)

// New builds a 2.1 adapter.
func New(schemas *schema.Registry, st *state.Store, emitter *events.Emitter, sessions *session.Directory, strict bool) adapter.Adapter {
	return v201.NewForVersion("2.1", adapter.V21, schemas, st, emitter, sessions, strict)
}
