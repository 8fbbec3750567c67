package v201

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"time"

	"github.com/Bravos-hub/ocpp-gateway/internal/bus/inprocbus"
	"github.com/Bravos-hub/ocpp-gateway/internal/events"
	"github.com/Bravos-hub/ocpp-gateway/internal/kv/memkv"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/state"
	"github.com/Bravos-hub/ocpp-gateway/internal/session"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	registry := schema.NewRegistry(nil)
	require.NoError(t, schema.LoadDefaultSchemas(registry))
	b := inprocbus.New()
	emitter := events.NewEmitter(b, "node-test")
	sessions := session.New(memkv.New(), time.Minute, time.Minute)
	return New(registry, state.New(), emitter, sessions, true)
}

func transactionEventPayload(eventType string, seqNo int, transactionID string, connectorID int) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"eventType":     eventType,
		"timestamp":     "2026-08-03T10:00:00Z",
		"triggerReason": "Authorized",
		"seqNo":         seqNo,
		"transactionInfo": map[string]string{
			"transactionId": transactionID,
		},
		"evse": map[string]interface{}{"id": connectorID, "connectorId": connectorID},
	})
	return payload
}

func TestTransactionEventUnknownUpdatedIsOccurrenceConstraintViolation(t *testing.T) {
	a := newTestAdapter(t)
	payload := transactionEventPayload("Updated", 1, "TX-X", 1)

	result := a.HandleCall(context.Background(), "CP-7", "TransactionEvent", payload)
	require.NotNil(t, result.Err)
	require.Equal(t, state.CodeOccurrenceConstraintViolation, result.Err.Code)
	require.Equal(t, "Unknown transaction", result.Err.Description)
}

func TestTransactionEventStartedThenUpdatedAccepted(t *testing.T) {
	a := newTestAdapter(t)
	started := transactionEventPayload("Started", 0, "TX-1", 1)
	result := a.HandleCall(context.Background(), "CP-7", "TransactionEvent", started)
	require.Nil(t, result.Err)

	updated := transactionEventPayload("Updated", 1, "TX-1", 1)
	result = a.HandleCall(context.Background(), "CP-7", "TransactionEvent", updated)
	require.Nil(t, result.Err)
}

func TestBootNotificationAccepted(t *testing.T) {
	a := newTestAdapter(t)
	payload, _ := json.Marshal(map[string]interface{}{
		"chargingStation": map[string]string{"vendorName": "Acme", "model": "X1"},
		"reason":          "PowerUp",
	})
	result := a.HandleCall(context.Background(), "CP-7", "BootNotification", payload)
	require.Nil(t, result.Err)
}
