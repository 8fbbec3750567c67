package v16

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

func TestBootNotificationAccepted(t *testing.T) {
	a := newTestAdapter(t)
	payload, _ := json.Marshal(map[string]string{"chargePointVendor": "Acme", "chargePointModel": "X1"})

	result := a.HandleCall(context.Background(), "CP-1", "BootNotification", payload)
	require.Nil(t, result.Err)

	resp, ok := result.Response.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "Accepted", resp["status"])
	require.EqualValues(t, 300, resp["interval"])
}

func TestBootNotificationMissingFieldIsFormationViolation(t *testing.T) {
	a := newTestAdapter(t)
	payload, _ := json.Marshal(map[string]string{"chargePointVendor": "Acme"})

	result := a.HandleCall(context.Background(), "CP-1", "BootNotification", payload)
	require.NotNil(t, result.Err)
	require.Equal(t, state.CodeFormationViolation, result.Err.Code)
}

func TestStartTransactionIdempotentAcrossTwoIdenticalCalls(t *testing.T) {
	a := newTestAdapter(t)
	payload, _ := json.Marshal(map[string]interface{}{
		"connectorId": 1, "idTag": "TAG", "meterStart": 100, "timestamp": "2024-01-01T00:00:00Z",
	})

	first := a.HandleCall(context.Background(), "CP-1", "StartTransaction", payload)
	require.Nil(t, first.Err)
	second := a.HandleCall(context.Background(), "CP-1", "StartTransaction", payload)
	require.Nil(t, second.Err)

	firstResp := first.Response.(map[string]interface{})
	secondResp := second.Response.(map[string]interface{})
	require.Equal(t, firstResp["transactionId"], secondResp["transactionId"])
}

func TestUnknownActionIsNotImplemented(t *testing.T) {
	a := newTestAdapter(t)
	result := a.HandleCall(context.Background(), "CP-1", "SomeFutureAction", []byte(`{}`))
	require.NotNil(t, result.Err)
	require.Equal(t, "NotImplemented", result.Err.Code)
}

func TestMeterValuesUnknownTransactionStrictIsRejected(t *testing.T) {
	a := newTestAdapter(t)
	payload, _ := json.Marshal(map[string]interface{}{"connectorId": 1, "transactionId": 999, "meterValue": []interface{}{}})

	result := a.HandleCall(context.Background(), "CP-1", "MeterValues", payload)
	require.NotNil(t, result.Err)
	require.Equal(t, state.CodeOccurrenceConstraintViolation, result.Err.Code)
}
