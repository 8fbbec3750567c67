package outbound

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
)

type fakeSender struct {
	tracker  *Tracker
	respond  func(messageID string)
	lastSent []byte
}

func (f *fakeSender) Send(ctx context.Context, chargePointID string, frame []byte) error {
	f.lastSent = frame
	var decoded []json.RawMessage
	_ = json.Unmarshal(frame, &decoded)
	var messageID string
	_ = json.Unmarshal(decoded[1], &messageID)
	go f.respond(messageID)
	return nil
}

type fakeAuditWriter struct {
	records []AuditRecord
}

func (f *fakeAuditWriter) Write(ctx context.Context, record AuditRecord) error {
	f.records = append(f.records, record)
	return nil
}

func dispatcherSchemas() *schema.Registry {
	r := schema.NewRegistry(nil)
	_ = r.RegisterRequest("1.6J", "Reset", []byte(`{
		"type": "object",
		"properties": {"type": {"type": "string"}},
		"required": ["type"]
	}`))
	_ = r.RegisterResponse("1.6J", "Reset", []byte(`{
		"type": "object",
		"properties": {"status": {"type": "string"}},
		"required": ["status"]
	}`))
	_ = r.RegisterRequest("2.0.1", "RequestStartTransaction", []byte(`{
		"type": "object",
		"properties": {
			"remoteStartId": {"type": "integer"},
			"idToken": {"type": "object", "properties": {"idToken": {"type": "string"}, "type": {"type": "string"}}}
		},
		"required": ["remoteStartId", "idToken"]
	}`))
	_ = r.RegisterResponse("2.0.1", "RequestStartTransaction", []byte(`{
		"type": "object",
		"properties": {"status": {"type": "string"}},
		"required": ["status"]
	}`))
	return r
}

func TestDispatchAcceptedRoundTrip(t *testing.T) {
	schemas := dispatcherSchemas()
	tracker := NewTracker(schemas)
	audit := &fakeAuditWriter{}
	sender := &fakeSender{tracker: tracker}
	sender.respond = func(messageID string) {
		tracker.HandleCallResult(messageID, []byte(`{"status":"Accepted"}`))
	}

	d := New(schemas, tracker, sender, audit)
	result, err := d.Dispatch(context.Background(), "CP-1", "1.6J", CommandReset, map[string]interface{}{"type": "Hard"}, time.Second, "cmd-1")

	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, result.Outcome)
	require.Len(t, audit.records, 1)
	require.Equal(t, "Sent", audit.records[0].State)
}

func TestDispatchUnsupportedCommandOnThatVersion(t *testing.T) {
	schemas := dispatcherSchemas()
	tracker := NewTracker(schemas)
	sender := &fakeSender{}

	d := New(schemas, tracker, sender, nil)
	result, err := d.Dispatch(context.Background(), "CP-1", "2.0.1", CommandChangeConfiguration, nil, time.Second, "")

	require.NoError(t, err)
	require.Equal(t, OutcomeUnsupportedCommand, result.Outcome)
}

func TestDispatchSchemaMissing(t *testing.T) {
	schemas := schema.NewRegistry(nil) // no schemas registered at all
	tracker := NewTracker(schemas)
	sender := &fakeSender{}

	d := New(schemas, tracker, sender, nil)
	result, err := d.Dispatch(context.Background(), "CP-1", "1.6J", CommandReset, map[string]interface{}{"type": "Hard"}, time.Second, "")

	require.NoError(t, err)
	require.Equal(t, OutcomeSchemaMissing, result.Outcome)
}

func TestDispatchPayloadValidationFailed(t *testing.T) {
	schemas := dispatcherSchemas()
	tracker := NewTracker(schemas)
	sender := &fakeSender{}

	d := New(schemas, tracker, sender, nil)
	// Missing the required "type" field.
	result, err := d.Dispatch(context.Background(), "CP-1", "1.6J", CommandReset, map[string]interface{}{}, time.Second, "")

	require.NoError(t, err)
	require.Equal(t, OutcomePayloadValidationFailed, result.Outcome)
}

func TestDispatchNormalizesLegacyIdTagToIdToken(t *testing.T) {
	schemas := dispatcherSchemas()
	tracker := NewTracker(schemas)
	sender := &fakeSender{}
	sender.respond = func(messageID string) {
		tracker.HandleCallResult(messageID, []byte(`{"status":"Accepted"}`))
	}

	d := New(schemas, tracker, sender, nil)
	_, err := d.Dispatch(context.Background(), "CP-1", "2.0.1", CommandRemoteStart, map[string]interface{}{
		"remoteStartId": 1,
		"idTag":         "ABC123",
	}, time.Second, "")
	require.NoError(t, err)

	var decoded []interface{}
	require.NoError(t, json.Unmarshal(sender.lastSent, &decoded))
	payload := decoded[3].(map[string]interface{})
	require.NotContains(t, payload, "idTag")
	idToken := payload["idToken"].(map[string]interface{})
	require.Equal(t, "ABC123", idToken["idToken"])
	require.Equal(t, "Central", idToken["type"])
}

func TestDispatchRejectedByCharger(t *testing.T) {
	schemas := dispatcherSchemas()
	tracker := NewTracker(schemas)
	sender := &fakeSender{}
	sender.respond = func(messageID string) {
		tracker.HandleCallError(messageID, "NotSupported", "Reset not supported", nil)
	}

	d := New(schemas, tracker, sender, nil)
	result, err := d.Dispatch(context.Background(), "CP-1", "1.6J", CommandReset, map[string]interface{}{"type": "Hard"}, time.Second, "")

	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, result.Outcome)
	require.Equal(t, "NotSupported", result.ErrorCode)
}

func TestDispatchTimesOutWhenChargerNeverReplies(t *testing.T) {
	schemas := dispatcherSchemas()
	tracker := NewTracker(schemas)
	sender := &fakeSender{respond: func(messageID string) {}}

	d := New(schemas, tracker, sender, nil)
	result, err := d.Dispatch(context.Background(), "CP-1", "1.6J", CommandReset, map[string]interface{}{"type": "Hard"}, 5*time.Millisecond, "")

	require.NoError(t, err)
	require.Equal(t, OutcomeTimeout, result.Outcome)
}
