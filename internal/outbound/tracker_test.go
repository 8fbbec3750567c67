package outbound

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
)

func newTestSchemas() *schema.Registry {
	r := schema.NewRegistry(nil)
	_ = r.RegisterResponse("1.6J", "Reset", []byte(`{
		"type": "object",
		"properties": {"status": {"type": "string", "enum": ["Accepted", "Rejected"]}},
		"required": ["status"]
	}`))
	return r
}

func TestTrackerResolvesOnCallResult(t *testing.T) {
	tr := NewTracker(newTestSchemas())
	ch := tr.Register("msg-1", "1.6J", "Reset", time.Second)

	tr.HandleCallResult("msg-1", []byte(`{"status":"Accepted"}`))

	result := <-ch
	require.Empty(t, result.ErrorCode)
	require.False(t, result.TimedOut)
	require.Equal(t, map[string]interface{}{"status": "Accepted"}, result.Response)
}

func TestTrackerRejectsResponseFailingSchema(t *testing.T) {
	tr := NewTracker(newTestSchemas())
	ch := tr.Register("msg-2", "1.6J", "Reset", time.Second)

	tr.HandleCallResult("msg-2", []byte(`{"status":"Bogus"}`))

	result := <-ch
	require.Equal(t, "ResponseValidationFailed", result.ErrorCode)
}

func TestTrackerResolvesOnCallError(t *testing.T) {
	tr := NewTracker(newTestSchemas())
	ch := tr.Register("msg-3", "1.6J", "Reset", time.Second)

	tr.HandleCallError("msg-3", "NotSupported", "Reset not supported", nil)

	result := <-ch
	require.Equal(t, "NotSupported", result.ErrorCode)
	require.Equal(t, "Reset not supported", result.ErrorDescription)
}

func TestTrackerDropsUnknownOrDuplicateMessageID(t *testing.T) {
	tr := NewTracker(newTestSchemas())
	ch := tr.Register("msg-4", "1.6J", "Reset", time.Second)

	// Unknown messageId: no panic, no effect.
	tr.HandleCallResult("does-not-exist", []byte(`{"status":"Accepted"}`))

	tr.HandleCallResult("msg-4", []byte(`{"status":"Accepted"}`))
	<-ch

	// Duplicate resolution of the same messageId must not panic or block.
	tr.HandleCallResult("msg-4", []byte(`{"status":"Accepted"}`))
}

func TestTrackerTimesOutAndStopsTimer(t *testing.T) {
	tr := NewTracker(newTestSchemas())
	ch := tr.Register("msg-5", "1.6J", "Reset", 5*time.Millisecond)

	result := <-ch
	require.True(t, result.TimedOut)
}

func TestTrackerCancelMarksCancelled(t *testing.T) {
	tr := NewTracker(newTestSchemas())
	ch := tr.Register("msg-6", "1.6J", "Reset", time.Minute)

	tr.Cancel("msg-6")

	result := <-ch
	require.True(t, result.Cancelled)
}
