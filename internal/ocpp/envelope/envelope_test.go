package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripCall(t *testing.T) {
	raw, err := EncodeCall("123", "BootNotification", map[string]string{"chargePointVendor": "E"})
	require.NoError(t, err)

	env, failure := Parse(raw)
	require.Nil(t, failure)
	require.Equal(t, TypeCall, env.Type)
	require.Equal(t, "123", env.Call.UniqueID)
	require.Equal(t, "BootNotification", env.Call.Action)

	reemitted, err := EncodeCall(env.Call.UniqueID, env.Call.Action, env.Call.Payload)
	require.NoError(t, err)

	env2, failure2 := Parse(reemitted)
	require.Nil(t, failure2)
	require.Equal(t, env.Call.UniqueID, env2.Call.UniqueID)
	require.Equal(t, env.Call.Action, env2.Call.Action)
	require.JSONEq(t, string(env.Call.Payload), string(env2.Call.Payload))
}

func TestRoundTripCallResult(t *testing.T) {
	raw, err := EncodeCallResult("abc", map[string]string{"status": "Accepted"})
	require.NoError(t, err)

	env, failure := Parse(raw)
	require.Nil(t, failure)
	require.Equal(t, TypeCallResult, env.Type)

	reemitted, err := EncodeCallResult(env.CallResult.UniqueID, env.CallResult.Payload)
	require.NoError(t, err)
	env2, failure2 := Parse(reemitted)
	require.Nil(t, failure2)
	require.Equal(t, env.CallResult.UniqueID, env2.CallResult.UniqueID)
	require.JSONEq(t, string(env.CallResult.Payload), string(env2.CallResult.Payload))
}

func TestRoundTripCallError(t *testing.T) {
	raw, err := EncodeCallError("xyz", "FormationViolation", "bad payload", map[string]interface{}{"errors": []string{"oops"}})
	require.NoError(t, err)

	env, failure := Parse(raw)
	require.Nil(t, failure)
	require.Equal(t, TypeCallError, env.Type)

	reemitted, err := EncodeCallError(env.CallError.UniqueID, env.CallError.ErrorCode, env.CallError.ErrorDescription, env.CallError.ErrorDetails)
	require.NoError(t, err)
	env2, failure2 := Parse(reemitted)
	require.Nil(t, failure2)
	require.Equal(t, env.CallError, env2.CallError)
}

func TestParsePreservesUniqueIDOnMalformedCall(t *testing.T) {
	// Missing action (only 3 elements) but a valid uniqueId.
	_, failure := Parse([]byte(`[2, "req-1", {"foo":"bar"}]`))
	require.NotNil(t, failure)
	require.NotNil(t, failure.UniqueID)
	require.Equal(t, "req-1", *failure.UniqueID)
}

func TestParseRejectsNonObjectCallErrorDetails(t *testing.T) {
	_, failure := Parse([]byte(`[4, "id1", "InternalError", "desc", "not-an-object"]`))
	require.NotNil(t, failure)
	require.Equal(t, "id1", *failure.UniqueID)
}

func TestParseUnknownMessageType(t *testing.T) {
	_, failure := Parse([]byte(`[9, "id1", "x"]`))
	require.NotNil(t, failure)
	require.Nil(t, failure.UniqueID)
	require.NotNil(t, failure.MessageTypeID)
	require.Equal(t, 9, *failure.MessageTypeID)
}
