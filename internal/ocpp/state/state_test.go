package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartTransactionIsIdempotentOnExactReplay(t *testing.T) {
	s := New()

	first := s.StartTransactionV16("CP1", 1, "TAG1", 100, "2026-08-03T10:00:00Z")
	require.True(t, first.Accepted)
	require.False(t, first.Idempotent)

	replay := s.StartTransactionV16("CP1", 1, "TAG1", 100, "2026-08-03T10:00:00Z")
	require.True(t, replay.Accepted)
	require.True(t, replay.Idempotent)
	require.Equal(t, first.TransactionID, replay.TransactionID)
}

func TestStartTransactionRejectsConflictingActiveOnSameConnector(t *testing.T) {
	s := New()

	s.StartTransactionV16("CP1", 1, "TAG1", 100, "2026-08-03T10:00:00Z")
	conflict := s.StartTransactionV16("CP1", 1, "TAG2", 200, "2026-08-03T10:05:00Z")

	require.False(t, conflict.Accepted)
	require.Equal(t, CodeOccurrenceConstraintViolation, conflict.RejectCode)
	require.Equal(t, "Connector already has an active transaction", conflict.RejectMessage)
}

func TestStopTransactionUnknownIsRejected(t *testing.T) {
	s := New()
	result := s.StopTransactionV16("CP1", 999, 100, "2026-08-03T10:00:00Z", "Local")
	require.False(t, result.Accepted)
	require.Equal(t, "Unknown transaction", result.RejectMessage)
}

func TestStopTransactionIsIdempotentOnExactReplay(t *testing.T) {
	s := New()
	start := s.StartTransactionV16("CP1", 1, "TAG1", 100, "2026-08-03T10:00:00Z")

	first := s.StopTransactionV16("CP1", start.TransactionID, 500, "2026-08-03T11:00:00Z", "Local")
	require.True(t, first.Accepted)
	require.False(t, first.Idempotent)

	replay := s.StopTransactionV16("CP1", start.TransactionID, 500, "2026-08-03T11:00:00Z", "Local")
	require.True(t, replay.Accepted)
	require.True(t, replay.Idempotent)

	diverging := s.StopTransactionV16("CP1", start.TransactionID, 999, "2026-08-03T11:00:00Z", "Local")
	require.False(t, diverging.Accepted)
}

func TestStopTransactionClearsActiveByConnector(t *testing.T) {
	s := New()
	start := s.StartTransactionV16("CP1", 1, "TAG1", 100, "2026-08-03T10:00:00Z")
	s.StopTransactionV16("CP1", start.TransactionID, 500, "2026-08-03T11:00:00Z", "Local")

	again := s.StartTransactionV16("CP1", 1, "TAG3", 0, "2026-08-03T12:00:00Z")
	require.True(t, again.Accepted)
	require.False(t, again.Idempotent)
	require.NotEqual(t, start.TransactionID, again.TransactionID)
}

func TestMeterValuesUnknownTransactionStrictRejected(t *testing.T) {
	s := New()
	txID := 42
	result := s.MeterValuesV16("CP1", &txID, true)
	require.False(t, result.Accepted)
	require.Equal(t, "Unknown transaction", result.RejectMessage)
}

func TestMeterValuesUnknownTransactionLenientFlagsOrphaned(t *testing.T) {
	s := New()
	txID := 42
	result := s.MeterValuesV16("CP1", &txID, false)
	require.True(t, result.Accepted)
	require.True(t, result.Orphaned)
}

func TestMeterValuesWithoutTransactionIDIsAlwaysAccepted(t *testing.T) {
	s := New()
	result := s.MeterValuesV16("CP1", nil, true)
	require.True(t, result.Accepted)
	require.False(t, result.Orphaned)
}

func TestTransactionEventSeqNoIsMonotoneIdempotent(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	connID := 1

	started := s.TransactionEvent("CP2", "Started", "tx-abc", 0, nil, &connID, nil, now, true)
	require.True(t, started.Accepted)

	updated := s.TransactionEvent("CP2", "Updated", "tx-abc", 1, nil, &connID, nil, now, true)
	require.True(t, updated.Accepted)
	require.False(t, updated.Idempotent)

	replay := s.TransactionEvent("CP2", "Updated", "tx-abc", 1, nil, &connID, nil, now, true)
	require.True(t, replay.Accepted)
	require.True(t, replay.Idempotent)

	stale := s.TransactionEvent("CP2", "Updated", "tx-abc", 0, nil, &connID, nil, now, true)
	require.True(t, stale.Accepted)
	require.True(t, stale.Idempotent)
}

func TestTransactionEventUnknownUpdatedStrictRejected(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	result := s.TransactionEvent("CP2", "Updated", "tx-unseen", 1, nil, nil, nil, now, true)
	require.False(t, result.Accepted)
	require.Equal(t, CodeOccurrenceConstraintViolation, result.RejectCode)
	require.Equal(t, "Unknown transaction", result.RejectMessage)
}

func TestTransactionEventMissingTransactionIDIsFormatViolation(t *testing.T) {
	s := New()
	result := s.TransactionEvent("CP2", "Started", "", 0, nil, nil, nil, time.Unix(1000, 0), true)
	require.False(t, result.Accepted)
	require.Equal(t, CodeFormatViolation, result.RejectCode)
}

func TestTransactionEventEndedClearsActiveByConnector(t *testing.T) {
	s := New()
	now := time.Unix(1000, 0)
	connID := 5

	s.TransactionEvent("CP3", "Started", "tx-xyz", 0, nil, &connID, nil, now, true)
	ended := s.TransactionEvent("CP3", "Ended", "tx-xyz", 1, nil, &connID, nil, now, true)
	require.True(t, ended.Accepted)

	restart := s.StartTransactionV16("CP3", 5, "TAGX", 0, "2026-08-03T13:00:00Z")
	require.True(t, restart.Accepted)
}
