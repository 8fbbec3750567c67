// Package state implements the in-process, per-charger transaction and
// connector state store (§4.D) — the liveness-critical piece whose
// transactional rules are strict by default (overridable to lenient).
// The top-level registry uses a lock-striped concurrent map
// (puzpuzpuz/xsync), matching the connection-table pattern in
// _examples/other_examples/steve-white-ocpp-server__csmsServer.go;
// each per-charger ChargePointState is still guarded by its own mutex
// because nothing besides the owning receive loop may read or write it
// (§5 "Shared resource policy").
package state

import (
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Error codes on the wire (§6, §4.D tie-break table).
const (
	CodeFormationViolation        = "FormationViolation" // 1.6J malformed payload
	CodeFormatViolation           = "FormatViolation"     // 2.x malformed payload
	CodeOccurrenceConstraintViolation = "OccurrenceConstraintViolation"
)

// ConnectorState is the last known status of one connector.
type ConnectorState struct {
	Status       string
	ErrorCode    string
	LastStatusAt time.Time
}

// TransactionV16 is a 1.6J StartTransaction/StopTransaction record.
type TransactionV16 struct {
	ConnectorID int
	IDTag       string
	MeterStart  int
	Timestamp   string
	State       string // "active" | "stopped"
	Stop        *StopRecordV16
}

// StopRecordV16 is the recorded StopTransaction payload, kept so a
// repeated StopTransaction can be checked for idempotence (§4.D).
type StopRecordV16 struct {
	MeterStop int
	Timestamp string
	Reason    string
}

// TransactionV2x is a 2.x TransactionEvent-tracked transaction.
type TransactionV2x struct {
	EVSEID      *int
	ConnectorID *int
	IDToken     *string
	StartedAt   time.Time
	State       string // "active" | "ended"
	LastSeqNo   int
}

// ChargePointState is the per-charger state §3 describes: boot/heartbeat
// timestamps, connector statuses, and both transaction universes.
type ChargePointState struct {
	mu sync.Mutex

	LastBootAt      time.Time
	LastHeartbeatAt time.Time

	connectors map[int]*ConnectorState

	transactionCounter int
	transactionsV16    map[int]*TransactionV16
	transactionsV2x    map[string]*TransactionV2x

	// activeByConnector holds the transaction id (string form for 1.6J
	// ints too) currently active on a connector — at most one per
	// connector, across both transaction universes.
	activeByConnector map[int]string
}

func newChargePointState() *ChargePointState {
	return &ChargePointState{
		connectors:        make(map[int]*ConnectorState),
		transactionsV16:   make(map[int]*TransactionV16),
		transactionsV2x:   make(map[string]*TransactionV2x),
		activeByConnector: make(map[int]string),
	}
}

// Store is the process-wide registry of ChargePointState, one entry
// created lazily per chargePointId on first action (§3 lifecycle).
type Store struct {
	chargePoints *xsync.MapOf[string, *ChargePointState]
}

// New creates an empty state store.
func New() *Store {
	return &Store{chargePoints: xsync.NewMapOf[string, *ChargePointState]()}
}

func (s *Store) get(chargePointID string) *ChargePointState {
	cp, _ := s.chargePoints.LoadOrCompute(chargePointID, func() *ChargePointState {
		return newChargePointState()
	})
	return cp
}

// RecordBoot timestamps the most recent BootNotification.
func (s *Store) RecordBoot(chargePointID string, at time.Time) {
	cp := s.get(chargePointID)
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.LastBootAt = at
}

// RecordHeartbeat timestamps the most recent Heartbeat.
func (s *Store) RecordHeartbeat(chargePointID string, at time.Time) {
	cp := s.get(chargePointID)
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.LastHeartbeatAt = at
}

// SetConnectorStatus updates a connector's status/errorCode (§4.C StatusNotification).
func (s *Store) SetConnectorStatus(chargePointID string, connectorID int, status, errorCode string, at time.Time) {
	cp := s.get(chargePointID)
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.connectors[connectorID] = &ConnectorState{Status: status, ErrorCode: errorCode, LastStatusAt: at}
}

// ConnectorStatus returns a copy of the last known connector state.
func (s *Store) ConnectorStatus(chargePointID string, connectorID int) (ConnectorState, bool) {
	cp := s.get(chargePointID)
	cp.mu.Lock()
	defer cp.mu.Unlock()
	c, ok := cp.connectors[connectorID]
	if !ok {
		return ConnectorState{}, false
	}
	return *c, true
}

// StartResult is the outcome of StartTransactionV16.
type StartResult struct {
	TransactionID int
	Accepted      bool
	Idempotent    bool
	RejectCode    string
	RejectMessage string
}

// StartTransactionV16 implements §4.D's StartTransaction rules.
func (s *Store) StartTransactionV16(chargePointID string, connectorID int, idTag string, meterStart int, timestamp string) StartResult {
	cp := s.get(chargePointID)
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if activeIDStr, ok := cp.activeByConnector[connectorID]; ok {
		activeID, _ := strconv.Atoi(activeIDStr)
		existing := cp.transactionsV16[activeID]
		if existing != nil &&
			existing.ConnectorID == connectorID &&
			existing.IDTag == idTag &&
			existing.MeterStart == meterStart &&
			existing.Timestamp == timestamp {
			return StartResult{TransactionID: activeID, Accepted: true, Idempotent: true}
		}
		return StartResult{
			Accepted:      false,
			RejectCode:    CodeOccurrenceConstraintViolation,
			RejectMessage: "Connector already has an active transaction",
		}
	}

	cp.transactionCounter++
	txID := cp.transactionCounter
	cp.transactionsV16[txID] = &TransactionV16{
		ConnectorID: connectorID,
		IDTag:       idTag,
		MeterStart:  meterStart,
		Timestamp:   timestamp,
		State:       "active",
	}
	cp.activeByConnector[connectorID] = strconv.Itoa(txID)
	return StartResult{TransactionID: txID, Accepted: true}
}

// StopResult is the outcome of StopTransactionV16.
type StopResult struct {
	Accepted      bool
	Idempotent    bool
	RejectCode    string
	RejectMessage string
}

// StopTransactionV16 implements §4.D's StopTransaction rules.
func (s *Store) StopTransactionV16(chargePointID string, transactionID int, meterStop int, timestamp, reason string) StopResult {
	cp := s.get(chargePointID)
	cp.mu.Lock()
	defer cp.mu.Unlock()

	tx, ok := cp.transactionsV16[transactionID]
	if !ok {
		return StopResult{RejectCode: CodeOccurrenceConstraintViolation, RejectMessage: "Unknown transaction"}
	}

	if tx.State == "stopped" {
		if tx.Stop != nil && tx.Stop.MeterStop == meterStop && tx.Stop.Timestamp == timestamp {
			return StopResult{Accepted: true, Idempotent: true}
		}
		return StopResult{
			RejectCode:    CodeOccurrenceConstraintViolation,
			RejectMessage: "Stop transaction values do not match the recorded stop",
		}
	}

	tx.State = "stopped"
	tx.Stop = &StopRecordV16{MeterStop: meterStop, Timestamp: timestamp, Reason: reason}
	delete(cp.activeByConnector, tx.ConnectorID)
	return StopResult{Accepted: true}
}

// MeterValuesResult is the outcome of MeterValuesV16.
type MeterValuesResult struct {
	Accepted      bool
	Orphaned      bool
	RejectCode    string
	RejectMessage string
}

// MeterValuesV16 implements §4.D's MeterValues rules. strict selects
// between rejecting an unknown transactionId (strict, default) and
// flagging the emitted event orphaned (lenient) — see SPEC_FULL.md §12
// for the preserved-but-unspecified-downstream-meaning of the flag.
func (s *Store) MeterValuesV16(chargePointID string, transactionID *int, strict bool) MeterValuesResult {
	if transactionID == nil {
		return MeterValuesResult{Accepted: true}
	}

	cp := s.get(chargePointID)
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if _, ok := cp.transactionsV16[*transactionID]; ok {
		return MeterValuesResult{Accepted: true}
	}
	if strict {
		return MeterValuesResult{RejectCode: CodeOccurrenceConstraintViolation, RejectMessage: "Unknown transaction"}
	}
	return MeterValuesResult{Accepted: true, Orphaned: true}
}

// TransactionEventResult is the outcome of TransactionEvent.
type TransactionEventResult struct {
	Accepted      bool
	Idempotent    bool
	RejectCode    string
	RejectMessage string
}

// TransactionEvent implements §4.D's 2.x TransactionEvent rules.
func (s *Store) TransactionEvent(chargePointID, eventType, transactionID string, seqNo int, evseID, connectorID *int, idToken *string, now time.Time, strict bool) TransactionEventResult {
	if transactionID == "" {
		return TransactionEventResult{RejectCode: CodeFormatViolation, RejectMessage: "Missing transactionId"}
	}

	cp := s.get(chargePointID)
	cp.mu.Lock()
	defer cp.mu.Unlock()

	tx, exists := cp.transactionsV2x[transactionID]

	if exists && seqNo <= tx.LastSeqNo {
		return TransactionEventResult{Accepted: true, Idempotent: true}
	}

	switch eventType {
	case "Started":
		if exists {
			tx.LastSeqNo = seqNo
			return TransactionEventResult{Accepted: true, Idempotent: true}
		}
		tx = &TransactionV2x{
			EVSEID:      evseID,
			ConnectorID: connectorID,
			IDToken:     idToken,
			StartedAt:   now,
			State:       "active",
			LastSeqNo:   seqNo,
		}
		cp.transactionsV2x[transactionID] = tx
		if connectorID != nil {
			cp.activeByConnector[*connectorID] = transactionID
		}
		return TransactionEventResult{Accepted: true}

	case "Updated", "Ended":
		if !exists {
			if strict {
				return TransactionEventResult{RejectCode: CodeOccurrenceConstraintViolation, RejectMessage: "Unknown transaction"}
			}
			tx = &TransactionV2x{EVSEID: evseID, ConnectorID: connectorID, IDToken: idToken, StartedAt: now, State: "active"}
			cp.transactionsV2x[transactionID] = tx
		}
		tx.LastSeqNo = seqNo
		if eventType == "Ended" {
			tx.State = "ended"
			if tx.ConnectorID != nil {
				delete(cp.activeByConnector, *tx.ConnectorID)
			}
		}
		return TransactionEventResult{Accepted: true}

	default:
		return TransactionEventResult{RejectCode: CodeFormatViolation, RejectMessage: "Unknown eventType"}
	}
}
