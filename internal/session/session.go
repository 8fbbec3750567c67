// Package session implements the cluster-wide session-ownership
// protocol (§4.G): one compare-and-set claim per `sessions:{chargePointId}`
// key, arbitrated entirely inside the KV store's CompareAndSwap so the
// session directory is the sole cluster-wide mutex (§5).
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
)

// Status is the outcome of a claim attempt.
type Status string

const (
	StatusFresh      Status = "FRESH"
	StatusRefreshed  Status = "REFRESHED"
	StatusTakeover   Status = "TAKEOVER"
	StatusDenied     Status = "DENIED"
)

// Entry is the value stored under `sessions:{chargePointId}`.
type Entry struct {
	ChargePointID string `json:"chargePointId"`
	OCPPVersion   string `json:"ocppVersion"`
	NodeID        string `json:"nodeId"`
	StationID     string `json:"stationId"`
	TenantID      string `json:"tenantId"`
	ConnectedAtMs int64  `json:"connectedAtMs"`
	LastSeenAtMs  int64  `json:"lastSeenAtMs"`
	Epoch         int64  `json:"epoch"`
}

// Info carries the charger metadata stamped onto an Entry as of the
// claim that created or took over it (§4.G, spec's session-entry
// field list).
type Info struct {
	OCPPVersion string
	StationID   string
	TenantID    string
}

// ClaimResult is what Claim returns to the caller.
type ClaimResult struct {
	Status              Status
	PreviousOwnerNodeID string
	Epoch               int64
}

// Directory is the ownership-protocol implementation over a kv.Store.
type Directory struct {
	store      kv.Store
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// New builds a Directory. staleAfter<=0 disables takeover entirely
// (every contested claim is DENIED).
func New(store kv.Store, ttl, staleAfter time.Duration) *Directory {
	return &Directory{store: store, ttl: ttl, staleAfter: staleAfter, now: time.Now}
}

func sessionKey(chargePointID string) string { return "sessions:" + chargePointID }

// Claim attempts to claim ownership of chargePointID for nodeID,
// implementing the four cases of the CAS script in §4.G. info is
// stamped onto the entry for FRESH and TAKEOVER claims (a genuinely new
// connection); REFRESHED keeps the connectedAtMs of the connection
// already on file but still refreshes the other metadata in case the
// charger's identity record changed underneath it.
func (d *Directory) Claim(ctx context.Context, chargePointID, nodeID string, info Info) (ClaimResult, error) {
	nowMs := d.now().UnixMilli()
	var result ClaimResult

	_, _, err := d.store.CompareAndSwap(ctx, sessionKey(chargePointID), func(current []byte, exists bool) ([]byte, time.Duration, bool) {
		cur, ok := decodeEntry(current, exists)

		if !ok {
			result = ClaimResult{Status: StatusFresh, Epoch: 1}
			return encodeEntry(Entry{
				ChargePointID: chargePointID, OCPPVersion: info.OCPPVersion, NodeID: nodeID,
				StationID: info.StationID, TenantID: info.TenantID,
				ConnectedAtMs: nowMs, LastSeenAtMs: nowMs, Epoch: 1,
			}), d.ttl, true
		}

		if cur.NodeID == nodeID {
			result = ClaimResult{Status: StatusRefreshed, PreviousOwnerNodeID: cur.NodeID, Epoch: cur.Epoch}
			return encodeEntry(Entry{
				ChargePointID: chargePointID, OCPPVersion: info.OCPPVersion, NodeID: nodeID,
				StationID: info.StationID, TenantID: info.TenantID,
				ConnectedAtMs: cur.ConnectedAtMs, LastSeenAtMs: nowMs, Epoch: cur.Epoch,
			}), d.ttl, true
		}

		staleMs := d.staleAfter.Milliseconds()
		if staleMs > 0 && nowMs-cur.LastSeenAtMs > staleMs {
			newEpoch := cur.Epoch + 1
			result = ClaimResult{Status: StatusTakeover, PreviousOwnerNodeID: cur.NodeID, Epoch: newEpoch}
			return encodeEntry(Entry{
				ChargePointID: chargePointID, OCPPVersion: info.OCPPVersion, NodeID: nodeID,
				StationID: info.StationID, TenantID: info.TenantID,
				ConnectedAtMs: nowMs, LastSeenAtMs: nowMs, Epoch: newEpoch,
			}), d.ttl, true
		}

		result = ClaimResult{Status: StatusDenied, PreviousOwnerNodeID: cur.NodeID, Epoch: cur.Epoch}
		return nil, 0, false
	})

	if err != nil {
		return ClaimResult{}, err
	}
	return result, nil
}

// Touch refreshes lastSeenAtMs and TTL for the owning node, reporting
// whether nodeID is still the owner. A non-owner never steals — it
// simply reports false so the caller can log and skip (§4.G).
func (d *Directory) Touch(ctx context.Context, chargePointID, nodeID string) (stillOwner bool, err error) {
	nowMs := d.now().UnixMilli()

	_, _, err = d.store.CompareAndSwap(ctx, sessionKey(chargePointID), func(current []byte, exists bool) ([]byte, time.Duration, bool) {
		cur, ok := decodeEntry(current, exists)
		if !ok || cur.NodeID != nodeID {
			return nil, 0, false
		}
		stillOwner = true
		cur.LastSeenAtMs = nowMs
		return encodeEntry(cur), d.ttl, true
	})
	return stillOwner, err
}

// Unregister deletes the session entry only if nodeID still owns it,
// atomically: a TAKEOVER claim that lands between a stale owner's read
// and its delete must never be able to erase the new owner's entry.
func (d *Directory) Unregister(ctx context.Context, chargePointID, nodeID string) error {
	_, _, err := d.store.CompareAndSwap(ctx, sessionKey(chargePointID), func(current []byte, exists bool) ([]byte, time.Duration, bool) {
		cur, ok := decodeEntry(current, exists)
		if !ok || cur.NodeID != nodeID {
			return nil, 0, false
		}
		return nil, 0, true
	})
	return err
}

// Lookup returns the current owner of chargePointID, if any.
func (d *Directory) Lookup(ctx context.Context, chargePointID string) (Entry, bool, error) {
	raw, err := d.store.Get(ctx, sessionKey(chargePointID))
	if err != nil {
		if err == kv.ErrNotFound {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	entry, ok := decodeEntry(raw, true)
	return entry, ok, nil
}

func decodeEntry(raw []byte, exists bool) (Entry, bool) {
	if !exists {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func encodeEntry(e Entry) []byte {
	raw, _ := json.Marshal(e)
	return raw
}
