package commandbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
)

func nodeKey(nodeID string) string { return "nodes:" + nodeID }

// NodeRecord is the directory entry one node advertises about itself (§4.M).
type NodeRecord struct {
	CommandTopic        string    `json:"commandTopic"`
	SessionControlTopic string    `json:"sessionControlTopic"`
	StartedAt           time.Time `json:"startedAt"`
	LastSeenAt          time.Time `json:"lastSeenAt"`
}

// NodeDirectory registers this node's presence and refreshes its TTL
// on a heartbeat cadence (§4.M).
type NodeDirectory struct {
	store     kv.Store
	nodeID    string
	ttl       time.Duration
	now       func() time.Time
	startedAt time.Time
}

// NewNodeDirectory builds a NodeDirectory for nodeID using ttl as the
// directory-entry expiry.
func NewNodeDirectory(store kv.Store, nodeID string, ttl time.Duration) *NodeDirectory {
	return &NodeDirectory{store: store, nodeID: nodeID, ttl: ttl, now: time.Now}
}

// Register writes the initial directory entry at startup.
func (d *NodeDirectory) Register(ctx context.Context) error {
	d.startedAt = d.now().UTC()
	return d.write(ctx)
}

// Heartbeat refreshes lastSeenAt and the entry's TTL.
func (d *NodeDirectory) Heartbeat(ctx context.Context) error {
	if d.startedAt.IsZero() {
		d.startedAt = d.now().UTC()
	}
	return d.write(ctx)
}

func (d *NodeDirectory) write(ctx context.Context) error {
	record := NodeRecord{
		CommandTopic:        NodeCommandTopic(d.nodeID),
		SessionControlTopic: SessionControlTopic(d.nodeID),
		StartedAt:           d.startedAt,
		LastSeenAt:          d.now().UTC(),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return d.store.Set(ctx, nodeKey(d.nodeID), body, d.ttl)
}

// LookupNode reads nodeID's directory entry, if any.
func LookupNode(ctx context.Context, store kv.Store, nodeID string) (NodeRecord, bool, error) {
	raw, err := store.Get(ctx, nodeKey(nodeID))
	if errors.Is(err, kv.ErrNotFound) {
		return NodeRecord{}, false, nil
	}
	if err != nil {
		return NodeRecord{}, false, err
	}
	var record NodeRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return NodeRecord{}, false, err
	}
	return record, true, nil
}

// ResolveCommandTopic returns nodeID's advertised command topic, or
// the deterministic fallback name when the directory has no entry
// (§4.M).
func ResolveCommandTopic(ctx context.Context, store kv.Store, nodeID string) string {
	record, ok, err := LookupNode(ctx, store, nodeID)
	if err == nil && ok && record.CommandTopic != "" {
		return record.CommandTopic
	}
	return NodeCommandTopic(nodeID)
}
