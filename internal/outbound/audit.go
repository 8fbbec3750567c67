package outbound

import "context"

// AuditRecord is one row of the outbound command audit trail (§4.J).
// The Dispatcher writes one record per CALL, with State "Sent", just
// before the frame goes out; the reply's outcome is not written to the
// audit trail.
type AuditRecord struct {
	CommandID     string
	MessageID     string
	ChargePointID string
	CommandType   string
	State         string
	Detail        string
}

// AuditWriter persists AuditRecords. internal/outbound never imports a
// storage package directly — cmd/gateway wires a concrete adapter (for
// example one backed by internal/kv/pgkv) in at startup.
type AuditWriter interface {
	Write(ctx context.Context, record AuditRecord) error
}
