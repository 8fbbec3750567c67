// Package auditlog mirrors every inbound CALL and outbound
// CALLRESULT/CALLERROR to a best-effort sidecar trail (§4.Q), adapted
// from _examples/balu-dk-go-cpms/internal/ocpp/logger.go's
// OCPPLogger.LogRequest/LogResponse — but onto the KV store this
// gateway already depends on instead of an always-on Postgres write,
// and fire-and-forget so it never sits on the hot path (§5 ordering
// guarantees).
package auditlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/kv"
)

// Entry is one logged OCPP message.
type Entry struct {
	ChargePointID string      `json:"chargePointId"`
	MessageType   string      `json:"messageType"` // "Request" | "Response"
	Action        string      `json:"action"`
	MessageID     string      `json:"messageId"`
	Direction     string      `json:"direction"` // "in" | "out"
	Payload       interface{} `json:"payload"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Logger persists Entries to the KV store under a short-TTL key when
// enabled; disabled Loggers are a no-op so call sites don't need to
// branch on the config flag.
type Logger struct {
	store   kv.Store
	ttl     time.Duration
	enabled bool
}

// New builds a Logger. enabled mirrors OCPP_AUDIT_LOG_ENABLED.
func New(store kv.Store, ttl time.Duration, enabled bool) *Logger {
	return &Logger{store: store, ttl: ttl, enabled: enabled}
}

// LogRequest logs an inbound CALL.
func (l *Logger) LogRequest(chargePointID, action, messageID string, payload interface{}) {
	l.log(Entry{ChargePointID: chargePointID, MessageType: "Request", Action: action, MessageID: messageID, Direction: "in", Payload: payload})
}

// LogResponse logs an outbound CALLRESULT/CALLERROR.
func (l *Logger) LogResponse(chargePointID, action, messageID string, payload interface{}) {
	l.log(Entry{ChargePointID: chargePointID, MessageType: "Response", Action: action, MessageID: messageID, Direction: "out", Payload: payload})
}

func (l *Logger) log(entry Entry) {
	if !l.enabled {
		return
	}
	entry.Timestamp = time.Now().UTC()

	go func() {
		body, err := json.Marshal(entry)
		if err != nil {
			logrus.WithError(err).Error("failed to marshal OCPP audit log entry")
			return
		}
		key := "ocpp-audit:" + entry.ChargePointID + ":" + uuid.NewString()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.store.Set(ctx, key, body, l.ttl); err != nil {
			logrus.WithFields(logrus.Fields{
				"chargePointId": entry.ChargePointID,
				"action":        entry.Action,
				"messageId":     entry.MessageID,
			}).WithError(err).Warn("failed to write OCPP audit log entry, dropping (best-effort)")
		}
	}()
}
