package gateway

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/Bravos-hub/ocpp-gateway/internal/auth"
	"github.com/Bravos-hub/ocpp-gateway/internal/commandbus"
	"github.com/Bravos-hub/ocpp-gateway/internal/events"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/adapter"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/auditlog"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/cache"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/envelope"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/state"
	"github.com/Bravos-hub/ocpp-gateway/internal/outbound"
	"github.com/Bravos-hub/ocpp-gateway/internal/ratelimit"
	"github.com/Bravos-hub/ocpp-gateway/internal/session"
)

var supportedVersions = map[string]bool{"1.6J": true, "2.0.1": true, "2.1": true}

// Config configures a Manager's config-derived knobs (§4.H, §10).
type Config struct {
	NodeID              string
	BasePath            string
	MaxPayloadBytes     int
	PendingMessageLimit int
	SessionTTL          time.Duration
	AuthOptions         auth.Options
}

// Manager is the connection manager and gateway loop (§4.H): it owns
// the socket↔metadata arena, negotiates and authenticates new
// connections, claims session ownership, and fans inbound frames
// through the schema-validated version adapters.
type Manager struct {
	cfg Config

	adapters   map[string]adapter.Adapter
	schemas    *schema.Registry
	cache      *cache.Cache
	sessions   *session.Directory
	authn      *auth.Authenticator
	limiter    *ratelimit.Limiter
	floodLog   *ratelimit.FloodLog
	tracker    *outbound.Tracker
	emitter    *events.Emitter
	sessionPub *commandbus.SessionControlPublisher
	audit      *auditlog.Logger

	conns *xsync.MapOf[string, *conn]
}

// New builds a Manager. adapters must have one entry per normalized
// version ("1.6J", "2.0.1", "2.1").
func New(
	cfg Config,
	adapters map[string]adapter.Adapter,
	schemas *schema.Registry,
	respCache *cache.Cache,
	sessions *session.Directory,
	authn *auth.Authenticator,
	limiter *ratelimit.Limiter,
	floodLog *ratelimit.FloodLog,
	tracker *outbound.Tracker,
	emitter *events.Emitter,
	sessionPub *commandbus.SessionControlPublisher,
	audit *auditlog.Logger,
) *Manager {
	return &Manager{
		cfg:        cfg,
		adapters:   adapters,
		schemas:    schemas,
		cache:      respCache,
		sessions:   sessions,
		authn:      authn,
		limiter:    limiter,
		floodLog:   floodLog,
		tracker:    tracker,
		emitter:    emitter,
		sessionPub: sessionPub,
		audit:      audit,
		conns:      xsync.NewMapOf[string, *conn](),
	}
}

// ServeHTTP implements the WebSocket upgrade endpoint
// `{basePath}/{version}/{chargePointId}` (§4.H, §6).
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsSuspicious(r.URL.Path) {
		m.floodLogRejection(r.Context(), "suspicious", r)
		http.NotFound(w, r)
		return
	}

	parsed, ok := ParsePath(m.cfg.BasePath, r.URL.Path, schema.NormalizeVersion, supportedVersions)
	if !ok {
		http.Error(w, "invalid ocpp path", http.StatusBadRequest)
		return
	}

	offered := parseSubprotocols(r.Header.Get("Sec-WebSocket-Protocol"))
	accepted, ok := negotiateSubprotocol(parsed.Version, offered)
	if !ok {
		http.Error(w, "missing or unsupported subprotocol", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		Subprotocols:    []string{accepted},
		CheckOrigin:     func(*http.Request) bool { return true },
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).WithField("chargePointId", parsed.ChargePointID).Warn("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(int64(m.cfg.MaxPayloadBytes))

	var peerCert *x509.Certificate
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		peerCert = r.TLS.PeerCertificates[0]
	}

	c := newConn(ws, Meta{
		ConnectionID:  uuid.NewString(),
		ChargePointID: parsed.ChargePointID,
		OCPPVersion:   parsed.Version,
		IP:            r.RemoteAddr,
	})

	go m.runConnection(c, parsed, r, peerCert)
}

// runConnection drives one socket's lifetime. A single goroutine
// (readFrames) ever calls ws.ReadMessage; everything else consumes its
// output over a channel so two goroutines never race the same
// *websocket.Conn. While auth/claim are outstanding, a second goroutine
// drains that channel into the connection's pending buffer; once
// claimed, runConnection waits for that drain to fully stop before
// taking over the channel itself, so frame order is never disturbed
// (§4.H, §5 "independent, parallel worker tasks per charger connection").
func (m *Manager) runConnection(c *conn, parsed ParsedPath, r *http.Request, peerCert *x509.Certificate) {
	ctx := context.Background()

	frames := make(chan []byte, m.cfg.PendingMessageLimit)
	go m.readFrames(c, frames)

	authDone := make(chan struct{})
	bufferDone := make(chan struct{})
	go m.bufferUntilAuth(c, frames, authDone, bufferDone)

	identity, err := m.authn.Authenticate(ctx, auth.Request{
		ChargePointID: parsed.ChargePointID,
		Version:       parsed.Version,
		RemoteAddr:    r.RemoteAddr,
		Header:        r.Header,
		PeerCert:      peerCert,
	})
	if err != nil {
		close(authDone)
		<-bufferDone
		c.closeWithCode(websocket.ClosePolicyViolation, "unauthenticated")
		return
	}
	c.meta.StationID = identity.StationID
	c.meta.TenantID = identity.TenantID

	claim, err := m.sessions.Claim(ctx, parsed.ChargePointID, m.cfg.NodeID, session.Info{
		OCPPVersion: parsed.Version,
		StationID:   identity.StationID,
		TenantID:    identity.TenantID,
	})
	if err != nil {
		logrus.WithError(err).WithField("chargePointId", parsed.ChargePointID).Error("session claim failed")
		close(authDone)
		<-bufferDone
		c.closeWithCode(websocket.ClosePolicyViolation, "session claim failed")
		return
	}

	switch claim.Status {
	case session.StatusDenied:
		close(authDone)
		<-bufferDone
		c.closeWithCode(websocket.CloseTryAgainLater, "already connected")
		return
	case session.StatusTakeover:
		c.meta.SessionEpoch = claim.Epoch
		if m.sessionPub != nil && claim.PreviousOwnerNodeID != "" {
			if err := m.sessionPub.PublishForceDisconnect(ctx, claim.PreviousOwnerNodeID, commandbus.ForceDisconnect{
				ChargePointID:  parsed.ChargePointID,
				NewEpoch:       claim.Epoch,
				NewOwnerNodeID: m.cfg.NodeID,
				Reason:         "session transferred",
			}); err != nil {
				logrus.WithError(err).WithField("chargePointId", parsed.ChargePointID).Error("failed to publish ForceDisconnect")
			}
		}
	default: // FRESH, REFRESHED
		c.meta.SessionEpoch = claim.Epoch
	}

	if existing, loaded := m.conns.LoadAndDelete(parsed.ChargePointID); loaded {
		existing.closeWithCode(websocket.CloseTryAgainLater, "superseded by new connection")
	}
	m.conns.Store(parsed.ChargePointID, c)

	close(authDone)
	<-bufferDone

	defer m.unregister(ctx, c)

	for _, raw := range c.takePending() {
		m.processFrame(ctx, c, raw)
		if c.isClosed() {
			return
		}
	}

	for data := range frames {
		m.processFrame(ctx, c, data)
		if c.isClosed() {
			return
		}
	}
}

// readFrames is the sole goroutine that ever calls ws.ReadMessage for
// a connection; it forwards every inbound frame onto frames and closes
// the channel once the socket errors or is torn down. A frame over
// MaxPayloadBytes is closed with 1009 per the documented close-code
// contract (spec.md's "payload too large"), distinct from every other
// read error, which just tears the connection down silently.
func (m *Manager) readFrames(c *conn, frames chan<- []byte) {
	defer close(frames)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if strings.Contains(err.Error(), "read limit exceeded") {
				c.closeWithCode(websocket.CloseMessageTooBig, "payload too large")
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				logrus.WithError(err).WithField("chargePointId", c.meta.ChargePointID).Debug("unexpected websocket close")
			}
			return
		}
		select {
		case frames <- data:
		case <-c.closed:
			return
		}
	}
}

// bufferUntilAuth consumes frames into the connection's pending buffer
// while auth/claim is outstanding, handing consumption of frames back
// to the caller (by returning) once authDone fires. Overflowing the
// pending limit closes the connection outright (§4.H).
func (m *Manager) bufferUntilAuth(c *conn, frames <-chan []byte, authDone <-chan struct{}, bufferDone chan<- struct{}) {
	defer close(bufferDone)
	for {
		select {
		case <-authDone:
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if !c.enqueuePending(data, m.cfg.PendingMessageLimit) {
				c.closeWithCode(websocket.CloseTryAgainLater, "pending message limit exceeded")
				return
			}
		}
	}
}

func (m *Manager) unregister(ctx context.Context, c *conn) {
	if cur, ok := m.conns.Load(c.meta.ChargePointID); ok && cur == c {
		m.conns.Delete(c.meta.ChargePointID)
	}
	if err := m.sessions.Unregister(ctx, c.meta.ChargePointID, m.cfg.NodeID); err != nil {
		logrus.WithError(err).WithField("chargePointId", c.meta.ChargePointID).Warn("session unregister failed")
	}
	c.closeWithCode(websocket.CloseNormalClosure, "bye")
}

func (m *Manager) errorCodeFor(version string) string {
	if version == "1.6J" {
		return state.CodeFormationViolation
	}
	return state.CodeFormatViolation
}

// processFrame handles one inbound frame (§2): it parses the envelope
// (A) and hands a CALL to handleCall, which replays a cached reply (E
// hit) or runs the adapter's validation and handling (B -> C -> D),
// then sends the reply and stores it in the cache (H, E store).
// CALLRESULT/CALLERROR frames go to the outbound tracker. Replies sent
// to the charger are not validated against a response schema.
func (m *Manager) processFrame(ctx context.Context, c *conn, raw []byte) {
	if stillOwner, err := m.sessions.Touch(ctx, c.meta.ChargePointID, m.cfg.NodeID); err != nil {
		logrus.WithError(err).WithField("chargePointId", c.meta.ChargePointID).Warn("session touch failed")
	} else if !stillOwner {
		logrus.WithField("chargePointId", c.meta.ChargePointID).Warn("no longer session owner, skipping touch (never stealing)")
	}

	env, failure := envelope.Parse(raw)
	if failure != nil {
		if failure.MessageTypeID != nil && *failure.MessageTypeID == envelope.TypeCall && failure.UniqueID != nil {
			frame, _ := envelope.EncodeCallError(*failure.UniqueID, m.errorCodeFor(c.meta.OCPPVersion), "Malformed CALL", map[string]interface{}{"errors": []string{failure.Reason}})
			_ = c.writeFrame(frame)
		}
		return
	}

	switch env.Type {
	case envelope.TypeCall:
		m.handleCall(ctx, c, env.Call)
	case envelope.TypeCallResult:
		m.tracker.HandleCallResult(env.CallResult.UniqueID, env.CallResult.Payload)
	case envelope.TypeCallError:
		var details interface{}
		_ = json.Unmarshal(env.CallError.ErrorDetails, &details)
		m.tracker.HandleCallError(env.CallError.UniqueID, env.CallError.ErrorCode, env.CallError.ErrorDescription, details)
	}
}

func (m *Manager) handleCall(ctx context.Context, c *conn, call *envelope.Call) {
	cpID := c.meta.ChargePointID

	if cached, hit := m.cache.Get(ctx, cpID, call.UniqueID); hit {
		_ = c.writeFrame(cached)
		return
	}

	if m.audit != nil {
		var payload interface{}
		_ = json.Unmarshal(call.Payload, &payload)
		m.audit.LogRequest(cpID, call.Action, call.UniqueID, payload)
	}

	if m.limiter != nil {
		violation, err := m.limiter.Allow(ctx, call.Action, cpID)
		if err != nil {
			logrus.WithError(err).WithField("chargePointId", cpID).Warn("rate limiter check failed, allowing by default")
		} else if violation != nil {
			frame, _ := envelope.EncodeCallError(call.UniqueID, state.CodeOccurrenceConstraintViolation, "Rate limit exceeded", map[string]interface{}{
				"scope":         violation.Scope,
				"limit":         violation.Limit,
				"action":        violation.Action,
				"windowSeconds": violation.WindowSeconds,
			})
			m.send(ctx, c, cpID, call.UniqueID, frame)
			return
		}
	}

	a, ok := m.adapters[c.meta.OCPPVersion]
	if !ok {
		frame, _ := envelope.EncodeCallError(call.UniqueID, "InternalError", "No adapter registered for version", nil)
		m.send(ctx, c, cpID, call.UniqueID, frame)
		return
	}

	result := a.HandleCall(ctx, cpID, call.Action, call.Payload)

	var frame []byte
	var err error
	if result.Err != nil {
		frame, err = envelope.EncodeCallError(call.UniqueID, result.Err.Code, result.Err.Description, result.Err.Details)
	} else {
		frame, err = envelope.EncodeCallResult(call.UniqueID, result.Response)
	}
	if err != nil {
		frame, _ = envelope.EncodeCallError(call.UniqueID, "InternalError", "Failed to encode response", nil)
	}

	if m.audit != nil {
		var payload interface{}
		_ = json.Unmarshal(frame, &payload)
		m.audit.LogResponse(cpID, call.Action, call.UniqueID, payload)
	}

	m.send(ctx, c, cpID, call.UniqueID, frame)
}

func (m *Manager) send(ctx context.Context, c *conn, cpID, messageID string, frame []byte) {
	if err := c.writeFrame(frame); err != nil {
		logrus.WithError(err).WithField("chargePointId", cpID).Warn("failed to write frame")
		return
	}
	m.cache.Store(ctx, cpID, messageID, frame)
}

func (m *Manager) floodLogRejection(ctx context.Context, kind string, r *http.Request) {
	if m.floodLog == nil {
		return
	}
	ip := auth.ClientIP(r.Header, r.RemoteAddr, m.cfg.AuthOptions.TrustedProxy)
	ipStr := ""
	if ip != nil {
		ipStr = ip.String()
	}
	shouldLog, err := m.floodLog.ShouldLog(ctx, kind, ipStr)
	if err == nil && shouldLog {
		logrus.WithFields(logrus.Fields{"path": r.URL.Path, "remoteAddr": ipStr}).Warn("rejected suspicious request path")
	}
}

// Send implements outbound.Sender: it writes an already-encoded CALL
// frame to chargePointID's socket if it is connected to this node
// (§4.H/§4.J).
func (m *Manager) Send(ctx context.Context, chargePointID string, frame []byte) error {
	c, ok := m.conns.Load(chargePointID)
	if !ok {
		return fmt.Errorf("gateway: charge point %s not connected to this node", chargePointID)
	}
	return c.writeFrame(frame)
}

// WireVersion implements commandbus.LocalConnections.
func (m *Manager) WireVersion(chargePointID string) (string, bool) {
	c, ok := m.conns.Load(chargePointID)
	if !ok {
		return "", false
	}
	return c.meta.OCPPVersion, true
}

// CloseIfEpochStale implements commandbus.LocalSocketCloser (§4.L): it
// closes the local connection for chargePointID only if its in-memory
// epoch is strictly less than newEpoch, so an echo of a takeover this
// node itself just won never closes the connection it just claimed.
func (m *Manager) CloseIfEpochStale(chargePointID string, newEpoch int64, reason string) {
	c, ok := m.conns.Load(chargePointID)
	if !ok {
		return
	}
	if c.meta.SessionEpoch >= newEpoch {
		return
	}
	m.conns.Delete(chargePointID)
	c.closeWithCode(websocket.CloseServiceRestart, reason)
}

// Shutdown closes every locally-held connection with a going-away
// code, draining the connection manager (§4.Q graceful shutdown).
func (m *Manager) Shutdown(ctx context.Context) {
	m.conns.Range(func(chargePointID string, c *conn) bool {
		c.closeWithCode(websocket.CloseGoingAway, "server shutting down")
		_ = m.sessions.Unregister(ctx, chargePointID, m.cfg.NodeID)
		return true
	})
}

// ConnectedCount reports how many chargers are currently connected to
// this node (admin/health surface).
func (m *Manager) ConnectedCount() int {
	return m.conns.Size()
}
