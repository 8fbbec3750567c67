package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Meta is the in-process per-socket connection metadata (§3
// "Connection metadata").
type Meta struct {
	ConnectionID  string
	ChargePointID string
	OCPPVersion   string
	StationID     string
	TenantID      string
	SessionEpoch  int64
	IP            string
}

// conn is the arena entry for one charger's socket: the socket itself
// kept behind a pointer in a single owning map, metadata alongside it,
// teardown is simply removing the entry from that map (§9).
type conn struct {
	ws   *websocket.Conn
	meta Meta

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	// pending buffers frames that arrive on the socket before the
	// asynchronous auth/claim sequence completes (§4.H). Once
	// authenticated, the read loop drains it before processing new
	// reads, then sets drained so later frames go straight through.
	pendingMu sync.Mutex
	pending   [][]byte
	draining  bool
}

func newConn(ws *websocket.Conn, meta Meta) *conn {
	return &conn{ws: ws, meta: meta, closed: make(chan struct{})}
}

// writeFrame serializes concurrent writers (the receive loop replying
// and the outbound dispatcher sending a CALL) behind one mutex, as
// gorilla/websocket requires at most one writer at a time.
func (c *conn) writeFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) closeWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		deadline := time.Now().Add(2 * time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

func (c *conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// enqueuePending buffers a raw inbound frame while auth/claim is in
// flight, reporting false once the limit is exceeded (§4.H overflow
// closes the connection).
func (c *conn) enqueuePending(data []byte, limit int) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) >= limit {
		return false
	}
	c.pending = append(c.pending, data)
	return true
}

// takePending returns and clears the buffered pre-auth frames, marking
// the connection as drained so future frames are processed inline.
func (c *conn) takePending() [][]byte {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	out := c.pending
	c.pending = nil
	c.draining = true
	return out
}

func (c *conn) isDraining() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.draining
}
