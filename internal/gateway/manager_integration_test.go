package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bravos-hub/ocpp-gateway/internal/auth"
	"github.com/Bravos-hub/ocpp-gateway/internal/bus/inprocbus"
	"github.com/Bravos-hub/ocpp-gateway/internal/commandbus"
	"github.com/Bravos-hub/ocpp-gateway/internal/events"
	"github.com/Bravos-hub/ocpp-gateway/internal/kv/memkv"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/adapter"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/auditlog"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/cache"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/schema"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/state"
	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/v16"
	"github.com/Bravos-hub/ocpp-gateway/internal/outbound"
	"github.com/Bravos-hub/ocpp-gateway/internal/ratelimit"
	"github.com/Bravos-hub/ocpp-gateway/internal/session"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestManager(t *testing.T) (*Manager, *memkv.Store) {
	t.Helper()
	store := memkv.New()

	identity := auth.Identity{
		ChargePointID: "CP1",
		StationID:     "STATION-1",
		TenantID:      "TENANT-1",
		Status:        "active",
		AllowedTypes:  []string{"basic"},
		Basic: &auth.BasicCredential{
			Username:   "CP1",
			SecretHash: sha256Hex("pepper" + "secret"),
			SecretSalt: "pepper",
			Algorithm:  "sha256",
		},
	}
	body, err := json.Marshal(identity)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "chargers:CP1", body, 0))

	schemas := schema.NewRegistry(nil)
	require.NoError(t, schema.LoadDefaultSchemas(schemas))

	stateStore := state.New()
	b := inprocbus.New()
	emitter := events.NewEmitter(b, "test-node")
	respCache := cache.New(store, time.Minute)
	sessions := session.New(store, time.Minute, time.Minute)
	authn := auth.New(auth.NewKVIdentityStore(store), store, auth.Options{
		DefaultAllowedModes: []string{"basic"},
		FloodLogCooldown:    time.Minute,
	})
	limiter := ratelimit.New(store, ratelimit.Config{Window: time.Minute, MaxPerCharger: 1000, MaxGlobal: 100000})
	floodLog := ratelimit.NewFloodLog(store, time.Minute)
	tracker := outbound.NewTracker(schemas)
	auditLogger := auditlog.New(store, time.Minute, false)

	adapters := map[string]adapter.Adapter{
		"1.6J": v16.New(schemas, stateStore, emitter, sessions, true),
	}
	sessionPub := commandbus.NewSessionControlPublisher(b)

	mgr := New(
		Config{NodeID: "test-node", BasePath: "/ocpp", MaxPayloadBytes: 64 * 1024, PendingMessageLimit: 10, SessionTTL: time.Minute},
		adapters, schemas, respCache, sessions, authn, limiter, floodLog, tracker, emitter, sessionPub, auditLogger,
	)
	return mgr, store
}

func TestHappyPathHeartbeat(t *testing.T) {
	mgr, _ := newTestManager(t)
	server := httptest.NewServer(mgr)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ocpp/1.6/CP1"

	header := make(map[string][]string)
	header["Authorization"] = []string{"Basic " + base64.StdEncoding.EncodeToString([]byte("CP1:secret"))}

	dialer := websocket.Dialer{Subprotocols: []string{"ocpp1.6"}}
	ws, _, err := dialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`[2,"msg-1","Heartbeat",{}]`)))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var frame []interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Len(t, frame, 3)
	assert.Equal(t, float64(3), frame[0])
	assert.Equal(t, "msg-1", frame[1])
}

func TestUnauthenticatedConnectionIsRejected(t *testing.T) {
	mgr, _ := newTestManager(t)
	server := httptest.NewServer(mgr)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ocpp/1.6/CP1"
	dialer := websocket.Dialer{Subprotocols: []string{"ocpp1.6"}}
	ws, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err, "upgrade itself succeeds before auth resolves")
	defer ws.Close()

	_, _, err = ws.ReadMessage()
	assert.Error(t, err, "the socket must close once authentication fails")
}
