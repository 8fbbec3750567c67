package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Bravos-hub/ocpp-gateway/internal/ocpp/state"
	"github.com/Bravos-hub/ocpp-gateway/internal/session"
)

// ConnectionCounter reports how many chargers are connected to this node.
type ConnectionCounter interface {
	ConnectedCount() int
}

// Handler implements the admin/health endpoints.
type Handler struct {
	sessions    *session.Directory
	state       *state.Store
	connections ConnectionCounter
	nodeID      string
}

// NewHandler builds a Handler.
func NewHandler(sessions *session.Directory, st *state.Store, connections ConnectionCounter, nodeID string) *Handler {
	return &Handler{sessions: sessions, state: st, connections: connections, nodeID: nodeID}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Healthz always reports ok once the process is serving requests.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports ok; a future revision could fail this while the
// circuit breaker guarding the KV store is open.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "nodeId": h.nodeID})
}

// GetSession returns the cluster-wide session directory entry for a charge point.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	chargePointID := chi.URLParam(r, "id")
	entry, ok, err := h.sessions.Lookup(r.Context(), chargePointID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "session directory unavailable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GetConnectorStatus returns the last known status of one connector.
func (h *Handler) GetConnectorStatus(w http.ResponseWriter, r *http.Request) {
	chargePointID := chi.URLParam(r, "id")
	connectorID, err := strconv.Atoi(chi.URLParam(r, "connectorId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid connectorId"})
		return
	}
	status, ok := h.state.ConnectorStatus(chargePointID, connectorID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown connector"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetStats returns a handful of node-local operational counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodeId":          h.nodeID,
		"connectedSockets": h.connections.ConnectedCount(),
	})
}
