package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// LastSeenReader reads the recorded last seen time of a user
type LastSeenReader interface {
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// WebSocketHandler handles race WebSocket upgrades and the read-only HTTP routes
type WebSocketHandler struct {
	hub      *Hub
	auth     *Authenticator
	upgrader websocket.Upgrader
	config   ConnectionConfig
	lastSeen LastSeenReader

	// cookieAuth lets the handshake fall back to the token cookie
	cookieAuth bool
}

// NewWebSocketHandler creates a new WebSocket handler. lastSeen may be nil.
func NewWebSocketHandler(hub *Hub, auth *Authenticator, config ConnectionConfig, lastSeen LastSeenReader) *WebSocketHandler {
	return &WebSocketHandler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:   config,
		lastSeen: lastSeen,
	}
}

// HandleRaceConnection authenticates the handshake and upgrades it. A missing or invalid token
// is refused before the upgrade.
func (h *WebSocketHandler) HandleRaceConnection(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Verify(TokenFromRequest(r, h.cookieAuth))
	if err != nil {
		log.Warn().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("rejected WebSocket handshake")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.Error().
			Err(err).
			Str("user_id", identity.UserID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	c := newConnection(conn, identity, h.hub, h.config)
	if !h.hub.Connect(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// HandleConnectionStats returns statistics about active connections and rooms
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.hub.Stats(r.Context())
	if err != nil {
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleGetRoom returns the current snapshot of a room
func (h *WebSocketHandler) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}

	snapshot, found, err := h.hub.LookupRoom(r.Context(), roomID)
	if err != nil {
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type presenceResponse struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// HandleGetPresence reports whether a user is online and when they were last seen
func (h *WebSocketHandler) HandleGetPresence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	online, err := h.hub.IsOnline(r.Context(), userID)
	if err != nil {
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := presenceResponse{UserID: userID, Online: online}
	if !online && h.lastSeen != nil {
		at, ok, err := h.lastSeen.LastSeen(r.Context(), userID)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to read last seen")
		}
		if ok {
			resp.LastSeen = &at
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/race", h.HandleRaceConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("GET /api/rooms/{id}", h.HandleGetRoom)
	mux.HandleFunc("GET /api/presence/{userId}", h.HandleGetPresence)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
