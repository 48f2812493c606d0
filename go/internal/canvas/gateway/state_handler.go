package gateway

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/canvas/go/internal/canvas/rooms"
	"github.com/mcdev12/canvas/go/internal/models"
)

// RoomStateResponse is the read-only view of one room.
type RoomStateResponse struct {
	Room    string          `json:"room"`
	Users   models.Roster   `json:"users"`
	Strokes []models.Stroke `json:"strokes"`
}

// ClientConfigResponse tells clients where to open their websocket.
type ClientConfigResponse struct {
	WSURL string `json:"wsUrl"`
}

// StateHandler serves room state over plain HTTP.
type StateHandler struct {
	registry    *rooms.Registry
	publicWSURL string
}

// NewStateHandler creates a new state handler
func NewStateHandler(registry *rooms.Registry, publicWSURL string) *StateHandler {
	return &StateHandler{
		registry:    registry,
		publicWSURL: publicWSURL,
	}
}

// HandleListRooms handles GET /api/rooms
func (h *StateHandler) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Stats())
}

// HandleGetRoomState handles GET /api/rooms/{id}/state. Unknown rooms are
// reported as missing rather than created.
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "room id is required", http.StatusBadRequest)
		return
	}

	room, ok := h.registry.Get(roomID)
	if !ok {
		log.Debug().Str("room_id", roomID).Msg("state requested for unknown room")
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, RoomStateResponse{
		Room:    room.ID,
		Users:   room.Roster(),
		Strokes: room.Snapshot(),
	})
}

// HandleClientConfig handles GET /api/config
func (h *StateHandler) HandleClientConfig(w http.ResponseWriter, r *http.Request) {
	wsURL := h.publicWSURL
	if wsURL == "" {
		wsURL = deriveWSURL(r)
	}
	writeJSON(w, http.StatusOK, ClientConfigResponse{WSURL: wsURL})
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms", h.HandleListRooms)
	mux.HandleFunc("GET /api/rooms/{id}/state", h.HandleGetRoomState)
	mux.HandleFunc("GET /api/config", h.HandleClientConfig)
}

// deriveWSURL builds the websocket address from the request's host, honoring
// a TLS-terminating proxy.
func deriveWSURL(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "wss"
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + "/ws"
}
