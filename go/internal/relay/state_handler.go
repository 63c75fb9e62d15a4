package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// RoomStateResponse represents the inspectable state of one room
type RoomStateResponse struct {
	Code         string         `json:"code"`
	Members      int            `json:"members"`
	CycleRunning bool           `json:"cycle_running"`
	State        *ServerMessage `json:"state,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newRoomStateResponse(info RoomInfo) RoomStateResponse {
	resp := RoomStateResponse{
		Code:         info.Code,
		Members:      info.Members,
		CycleRunning: info.CycleRunning,
		CreatedAt:    info.CreatedAt,
	}
	if info.State != nil {
		msg := StateMessage(*info.State)
		resp.State = &msg
	}
	return resp
}

// StateHandler serves the read-only room inspection endpoints
type StateHandler struct {
	store *Store
}

// NewStateHandler creates a new state handler
func NewStateHandler(store *Store) *StateHandler {
	return &StateHandler{store: store}
}

// HandleGetRoomState handles GET /api/rooms/{code}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !ValidRoomCode(code) {
		http.Error(w, "Invalid room code", http.StatusBadRequest)
		return
	}

	info, ok := h.store.Room(code)
	if !ok {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(newRoomStateResponse(info)); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// HandleListRooms handles GET /api/rooms
func (h *StateHandler) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.store.Rooms()
	resp := make([]RoomStateResponse, 0, len(rooms))
	for _, info := range rooms {
		resp = append(resp, newRoomStateResponse(info))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode room list response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms", h.HandleListRooms)
	mux.HandleFunc("GET /api/rooms/{code}/state", h.HandleGetRoomState)
}
