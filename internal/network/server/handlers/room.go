package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/user/guesswho/internal/room"
)

type createRoomRequest struct {
	Confirm bool `json:"confirm"`
}

type joinRoomRequest struct {
	RoomCode string `json:"room_code"`
	Confirm  bool   `json:"confirm"`
}

type roomResponse struct {
	RoomCode string `json:"room_code"`
}

type confirmationResponse struct {
	ConfirmationRequired *room.Confirmation `json:"confirmation_required"`
}

type lobbyPlayer struct {
	PlayerID        string `json:"player_id"`
	DisplayName     string `json:"display_name"`
	IsHost          bool   `json:"is_host"`
	Readiness       string `json:"readiness"`
	ConnectionState string `json:"connection_state"`
}

type lobbyResponse struct {
	RoomCode   string        `json:"room_code"`
	RoomStatus string        `json:"room_status"`
	MinPlayers int           `json:"min_players"`
	MaxPlayers int           `json:"max_players"`
	Players    []lobbyPlayer `json:"players"`
	AllSynced  bool          `json:"all_synced"`
	IsHost     bool          `json:"is_host"`
}

// writeResult renders a lifecycle result: either the room code to
// redirect to, or the pending switch confirmation.
func writeResult(w http.ResponseWriter, status int, res room.Result) {
	if res.Confirmation != nil {
		writeJSON(w, http.StatusOK, confirmationResponse{ConfirmationRequired: res.Confirmation})
		return
	}
	writeJSON(w, status, roomResponse{RoomCode: res.RoomCode})
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.player(w, r)
	if !ok {
		return
	}

	var req createRoomRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // empty body means no confirmation

	res, err := h.manager.CreateRoom(r.Context(), p, req.Confirm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, res)
}

func (h *Handler) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.player(w, r)
	if !ok {
		return
	}

	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	// Codes are typed by hand; be forgiving about case and spacing.
	code := strings.ToUpper(strings.TrimSpace(req.RoomCode))
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "please enter a room code"})
		return
	}

	res, err := h.manager.JoinRoom(r.Context(), p, code, req.Confirm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.player(w, r)
	if !ok {
		return
	}
	code := strings.ToUpper(mux.Vars(r)["code"])

	snap, err := room.BuildSnapshot(r.Context(), h.store, h.readiness, code)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := lobbyResponse{
		RoomCode:   snap.Room.Code,
		RoomStatus: string(snap.Room.Status),
		MinPlayers: snap.Room.MinPlayers,
		MaxPlayers: snap.Room.MaxPlayers,
		Players:    make([]lobbyPlayer, 0, len(snap.Players)),
		AllSynced:  snap.AllSynced,
	}
	isMember := false
	for _, pl := range snap.Players {
		if pl.PlayerID == p.ID {
			isMember = true
			resp.IsHost = pl.IsHost
		}
		resp.Players = append(resp.Players, lobbyPlayer{
			PlayerID:        pl.PlayerID,
			DisplayName:     pl.DisplayName,
			IsHost:          pl.IsHost,
			Readiness:       string(pl.Readiness),
			ConnectionState: string(pl.ConnectionState),
		})
	}
	if !isMember {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "you are not in this room"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.player(w, r)
	if !ok {
		return
	}
	code := strings.ToUpper(mux.Vars(r)["code"])

	if err := h.manager.LeaveRoom(r.Context(), p.ID, code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBeaconLeave is the page-unload leave. sendBeacon cannot read
// the response and leave is idempotent, so it is always 204.
func (h *Handler) handleBeaconLeave(w http.ResponseWriter, r *http.Request) {
	p, err := h.identity.Resolve(r.Context(), TokenFromRequest(r))
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	code := strings.ToUpper(mux.Vars(r)["code"])

	_ = h.manager.BeaconLeave(r.Context(), p.ID, code)
	w.WriteHeader(http.StatusNoContent)
}
