package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/user/guesswho/internal/apperrors"
	"github.com/user/guesswho/internal/identity"
	"github.com/user/guesswho/internal/readiness"
	"github.com/user/guesswho/internal/room"
)

// Handler is the thin request layer over the lifecycle manager:
// create, join, leave and beacon-leave, plus the lobby snapshot a
// page load needs.
type Handler struct {
	manager   *room.Manager
	identity  identity.Resolver
	store     room.Store
	readiness readiness.Provider
}

// New creates the request-layer handler.
func New(m *room.Manager, id identity.Resolver, store room.Store, rp readiness.Provider) *Handler {
	return &Handler{manager: m, identity: id, store: store, readiness: rp}
}

// Register mounts the room routes.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/rooms", h.handleCreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/join", h.handleJoinRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{code}", h.handleGetRoom).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{code}/leave", h.handleLeaveRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{code}/beacon-leave", h.handleBeaconLeave).Methods(http.MethodPost)
}

// TokenFromRequest extracts the caller's token from the Authorization
// header or, for transports that cannot set headers (websocket
// handshakes, beacons), the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}

// player resolves the caller or writes a 401.
func (h *Handler) player(w http.ResponseWriter, r *http.Request) (identity.Player, bool) {
	p, err := h.identity.Resolve(r.Context(), TokenFromRequest(r))
	if err != nil {
		writeError(w, apperrors.ErrUnauthorized)
		return identity.Player{}, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var re *apperrors.RoomError
	if !errors.As(err, &re) {
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch re.Kind {
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindPrecondition:
		status = http.StatusPreconditionFailed
	case apperrors.KindUnauthorized:
		status = http.StatusForbidden
		if errors.Is(re, apperrors.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
	case apperrors.KindExhausted:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: re.Message})
}
