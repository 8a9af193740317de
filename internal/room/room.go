package room

import (
	"math/rand"
	"time"
)

const (
	// CodeLength is the fixed length of a room code.
	CodeLength = 5

	// codeChars excludes visually ambiguous characters (0/O, 1/I/l, 2/Z, 5/S).
	codeChars = "ABCDEFGHJKLMNPQRTUVWXY346789"
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusLobby    Status = "lobby"
	StatusStarting Status = "starting"
	StatusInGame   Status = "in_game"
	StatusFinished Status = "finished"
	StatusClosed   Status = "closed"
)

// Active reports whether a membership in a room with this status
// counts against the one-active-room-per-player invariant.
func (s Status) Active() bool {
	switch s {
	case StatusLobby, StatusStarting, StatusInGame:
		return true
	}
	return false
}

// ConnState is the live-channel presence of a member, independent of
// the room status.
type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
)

// Room is a code-addressed lobby grouping players before a game round.
type Room struct {
	Code       string    `json:"code"`
	Status     Status    `json:"status"`
	HostID     string    `json:"host_id"`
	MinPlayers int       `json:"min_players"`
	MaxPlayers int       `json:"max_players"`
	CreatedAt  time.Time `json:"created_at"`
}

// Membership is one player's association with one room.
type Membership struct {
	RoomCode        string    `json:"room_code"`
	PlayerID        string    `json:"player_id"`
	DisplayName     string    `json:"display_name"`
	IsHost          bool      `json:"is_host"`
	JoinedAt        time.Time `json:"joined_at"`
	ConnectionState ConnState `json:"connection_state"`
}

// GenerateCode returns a random room code from the unambiguous alphabet.
func GenerateCode() string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = codeChars[rand.Intn(len(codeChars))]
	}
	return string(b)
}
