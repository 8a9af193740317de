package protocol

import "encoding/json"

// MessageType identifies a message on the room channel.
type MessageType string

// Client → server
const (
	MsgStartGame MessageType = "start-game" // host requests the match to start
)

// Server → client
const (
	MsgRoomState     MessageType = "room-state"     // full lobby snapshot
	MsgMatchStarting MessageType = "match-starting" // game is starting
	MsgError         MessageType = "error"          // targeted error reply
)

// Inbound is the envelope of a client command. Commands carry no
// payload today, so the type alone is enough to dispatch on.
type Inbound struct {
	Type MessageType `json:"type"`
}

// Decode parses an inbound client message.
func Decode(data []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PlayerState is one member's entry in a room snapshot.
type PlayerState struct {
	PlayerID        string `json:"player_id"`
	DisplayName     string `json:"display_name"`
	IsHost          bool   `json:"is_host"`
	Readiness       string `json:"readiness"`
	ConnectionState string `json:"connection_state"`
}

// RoomState is the full lobby snapshot broadcast to the room group.
// It is recomputed from the store on every broadcast, never cached.
type RoomState struct {
	Type        MessageType   `json:"type"`
	Players     []PlayerState `json:"players"`
	AllSynced   bool          `json:"all_synced"`
	PlayerCount int           `json:"player_count"`
	RoomStatus  string        `json:"room_status"`
}

// MatchStarting announces a successful game start to the room group.
type MatchStarting struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ErrorMessage is sent to the originating connection only.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// NewMatchStarting builds a match-starting event.
func NewMatchStarting(text string) *MatchStarting {
	return &MatchStarting{Type: MsgMatchStarting, Message: text}
}

// NewError builds a targeted error message.
func NewError(text string) *ErrorMessage {
	return &ErrorMessage{Type: MsgError, Message: text}
}

// Encode serializes an outbound message.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
