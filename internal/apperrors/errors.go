package apperrors

// Kind classifies a RoomError for transport-level mapping.
type Kind int

const (
	KindNotFound Kind = iota
	KindConflict
	KindPrecondition
	KindUnauthorized
	KindExhausted
)

// RoomError is a typed lobby error shared by the lifecycle manager,
// the request layer and the connection handler.
type RoomError struct {
	Kind    Kind
	Message string
}

func (e *RoomError) Error() string {
	return e.Message
}

// Predefined errors
var (
	ErrUnauthorized     = &RoomError{Kind: KindUnauthorized, Message: "authentication required"}
	ErrRoomNotFound     = &RoomError{Kind: KindNotFound, Message: "room not found"}
	ErrRoomNotJoinable  = &RoomError{Kind: KindNotFound, Message: "room not found or already started"}
	ErrNotMember        = &RoomError{Kind: KindUnauthorized, Message: "you are not in this room"}
	ErrAlreadyMember    = &RoomError{Kind: KindConflict, Message: "player is already in this room"}
	ErrRoomFull         = &RoomError{Kind: KindPrecondition, Message: "that room is full"}
	ErrNotHost          = &RoomError{Kind: KindUnauthorized, Message: "only the host can start the game"}
	ErrAlreadyStarted   = &RoomError{Kind: KindPrecondition, Message: "game has already started"}
	ErrNotEnoughPlayers = &RoomError{Kind: KindPrecondition, Message: "not enough players to start"}
	ErrPlayersNotReady  = &RoomError{Kind: KindPrecondition, Message: "all players must be synced before starting"}
	ErrCodeExhausted    = &RoomError{Kind: KindExhausted, Message: "could not generate a unique room code"}
)
