package room

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/user/guesswho/internal/apperrors"
	"github.com/user/guesswho/internal/identity"
	"github.com/user/guesswho/internal/readiness"
)

// codeAttempts bounds room-code generation; exhausting it means the
// live-lobby keyspace is effectively saturated.
const codeAttempts = 10

// Confirmation asks the caller to re-invoke with an explicit confirm
// flag before an active membership elsewhere is torn down. It is a
// required second step, not a failure.
type Confirmation struct {
	CurrentRoom string `json:"current_room"`
	TargetRoom  string `json:"target_room,omitempty"`
}

// Result is the outcome of a create or join request: either a room
// code to redirect to, or a pending confirmation.
type Result struct {
	RoomCode     string
	Confirmation *Confirmation
}

// Manager owns room state transitions, membership policy and host
// succession. All room-mutating operations are serialized per room
// code, and create/join additionally per player so a player can never
// end up active in two rooms; unrelated rooms never wait on each
// other.
type Manager struct {
	store     Store
	readiness readiness.Provider

	minPlayers int
	maxPlayers int

	// newCode is swappable so tests can force collisions.
	newCode func() string

	// notify, when set, is called after a committed membership change
	// so the broadcast layer can fan out a fresh snapshot. Always
	// invoked outside the room's critical section.
	notify func(code string)

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	players map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(store Store, rp readiness.Provider, minPlayers, maxPlayers int) *Manager {
	return &Manager{
		store:      store,
		readiness:  rp,
		minPlayers: minPlayers,
		maxPlayers: maxPlayers,
		newCode:    GenerateCode,
		locks:      make(map[string]*sync.Mutex),
		players:    make(map[string]*sync.Mutex),
	}
}

// SetNotify installs the post-commit broadcast hook.
func (m *Manager) SetNotify(fn func(code string)) {
	m.notify = fn
}

func (m *Manager) notifyRoom(code string) {
	if m.notify != nil {
		m.notify(code)
	}
}

// lock acquires the per-room mutex for code and returns its unlock.
// Lock entries are tiny and codes get reused, so they are never reaped.
func (m *Manager) lock(code string) func() {
	m.mu.Lock()
	l, ok := m.locks[code]
	if !ok {
		l = &sync.Mutex{}
		m.locks[code] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// lockPlayer serializes create/join for one player. The active-
// membership read only stays true through the commit it guards while
// no other operation by the same player can interleave. Always taken
// before any room lock, never after.
func (m *Manager) lockPlayer(id string) func() {
	m.mu.Lock()
	l, ok := m.players[id]
	if !ok {
		l = &sync.Mutex{}
		m.players[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// lockPair acquires two room mutexes in code order, so two players
// switching between the same pair of rooms cannot deadlock.
func (m *Manager) lockPair(a, b string) func() {
	if a == b {
		return m.lock(a)
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	u1 := m.lock(first)
	u2 := m.lock(second)
	return func() {
		u2()
		u1()
	}
}

// CreateRoom creates a new lobby with the requester as sole
// host-member. If the requester is active in another room, a
// Confirmation is returned until the caller confirms the switch.
func (m *Manager) CreateRoom(ctx context.Context, p identity.Player, confirmed bool) (Result, error) {
	unlockPlayer := m.lockPlayer(p.ID)
	defer unlockPlayer()

	active, err := m.store.FindActiveMembership(ctx, p.ID)
	if err != nil {
		return Result{}, err
	}
	if active != nil {
		if !confirmed {
			return Result{Confirmation: &Confirmation{CurrentRoom: active.RoomCode}}, nil
		}
		if err := m.LeaveRoom(ctx, p.ID, active.RoomCode); err != nil {
			return Result{}, err
		}
	}

	now := time.Now()
	for i := 0; i < codeAttempts; i++ {
		code := m.newCode()

		unlock := m.lock(code)
		_, err := m.store.GetRoom(ctx, code)
		if err == nil {
			// Collision with a live room; next candidate.
			unlock()
			continue
		}
		if !errors.Is(err, apperrors.ErrRoomNotFound) {
			unlock()
			return Result{}, err
		}

		r := &Room{
			Code:       code,
			Status:     StatusLobby,
			HostID:     p.ID,
			MinPlayers: m.minPlayers,
			MaxPlayers: m.maxPlayers,
			CreatedAt:  now,
		}
		if err := m.store.CreateRoom(ctx, r); err != nil {
			unlock()
			return Result{}, err
		}
		err = m.store.AddMember(ctx, code, Membership{
			RoomCode:        code,
			PlayerID:        p.ID,
			DisplayName:     p.DisplayName,
			IsHost:          true,
			JoinedAt:        now,
			ConnectionState: ConnConnected,
		})
		unlock()
		if err != nil {
			return Result{}, err
		}

		log.Printf("room %s created by %s", code, p.ID)
		return Result{RoomCode: code}, nil
	}

	return Result{}, apperrors.ErrCodeExhausted
}

// JoinRoom adds the requester to a lobby. Joining a room the player
// is already in is an idempotent success; joining from another active
// room goes through the same confirmation gate as CreateRoom.
func (m *Manager) JoinRoom(ctx context.Context, p identity.Player, code string, confirmed bool) (Result, error) {
	unlockPlayer := m.lockPlayer(p.ID)
	defer unlockPlayer()

	active, err := m.store.FindActiveMembership(ctx, p.ID)
	if err != nil {
		return Result{}, err
	}
	if active != nil && active.RoomCode == code {
		return Result{RoomCode: code}, nil
	}
	if active != nil && !confirmed {
		return Result{Confirmation: &Confirmation{
			CurrentRoom: active.RoomCode,
			TargetRoom:  code,
		}}, nil
	}

	// Broadcasts happen after the critical section; defers run LIFO,
	// so this fires after the unlock below.
	var notifyCodes []string
	defer func() {
		for _, nc := range notifyCodes {
			m.notifyRoom(nc)
		}
	}()

	var unlock func()
	if active != nil {
		unlock = m.lockPair(active.RoomCode, code)
	} else {
		unlock = m.lock(code)
	}
	defer unlock()

	r, err := m.store.GetRoom(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrRoomNotFound) {
			return Result{}, apperrors.ErrRoomNotJoinable
		}
		return Result{}, err
	}
	if r.Status != StatusLobby {
		return Result{}, apperrors.ErrRoomNotJoinable
	}

	members, err := m.store.ListMembers(ctx, code)
	if err != nil {
		return Result{}, err
	}
	for _, mem := range members {
		if mem.PlayerID == p.ID {
			return Result{RoomCode: code}, nil
		}
	}
	if len(members) >= r.MaxPlayers {
		return Result{}, apperrors.ErrRoomFull
	}

	if active != nil {
		if err := m.leaveLocked(ctx, active.RoomCode, p.ID); err != nil {
			return Result{}, err
		}
		notifyCodes = append(notifyCodes, active.RoomCode)
	}

	err = m.store.AddMember(ctx, code, Membership{
		RoomCode:        code,
		PlayerID:        p.ID,
		DisplayName:     p.DisplayName,
		JoinedAt:        time.Now(),
		ConnectionState: ConnConnected,
	})
	if err != nil {
		return Result{}, err
	}
	notifyCodes = append(notifyCodes, code)

	log.Printf("player %s joined room %s", p.ID, code)
	return Result{RoomCode: code}, nil
}

// LeaveRoom removes the membership if present and runs host transfer.
// Calling it for an absent membership or a gone room is a no-op.
func (m *Manager) LeaveRoom(ctx context.Context, playerID, code string) error {
	unlock := m.lock(code)
	err := m.leaveLocked(ctx, code, playerID)
	unlock()

	if err == nil {
		m.notifyRoom(code)
	}
	return err
}

// BeaconLeave is the page-unload variant of LeaveRoom. Same
// semantics; the transport layer differs (fire-and-forget beacon).
func (m *Manager) BeaconLeave(ctx context.Context, playerID, code string) error {
	return m.LeaveRoom(ctx, playerID, code)
}

// leaveLocked removes a membership under an already-held room lock.
// The departing host's role passes to the earliest-joined survivor;
// the last member leaving closes the room.
func (m *Manager) leaveLocked(ctx context.Context, code, playerID string) error {
	members, err := m.store.ListMembers(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrRoomNotFound) {
			return nil
		}
		return err
	}

	var leaver *Membership
	remaining := make([]Membership, 0, len(members))
	for i := range members {
		if members[i].PlayerID == playerID {
			leaver = &members[i]
		} else {
			remaining = append(remaining, members[i])
		}
	}
	if leaver == nil {
		return nil
	}

	if err := m.store.RemoveMember(ctx, code, playerID); err != nil {
		return err
	}

	if len(remaining) == 0 {
		if err := m.store.CloseRoom(ctx, code); err != nil {
			return err
		}
		log.Printf("room %s closed (last member left)", code)
		return nil
	}

	if leaver.IsHost {
		// ListMembers is ordered by joined_at, so the first survivor
		// is the succession winner.
		next := remaining[0]
		if err := m.store.SetHost(ctx, code, next.PlayerID); err != nil {
			return err
		}
		log.Printf("room %s host transferred %s -> %s", code, playerID, next.PlayerID)
	}

	log.Printf("player %s left room %s", playerID, code)
	return nil
}

// StartGame transitions the room from lobby to starting after the
// host/status/count/readiness precondition chain passes. State is
// re-read from the store inside the critical section, never trusted
// from the caller.
func (m *Manager) StartGame(ctx context.Context, playerID, code string) error {
	unlock := m.lock(code)
	defer unlock()

	r, err := m.store.GetRoom(ctx, code)
	if err != nil {
		return err
	}
	if r.HostID != playerID {
		return apperrors.ErrNotHost
	}
	if r.Status != StatusLobby {
		return apperrors.ErrAlreadyStarted
	}

	members, err := m.store.ListMembers(ctx, code)
	if err != nil {
		return err
	}
	if len(members) < r.MinPlayers {
		return apperrors.ErrNotEnoughPlayers
	}
	for _, mem := range members {
		st, err := m.readiness.Status(ctx, mem.PlayerID)
		if err != nil {
			return err
		}
		if !st.Ready() {
			return apperrors.ErrPlayersNotReady
		}
	}

	if err := m.store.SetStatus(ctx, code, StatusStarting); err != nil {
		return err
	}

	log.Printf("room %s starting with %d players", code, len(members))
	return nil
}

// SetConnection flips a member's connection state under the room's
// serialization. A membership or room that vanished concurrently
// (explicit leave racing a disconnect) is not an error.
func (m *Manager) SetConnection(ctx context.Context, code, playerID string, state ConnState) error {
	unlock := m.lock(code)
	defer unlock()

	err := m.store.SetConnectionState(ctx, code, playerID, state)
	if errors.Is(err, apperrors.ErrRoomNotFound) || errors.Is(err, apperrors.ErrNotMember) {
		return nil
	}
	return err
}
