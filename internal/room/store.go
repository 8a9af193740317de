package room

import (
	"context"
	"sort"
	"sync"

	"github.com/user/guesswho/internal/apperrors"
)

// Store is the durable record of rooms and memberships. Pure data
// access, no policy: the Manager serializes mutations per room code,
// so implementations only need per-operation atomicity.
type Store interface {
	// CreateRoom persists a new room. The caller has already checked
	// code uniqueness among live rooms.
	CreateRoom(ctx context.Context, r *Room) error

	// GetRoom returns the live room with the given code, or
	// apperrors.ErrRoomNotFound. Closed rooms are removed from the
	// live keyspace, which is what makes code reuse after close safe.
	GetRoom(ctx context.Context, code string) (*Room, error)

	// SetStatus transitions a live room's status.
	SetStatus(ctx context.Context, code string, status Status) error

	// CloseRoom marks the room closed and removes it from the live
	// keyspace along with any remaining memberships.
	CloseRoom(ctx context.Context, code string) error

	// ListMembers returns the room's memberships ordered by joined_at.
	ListMembers(ctx context.Context, code string) ([]Membership, error)

	// AddMember persists a membership, or apperrors.ErrAlreadyMember.
	AddMember(ctx context.Context, code string, m Membership) error

	// RemoveMember deletes a membership. A no-op if absent.
	RemoveMember(ctx context.Context, code, playerID string) error

	// SetConnectionState flips a member's live-channel presence
	// without touching the membership itself.
	SetConnectionState(ctx context.Context, code, playerID string, state ConnState) error

	// SetHost makes playerID the room's sole host.
	SetHost(ctx context.Context, code, playerID string) error

	// FindActiveMembership returns the player's membership in a room
	// whose status is lobby/starting/in_game, or nil if none.
	FindActiveMembership(ctx context.Context, playerID string) (*Membership, error)
}

// memoryRoom bundles a room record with its memberships.
type memoryRoom struct {
	room    Room
	members map[string]*Membership
}

// MemoryStore is an in-memory Store, used in tests and for running
// the server without redis.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*memoryRoom
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*memoryRoom)}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.rooms[r.Code] = &memoryRoom{
		room:    cp,
		members: make(map[string]*Membership),
	}
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, code string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mr, ok := s.rooms[code]
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	cp := mr.room
	return &cp, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, code string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[code]
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	mr.room.Status = status
	return nil
}

func (s *MemoryStore) CloseRoom(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, code)
	return nil
}

func (s *MemoryStore) ListMembers(ctx context.Context, code string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mr, ok := s.rooms[code]
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}

	members := make([]Membership, 0, len(mr.members))
	for _, m := range mr.members {
		members = append(members, *m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (s *MemoryStore) AddMember(ctx context.Context, code string, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[code]
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	if _, exists := mr.members[m.PlayerID]; exists {
		return apperrors.ErrAlreadyMember
	}
	cp := m
	mr.members[m.PlayerID] = &cp
	return nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, code, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mr, ok := s.rooms[code]; ok {
		delete(mr.members, playerID)
	}
	return nil
}

func (s *MemoryStore) SetConnectionState(ctx context.Context, code, playerID string, state ConnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[code]
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	m, ok := mr.members[playerID]
	if !ok {
		return apperrors.ErrNotMember
	}
	m.ConnectionState = state
	return nil
}

func (s *MemoryStore) SetHost(ctx context.Context, code, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.rooms[code]
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	m, ok := mr.members[playerID]
	if !ok {
		return apperrors.ErrNotMember
	}
	for _, other := range mr.members {
		other.IsHost = false
	}
	m.IsHost = true
	mr.room.HostID = playerID
	return nil
}

func (s *MemoryStore) FindActiveMembership(ctx context.Context, playerID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, mr := range s.rooms {
		if !mr.room.Status.Active() {
			continue
		}
		if m, ok := mr.members[playerID]; ok {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}
