package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/guesswho/internal/apperrors"
	"github.com/user/guesswho/internal/room"
)

const (
	// Redis key prefixes
	roomKeyPrefix   = "room:"
	playerKeyPrefix = "player:"

	// Fallback TTL when no idle timeout is configured. Rooms are
	// short-lived; stale records expire on their own even if the
	// close path never ran.
	defaultRoomTTL = 2 * time.Hour
)

// roomRecord is the serialized form of a room and its memberships.
// The whole record is written in one SET; the lifecycle manager
// serializes mutations per room code, so read-modify-write is safe.
type roomRecord struct {
	Room    room.Room         `json:"room"`
	Members []room.Membership `json:"members"`
}

// RedisStore is the durable room.Store. Every write refreshes the
// room record's TTL, so ttl is an idle timeout, not a hard lifetime.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store on an existing redis client. A
// non-positive ttl falls back to the default.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRoomTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func roomKey(code string) string {
	return roomKeyPrefix + code
}

// activeRoomKey indexes a player's single active membership.
func activeRoomKey(playerID string) string {
	return playerKeyPrefix + playerID + ":room"
}

func (s *RedisStore) load(ctx context.Context, code string) (*roomRecord, error) {
	data, err := s.client.Get(ctx, roomKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", code, err)
	}

	var rec roomRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal room %s: %w", code, err)
	}
	return &rec, nil
}

func (s *RedisStore) save(ctx context.Context, rec *roomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", rec.Room.Code, err)
	}
	if err := s.client.Set(ctx, roomKey(rec.Room.Code), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save room %s: %w", rec.Room.Code, err)
	}
	return nil
}

func (s *RedisStore) CreateRoom(ctx context.Context, r *room.Room) error {
	return s.save(ctx, &roomRecord{Room: *r})
}

func (s *RedisStore) GetRoom(ctx context.Context, code string) (*room.Room, error) {
	rec, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	r := rec.Room
	return &r, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, code string, status room.Status) error {
	rec, err := s.load(ctx, code)
	if err != nil {
		return err
	}
	rec.Room.Status = status
	return s.save(ctx, rec)
}

func (s *RedisStore) CloseRoom(ctx context.Context, code string) error {
	rec, err := s.load(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrRoomNotFound) {
			return nil
		}
		return err
	}

	keys := []string{roomKey(code)}
	for _, m := range rec.Members {
		keys = append(keys, activeRoomKey(m.PlayerID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("close room %s: %w", code, err)
	}
	return nil
}

func (s *RedisStore) ListMembers(ctx context.Context, code string) ([]room.Membership, error) {
	rec, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}

	members := make([]room.Membership, len(rec.Members))
	copy(members, rec.Members)
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (s *RedisStore) AddMember(ctx context.Context, code string, m room.Membership) error {
	rec, err := s.load(ctx, code)
	if err != nil {
		return err
	}
	for _, existing := range rec.Members {
		if existing.PlayerID == m.PlayerID {
			return apperrors.ErrAlreadyMember
		}
	}

	rec.Members = append(rec.Members, m)
	if err := s.save(ctx, rec); err != nil {
		return err
	}
	if err := s.client.Set(ctx, activeRoomKey(m.PlayerID), code, s.ttl).Err(); err != nil {
		return fmt.Errorf("index membership %s/%s: %w", code, m.PlayerID, err)
	}
	return nil
}

func (s *RedisStore) RemoveMember(ctx context.Context, code, playerID string) error {
	rec, err := s.load(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrRoomNotFound) {
			return nil
		}
		return err
	}

	kept := rec.Members[:0]
	found := false
	for _, m := range rec.Members {
		if m.PlayerID == playerID {
			found = true
			continue
		}
		kept = append(kept, m)
	}
	if !found {
		return nil
	}
	rec.Members = kept

	if err := s.save(ctx, rec); err != nil {
		return err
	}
	if err := s.client.Del(ctx, activeRoomKey(playerID)).Err(); err != nil {
		return fmt.Errorf("unindex membership %s/%s: %w", code, playerID, err)
	}
	return nil
}

func (s *RedisStore) SetConnectionState(ctx context.Context, code, playerID string, state room.ConnState) error {
	rec, err := s.load(ctx, code)
	if err != nil {
		return err
	}
	for i := range rec.Members {
		if rec.Members[i].PlayerID == playerID {
			rec.Members[i].ConnectionState = state
			return s.save(ctx, rec)
		}
	}
	return apperrors.ErrNotMember
}

func (s *RedisStore) SetHost(ctx context.Context, code, playerID string) error {
	rec, err := s.load(ctx, code)
	if err != nil {
		return err
	}

	found := false
	for i := range rec.Members {
		rec.Members[i].IsHost = rec.Members[i].PlayerID == playerID
		if rec.Members[i].IsHost {
			found = true
		}
	}
	if !found {
		return apperrors.ErrNotMember
	}
	rec.Room.HostID = playerID
	return s.save(ctx, rec)
}

func (s *RedisStore) FindActiveMembership(ctx context.Context, playerID string) (*room.Membership, error) {
	code, err := s.client.Get(ctx, activeRoomKey(playerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active room for %s: %w", playerID, err)
	}

	rec, err := s.load(ctx, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrRoomNotFound) {
			// Index outlived the room (expiry removed it); self-heal.
			_ = s.client.Del(ctx, activeRoomKey(playerID)).Err()
			return nil, nil
		}
		return nil, err
	}
	if !rec.Room.Status.Active() {
		return nil, nil
	}
	for i := range rec.Members {
		if rec.Members[i].PlayerID == playerID {
			m := rec.Members[i]
			return &m, nil
		}
	}

	_ = s.client.Del(ctx, activeRoomKey(playerID)).Err()
	return nil, nil
}
