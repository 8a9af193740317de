package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/guesswho/internal/apperrors"
	"github.com/user/guesswho/internal/room"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return NewRedisStore(client, 0), mr
}

func member(code, playerID string, host bool, joined time.Time) room.Membership {
	return room.Membership{
		RoomCode:        code,
		PlayerID:        playerID,
		DisplayName:     playerID,
		IsHost:          host,
		JoinedAt:        joined,
		ConnectionState: room.ConnConnected,
	}
}

func TestRedisStoreCreateGetRoom(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	r := &room.Room{
		Code:       "ABCDE",
		Status:     room.StatusLobby,
		HostID:     "p1",
		MinPlayers: 2,
		MaxPlayers: 8,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.CreateRoom(ctx, r))

	got, err := store.GetRoom(ctx, "ABCDE")
	require.NoError(t, err)
	assert.Equal(t, room.StatusLobby, got.Status)
	assert.Equal(t, "p1", got.HostID)

	_, err = store.GetRoom(ctx, "ZZZZZ")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
}

func TestRedisStoreMembersOrderedByJoinTime(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby}))

	base := time.Now()
	// Inserted out of join order on purpose.
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "late", false, base.Add(2*time.Second))))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "first", true, base)))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "mid", false, base.Add(time.Second))))

	members, err := store.ListMembers(ctx, "ABCDE")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "first", members[0].PlayerID)
	assert.Equal(t, "mid", members[1].PlayerID)
	assert.Equal(t, "late", members[2].PlayerID)
}

func TestRedisStoreDuplicateMember(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby}))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p1", true, time.Now())))

	err := store.AddMember(ctx, "ABCDE", member("ABCDE", "p1", false, time.Now()))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyMember)
}

func TestRedisStoreRemoveMember(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby}))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p1", true, time.Now())))

	require.NoError(t, store.RemoveMember(ctx, "ABCDE", "p1"))
	members, err := store.ListMembers(ctx, "ABCDE")
	require.NoError(t, err)
	assert.Empty(t, members)

	// Removing again, or from a missing room, is a no-op.
	require.NoError(t, store.RemoveMember(ctx, "ABCDE", "p1"))
	require.NoError(t, store.RemoveMember(ctx, "ZZZZZ", "p1"))

	active, err := store.FindActiveMembership(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, active, "removal clears the active index")
}

func TestRedisStoreFindActiveMembership(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	active, err := store.FindActiveMembership(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby}))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p1", true, time.Now())))

	active, err = store.FindActiveMembership(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "ABCDE", active.RoomCode)

	// A finished room does not hold the player hostage.
	require.NoError(t, store.SetStatus(ctx, "ABCDE", room.StatusFinished))
	active, err = store.FindActiveMembership(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRedisStoreCloseRoomClearsIndexes(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby}))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p1", true, time.Now())))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p2", false, time.Now())))

	require.NoError(t, store.CloseRoom(ctx, "ABCDE"))

	_, err := store.GetRoom(ctx, "ABCDE")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	assert.False(t, mr.Exists("player:p1:room"))
	assert.False(t, mr.Exists("player:p2:room"))

	// Idempotent.
	require.NoError(t, store.CloseRoom(ctx, "ABCDE"))
}

func TestRedisStoreSetHost(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby, HostID: "p1"}))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p1", true, time.Now())))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p2", false, time.Now().Add(time.Second))))

	require.NoError(t, store.SetHost(ctx, "ABCDE", "p2"))

	r, err := store.GetRoom(ctx, "ABCDE")
	require.NoError(t, err)
	assert.Equal(t, "p2", r.HostID)

	members, err := store.ListMembers(ctx, "ABCDE")
	require.NoError(t, err)
	assert.False(t, members[0].IsHost)
	assert.True(t, members[1].IsHost)

	err = store.SetHost(ctx, "ABCDE", "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
}

func TestRedisStoreSetConnectionState(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby}))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p1", true, time.Now())))

	require.NoError(t, store.SetConnectionState(ctx, "ABCDE", "p1", room.ConnDisconnected))

	members, err := store.ListMembers(ctx, "ABCDE")
	require.NoError(t, err)
	assert.Equal(t, room.ConnDisconnected, members[0].ConnectionState)
	assert.True(t, members[0].IsHost, "presence flip keeps the membership intact")

	err = store.SetConnectionState(ctx, "ABCDE", "ghost", room.ConnConnected)
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
}

func TestRedisStoreIdleTimeoutSetsTTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby}))
	require.NoError(t, store.AddMember(ctx, "ABCDE", member("ABCDE", "p1", true, time.Now())))

	assert.Equal(t, 30*time.Minute, mr.TTL("room:ABCDE"))
	assert.Equal(t, 30*time.Minute, mr.TTL("player:p1:room"))

	// An idle room eventually falls out of the keyspace on its own.
	mr.FastForward(31 * time.Minute)
	_, err = store.GetRoom(ctx, "ABCDE")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
}

func TestRedisStoreZeroIdleTimeoutFallsBack(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, &room.Room{Code: "ABCDE", Status: room.StatusLobby}))
	assert.Equal(t, defaultRoomTTL, mr.TTL("room:ABCDE"))
}
