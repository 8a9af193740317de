package room

import (
	"context"
	"log"

	"github.com/user/guesswho/internal/readiness"
)

// PlayerView is one member as seen by lobby clients.
type PlayerView struct {
	PlayerID        string
	DisplayName     string
	IsHost          bool
	Readiness       readiness.Status
	ConnectionState ConnState
}

// Snapshot is a point-in-time view of a room for broadcasting. It is
// always built fresh from the store and the readiness provider:
// membership and readiness change from sources a cached copy would
// never see (the sync worker, another player's join or leave).
type Snapshot struct {
	Room      Room
	Players   []PlayerView
	AllSynced bool
}

// BuildSnapshot assembles the current room view. A readiness read
// failure degrades that player to not_synced rather than failing the
// whole snapshot.
func BuildSnapshot(ctx context.Context, store Store, rp readiness.Provider, code string) (*Snapshot, error) {
	r, err := store.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	members, err := store.ListMembers(ctx, code)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Room:      *r,
		Players:   make([]PlayerView, 0, len(members)),
		AllSynced: true,
	}
	for _, m := range members {
		st, err := rp.Status(ctx, m.PlayerID)
		if err != nil {
			log.Printf("readiness lookup for %s failed: %v", m.PlayerID, err)
			st = readiness.StatusNotSynced
		}
		if !st.Ready() {
			snap.AllSynced = false
		}
		snap.Players = append(snap.Players, PlayerView{
			PlayerID:        m.PlayerID,
			DisplayName:     m.DisplayName,
			IsHost:          m.IsHost,
			Readiness:       st,
			ConnectionState: m.ConnectionState,
		})
	}
	return snap, nil
}
