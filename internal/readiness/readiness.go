package readiness

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Status is the external sync job's vocabulary for a player's data
// preparation. The lobby core only reads it.
type Status string

const (
	StatusNotSynced Status = "not_synced"
	StatusSyncing   Status = "syncing"
	StatusSynced    Status = "synced"
	StatusFailed    Status = "failed"
)

// Ready reports whether the player counts as ready for game start.
// Anything other than synced, including an absent record, does not.
func (s Status) Ready() bool {
	return s == StatusSynced
}

// Provider reads the latest stored readiness for a player.
type Provider interface {
	Status(ctx context.Context, playerID string) (Status, error)
}

const syncKeyPrefix = "sync:"

// RedisProvider reads the status keys the sync worker maintains.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider creates a provider on an existing redis client.
func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

// Status returns the player's sync status. A missing key or an
// unknown value maps to not_synced.
func (p *RedisProvider) Status(ctx context.Context, playerID string) (Status, error) {
	val, err := p.client.Get(ctx, syncKeyPrefix+playerID).Result()
	if errors.Is(err, redis.Nil) {
		return StatusNotSynced, nil
	}
	if err != nil {
		return StatusNotSynced, fmt.Errorf("read sync status: %w", err)
	}

	switch s := Status(val); s {
	case StatusNotSynced, StatusSyncing, StatusSynced, StatusFailed:
		return s, nil
	default:
		return StatusNotSynced, nil
	}
}

// Static is a fixed in-memory provider for tests.
type Static map[string]Status

func (s Static) Status(ctx context.Context, playerID string) (Status, error) {
	if st, ok := s[playerID]; ok {
		return st, nil
	}
	return StatusNotSynced, nil
}
