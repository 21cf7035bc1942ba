// Package presence mirrors live room membership into Redis sets for
// external observers. The mirror is advisory and write-only: nothing in
// this process reads it back, so the in-memory room manager stays the
// single authority.
package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyTTL  = 24 * time.Hour
	opWait  = 2 * time.Second
	keyBase = "room:"
)

// Mirror publishes peer membership to Redis. A nil *Mirror is valid and
// does nothing, which is how the feature is disabled.
type Mirror struct {
	client *redis.Client
	log    *zap.Logger
}

// Connect builds a mirror against the given Redis address and verifies
// the connection with a ping.
func Connect(addr, password string, db int, log *zap.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opWait)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Mirror{client: client, log: log}, nil
}

func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}

func (m *Mirror) PeerJoined(roomID, userID string) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opWait)
	defer cancel()

	key := keyBase + roomID + ":peers"
	if err := m.client.SAdd(ctx, key, userID).Err(); err != nil {
		m.log.Warn("presence mirror write failed", zap.Error(err))
		return
	}
	m.client.Expire(ctx, key, keyTTL)
}

func (m *Mirror) PeerLeft(roomID, userID string) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opWait)
	defer cancel()

	if err := m.client.SRem(ctx, keyBase+roomID+":peers", userID).Err(); err != nil {
		m.log.Warn("presence mirror write failed", zap.Error(err))
	}
}

func (m *Mirror) RoomClosed(roomID string) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opWait)
	defer cancel()

	if err := m.client.Del(ctx, keyBase+roomID+":peers").Err(); err != nil {
		m.log.Warn("presence mirror delete failed", zap.Error(err))
	}
}
