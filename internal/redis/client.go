// Package redis mirrors the live roster into Redis so operators can inspect
// who is online without talking to the relay.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/peer-signaling/config"
	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
	"github.com/redis/go-redis/v9"
)

// rosterTTL bounds how long a mirrored roster outlives a relay that died
// without cleaning up.
const rosterTTL = 24 * time.Hour

// Mirror writes roster snapshots to a Redis list. Snapshots are coalesced:
// only the latest pending one is written.
type Mirror struct {
	client *redis.Client
	key    string

	mu      sync.Mutex
	pending models.Roster
	dirty   bool
	wake    chan struct{}
}

// Connect initializes the Redis client and checks the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newMirror(client, cfg.RosterKey), nil
}

func newMirror(client *redis.Client, key string) *Mirror {
	return &Mirror{
		client: client,
		key:    key,
		wake:   make(chan struct{}, 1),
	}
}

// RosterChanged records the snapshot for the writer loop. It never blocks.
func (m *Mirror) RosterChanged(roster models.Roster) {
	m.mu.Lock()
	m.pending = roster
	m.dirty = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run writes snapshots until ctx is cancelled, then removes the mirrored keys.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-m.wake:
			roster, ok := m.take()
			if !ok {
				continue
			}
			if err := m.write(ctx, roster); err != nil {
				logging.Warn("failed to mirror roster to Redis: %v", err)
			}
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := m.client.Del(cleanup, m.key, m.countKey()).Err(); err != nil {
				logging.Warn("failed to clear mirrored roster: %v", err)
			}
			cancel()
			return
		}
	}
}

// Close closes the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}

func (m *Mirror) take() (models.Roster, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil, false
	}
	roster := m.pending
	m.pending, m.dirty = nil, false
	return roster, true
}

func (m *Mirror) write(ctx context.Context, roster models.Roster) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.key)
		if names := roster.Names(); len(names) > 0 {
			values := make([]interface{}, len(names))
			for i, n := range names {
				values[i] = n
			}
			pipe.RPush(ctx, m.key, values...)
			pipe.Expire(ctx, m.key, rosterTTL)
		}
		pipe.Set(ctx, m.countKey(), len(roster), rosterTTL)
		return nil
	})
	return err
}

func (m *Mirror) countKey() string {
	return m.key + ":count"
}
