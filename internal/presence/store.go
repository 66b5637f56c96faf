// Package presence derives user online/offline status from connection
// registry transitions and fans it out: to every locally connected client,
// to other realtime nodes over NATS, and to a Redis record the CRUD layer
// reads for "last seen" display.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for per-user presence hashes.
	PresencePrefix = "presence:"

	// RecordTTL keeps stale presence records from accumulating forever.
	// Every transition refreshes it.
	RecordTTL = 30 * 24 * time.Hour
)

// Record is a user's presence state as stored in Redis.
type Record struct {
	UserID   string `redis:"user_id"`
	Online   bool   `redis:"online"`
	Node     string `redis:"node"`      // realtime node holding the connection
	LastSeen int64  `redis:"last_seen"` // unix timestamp of the last transition
}

// Store persists presence records in Redis.
type Store struct {
	client *redis.Client
	node   string // identifier for this realtime node
}

// NewStore creates a presence store using the provided Redis client.
func NewStore(client *redis.Client, node string) *Store {
	return &Store{client: client, node: node}
}

// MarkOnline records that the user came online on this node.
func (s *Store) MarkOnline(ctx context.Context, userID string) error {
	return s.set(ctx, userID, true)
}

// MarkOffline records that the user went fully offline, stamping last_seen.
func (s *Store) MarkOffline(ctx context.Context, userID string) error {
	return s.set(ctx, userID, false)
}

func (s *Store) set(ctx context.Context, userID string, online bool) error {
	key := PresencePrefix + userID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":   userID,
		"online":    online,
		"node":      s.node,
		"last_seen": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, RecordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: set %s: %w", userID, err)
	}
	return nil
}

// Get retrieves a user's presence record. Returns nil if the user has never
// been seen.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	key := PresencePrefix + userID
	var rec Record
	if err := s.client.HGetAll(ctx, key).Scan(&rec); err != nil {
		return nil, fmt.Errorf("presence: get %s: %w", userID, err)
	}
	if rec.UserID == "" {
		return nil, nil // never seen
	}
	return &rec, nil
}
