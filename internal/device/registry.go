// Package device provides the Redis-backed registry of push-notification
// addresses. Each user owns a hash of deviceId -> push address; a device
// refreshing its token upserts its own field. Token lifecycle is independent
// of connections: addresses exist (and are used for fallback delivery) while
// the user is fully offline.
//
//	Key:   devices:<userId>
//	Field: <deviceId>
//	Value: <push address>
//	TTL:   refreshed on every upsert
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DevicesPrefix is the Redis key prefix for per-user device hashes.
	DevicesPrefix = "devices:"

	// TokenTTL is how long a user's device hash lives without any refresh.
	// Mobile clients refresh their token on every app start, so an untouched
	// hash means every device has been dead for this long.
	TokenTTL = 60 * 24 * time.Hour
)

// Registry manages device push addresses in Redis.
type Registry struct {
	client *redis.Client
}

// NewRegistry creates a device registry using the provided Redis client.
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// Upsert stores or refreshes the push address for (userID, deviceID) and
// extends the user's hash TTL.
func (r *Registry) Upsert(ctx context.Context, userID, deviceID, address string) error {
	if userID == "" || deviceID == "" || address == "" {
		return fmt.Errorf("device: upsert requires user, device, and address")
	}
	key := DevicesPrefix + userID

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, deviceID, address)
	pipe.Expire(ctx, key, TokenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("device: upsert %s/%s: %w", userID, deviceID, err)
	}
	return nil
}

// Tokens returns all push addresses registered for the user. Returns an
// empty slice (not an error) when the user has no devices.
func (r *Registry) Tokens(ctx context.Context, userID string) ([]string, error) {
	key := DevicesPrefix + userID
	addrs, err := r.client.HVals(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("device: tokens %s: %w", userID, err)
	}
	return addrs, nil
}

// Remove deletes one device's address (e.g., on logout from that device).
func (r *Registry) Remove(ctx context.Context, userID, deviceID string) error {
	key := DevicesPrefix + userID
	if err := r.client.HDel(ctx, key, deviceID).Err(); err != nil {
		return fmt.Errorf("device: remove %s/%s: %w", userID, deviceID, err)
	}
	return nil
}

// RemoveAddress deletes any device entries carrying the given address. The
// push worker calls this when the push gateway reports the address as
// permanently invalid.
func (r *Registry) RemoveAddress(ctx context.Context, userID, address string) error {
	key := DevicesPrefix + userID
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("device: remove address %s: %w", userID, err)
	}

	for deviceID, addr := range fields {
		if addr == address {
			if err := r.client.HDel(ctx, key, deviceID).Err(); err != nil {
				return fmt.Errorf("device: remove address %s/%s: %w", userID, deviceID, err)
			}
		}
	}
	return nil
}
