package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"hubbridge/pkg/platform/sentinel"
)

const callbackKeyPrefix = "callback:"

// RedisRegistry persists callbacks so blocked executions survive a
// restart. Records have no TTL of their own; HubSpot expires the blocked
// execution upstream and a retry against an expired callback fails there.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry constructs a Redis-backed callback registry.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) Put(ctx context.Context, cb Callback) error {
	payload, err := json.Marshal(cb)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}
	if err := r.client.Set(ctx, callbackKeyPrefix+cb.ID, payload, 0).Err(); err != nil {
		return fmt.Errorf("store callback: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (Callback, error) {
	raw, err := r.client.Get(ctx, callbackKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Callback{}, fmt.Errorf("callback %q: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return Callback{}, fmt.Errorf("get callback: %w", err)
	}
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return Callback{}, fmt.Errorf("unmarshal callback: %w", err)
	}
	return cb, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, callbackKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete callback: %w", err)
	}
	return nil
}
