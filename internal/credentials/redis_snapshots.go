package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const poolSnapshotKey = "credentials:pool"

// RedisSnapshotStore persists the pool state as a single JSON blob in
// Redis.
type RedisSnapshotStore struct {
	client *redis.Client
}

func NewRedisSnapshotStore(client *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client}
}

// Conn opens a Redis connection and verifies it with a ping.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s:%s): %w", host, port, err)
	}
	return client, nil
}

func (r *RedisSnapshotStore) Save(ctx context.Context, slots []Slot) error {
	data, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, poolSnapshotKey, data, 0).Err()
}

func (r *RedisSnapshotStore) Load(ctx context.Context) ([]Slot, error) {
	val, err := r.client.Get(ctx, poolSnapshotKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var slots []Slot
	if err := json.Unmarshal([]byte(val), &slots); err != nil {
		return nil, err
	}
	return slots, nil
}
