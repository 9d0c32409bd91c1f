package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "poker:room:"

type Redis struct {
	client *redis.Client
}

func OpenRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client), nil
}

// NewRedis wraps an existing client. The store takes ownership of it.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func redisKey(roomID string) string { return redisKeyPrefix + roomID }

func (r *Redis) Save(ctx context.Context, roomID string, data []byte) error {
	if err := r.client.Set(ctx, redisKey(roomID), data, 0).Err(); err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, roomID string) ([]byte, error) {
	data, err := r.client.Get(ctx, redisKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return data, nil
}

func (r *Redis) Delete(ctx context.Context, roomID string) error {
	if err := r.client.Del(ctx, redisKey(roomID)).Err(); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
