package kvstore

import (
	"context"
	"errors"

	"github.com/gerges15/minia-it-department-sub001/pkg/redis"
)

// Redis 基于 Redis 的共享存储
type Redis struct {
	client *redis.Client
}

// NewRedis 包装已建立的 Redis 客户端
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, key)
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value)
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, key)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
