package store

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "coinbot:doc:"

type RedisBlob struct {
	client *redis.Client
	prefix string
}

func NewRedisBlob(addr, password string, db int) *RedisBlob {
	return &RedisBlob{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: redisKeyPrefix,
	}
}

func (r *RedisBlob) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBlob) Get(ctx context.Context, name string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.prefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return raw, nil
}

func (r *RedisBlob) Put(ctx context.Context, name string, body []byte) error {
	return r.client.Set(ctx, r.prefix+name, body, 0).Err()
}

func (r *RedisBlob) Close() error {
	return r.client.Close()
}
