package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Nil is returned when a key or list is empty
var Nil = redis.Nil

type RedisClient struct {
	client redis.UniversalClient
}

// Options selects the Redis server; URL accepts either host:port or a redis:// URL
type Options struct {
	URL      string
	Password string
	DB       int
}

// NewRedisClient returns nil when no URL is configured
func NewRedisClient(opts Options) (*RedisClient, error) {
	if opts.URL == "" {
		return nil, nil
	}

	var ro *redis.Options
	if strings.Contains(opts.URL, "://") {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		ro = parsed
	} else {
		ro = &redis.Options{Addr: opts.URL, DB: opts.DB}
	}
	if opts.Password != "" {
		ro.Password = opts.Password
	}

	return &RedisClient{client: redis.NewClient(ro)}, nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Push appends values to the tail of a list
func (r *RedisClient) Push(ctx context.Context, key string, values ...any) error {
	return r.client.RPush(ctx, key, values...).Err()
}

// Pop removes and returns the head of a list, or Nil when it is empty
func (r *RedisClient) Pop(ctx context.Context, key string) (string, error) {
	return r.client.LPop(ctx, key).Result()
}

// Len returns the length of a list
func (r *RedisClient) Len(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
