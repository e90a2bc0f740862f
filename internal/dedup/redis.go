package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared guard.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Redis is a Guard shared by every connection and process using the same
// Redis database.
type Redis struct {
	client         *redis.Client
	prefix         string
	ttl            time.Duration
	externalClient bool
}

// NewRedis connects to Redis and checks the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	g := NewRedisWithClient(client, cfg)
	g.externalClient = false
	return g, nil
}

// NewRedisWithClient uses an existing client. The caller keeps ownership
// of it.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig) *Redis {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "inbox:seen:"
	}
	return &Redis{
		client:         client,
		prefix:         prefix,
		ttl:            cfg.TTL,
		externalClient: true,
	}
}

func (r *Redis) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to forget %s: %w", key, err)
	}
	return nil
}

// Close closes the client unless it was passed in by the caller.
func (r *Redis) Close() error {
	if r.externalClient {
		return nil
	}
	return r.client.Close()
}
