package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is the shared tier, used when several service instances must
// see the same cache.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedis(client *redis.Client, log zerolog.Logger) *Redis {
	return &Redis{client: client, log: log.With().Str("component", "redis-cache").Logger()}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear scans each owned namespace and deletes matching keys. SCAN keeps
// the sweep incremental so a large cache does not block the server.
func (r *Redis) Clear(ctx context.Context) error {
	for _, prefix := range ownedPrefixes() {
		iter := r.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
		batch := make([]string, 0, 200)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == 200 {
				if err := r.client.Del(ctx, batch...).Err(); err != nil {
					return fmt.Errorf("redis clear %s: %w", prefix, err)
				}
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		if len(batch) > 0 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis clear %s: %w", prefix, err)
			}
		}
	}
	return nil
}

func (r *Redis) HealthCheck(ctx context.Context) Health {
	return probe(ctx, r)
}
