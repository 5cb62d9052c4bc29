// File: gourdiansession.repository.redis.imp.go

package gourdiansession

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedSessionPrefix = "gourdiansession:revoked:"

type RedisRevocationRepository struct {
	client *redis.Client
}

// NewRedisRevocationRepository creates a Redis-backed revocation repository
func NewRedisRevocationRepository(ctx context.Context, client *redis.Client) (RevocationRepository, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisRevocationRepository{client: client}, nil
}

// MarkRevoked stores the token hash with an expiry of ttl
func (r *RedisRevocationRepository) MarkRevoked(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	return r.client.Set(ctx, revokedSessionPrefix+hashToken(token), "1", ttl).Err()
}

// IsRevoked checks for the token hash
func (r *RedisRevocationRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, fmt.Errorf("token cannot be empty")
	}

	exists, err := r.client.Exists(ctx, revokedSessionPrefix+hashToken(token)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return exists > 0, nil
}

// CleanupExpired deletes revocation keys that lost their expiry. Keys with a
// TTL are expired by Redis itself.
func (r *RedisRevocationRepository) CleanupExpired(ctx context.Context) error {
	var cursor uint64
	const batchSize = 100

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		keys, next, err := r.client.Scan(ctx, cursor, revokedSessionPrefix+"*", batchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan error: %w", err)
		}

		var stale []string
		for _, key := range keys {
			ttl, err := r.client.TTL(ctx, key).Result()
			if err != nil {
				return fmt.Errorf("redis ttl error: %w", err)
			}
			if lostExpiry(ttl) {
				stale = append(stale, key)
			}
		}

		if len(stale) > 0 {
			if err := r.client.Del(ctx, stale...).Err(); err != nil {
				return fmt.Errorf("redis delete error: %w", err)
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// TTL replies -1 for a key without expiry and -2 for a key that is already gone.
const redisNoExpiry time.Duration = -1

func lostExpiry(ttl time.Duration) bool {
	return ttl == redisNoExpiry
}
