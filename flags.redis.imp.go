// File: flags.redis.imp.go

package gourdiansession

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultFlagsHash = "gourdiansession:flags"

// RedisFlagStore keeps all flags in a single Redis hash so every replica
// sees the same values.
type RedisFlagStore struct {
	client *redis.Client
	hash   string
}

func NewRedisFlagStore(client *redis.Client) *RedisFlagStore {
	return &RedisFlagStore{client: client, hash: defaultFlagsHash}
}

func (s *RedisFlagStore) Get(ctx context.Context, model string) (bool, error) {
	value, err := s.client.HGet(ctx, s.hash, FlagKey(model)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read flag: %w", err)
	}
	return ParseFlagValue(value), nil
}

func (s *RedisFlagStore) Set(ctx context.Context, model string, compatible bool) error {
	if err := s.client.HSet(ctx, s.hash, FlagKey(model), formatFlagValue(compatible)).Err(); err != nil {
		return fmt.Errorf("failed to write flag: %w", err)
	}
	return nil
}

func (s *RedisFlagStore) All(ctx context.Context) (map[string]bool, error) {
	raw, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read flags: %w", err)
	}
	out := make(map[string]bool, len(raw))
	for k, v := range raw {
		out[k] = ParseFlagValue(v)
	}
	return out, nil
}
