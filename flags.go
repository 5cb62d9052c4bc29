package gourdiansession

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const flagSuffix = "_OPENAI_COMPATIBLE"

// FlagStore holds per-model "OpenAI-compatible" switches. It replaces ambient
// process-environment mutation with an injectable store that concurrent
// handlers can read and write.
type FlagStore interface {
	// Get reports whether model is flagged compatible. Unknown models are false.
	Get(ctx context.Context, model string) (bool, error)
	Set(ctx context.Context, model string, compatible bool) error
	// All returns every stored flag keyed by its normalized flag name.
	All(ctx context.Context) (map[string]bool, error)
}

// FlagKey returns the flag name for a model env name, e.g. CHAT_MODEL becomes
// CHAT_MODEL_OPENAI_COMPATIBLE. Names already carrying the suffix are kept.
func FlagKey(model string) string {
	key := strings.ToUpper(strings.TrimSpace(model))
	if strings.HasSuffix(key, flagSuffix) {
		return key
	}
	return key + flagSuffix
}

// ParseFlagValue treats "1", "true" and "yes" (any case) as set.
func ParseFlagValue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func formatFlagValue(compatible bool) string {
	if compatible {
		return "true"
	}
	return "false"
}

// SeedFlagsFromEnv copies every *_OPENAI_COMPATIBLE entry of environ (as
// returned by os.Environ) into store and returns how many were written.
func SeedFlagsFromEnv(ctx context.Context, store FlagStore, environ []string) (int, error) {
	seeded := 0
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasSuffix(strings.ToUpper(key), flagSuffix) {
			continue
		}
		if err := store.Set(ctx, key, ParseFlagValue(value)); err != nil {
			return seeded, fmt.Errorf("failed to seed flag %s: %w", key, err)
		}
		seeded++
	}
	return seeded, nil
}

// MemoryFlagStore is a process-local FlagStore.
type MemoryFlagStore struct {
	mu    sync.RWMutex
	flags map[string]bool
}

func NewMemoryFlagStore() *MemoryFlagStore {
	return &MemoryFlagStore{flags: make(map[string]bool)}
}

func (s *MemoryFlagStore) Get(ctx context.Context, model string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[FlagKey(model)], nil
}

func (s *MemoryFlagStore) Set(ctx context.Context, model string, compatible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[FlagKey(model)] = compatible
	return nil
}

func (s *MemoryFlagStore) All(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out, nil
}
