// File: gourdiansession.repository.inmemory.imp.go

package gourdiansession

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRevocationRepository is an in-memory RevocationRepository.
// Suitable for development, testing, or single-instance deployments.
type MemoryRevocationRepository struct {
	mu              sync.RWMutex
	revoked         map[string]time.Time
	now             func() time.Time
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// NewMemoryRevocationRepository creates an in-memory repository.
// cleanupInterval determines how often expired entries are removed (default: 5 minutes)
func NewMemoryRevocationRepository(cleanupInterval time.Duration) *MemoryRevocationRepository {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	repo := &MemoryRevocationRepository{
		revoked:         make(map[string]time.Time),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go repo.periodicCleanup()

	return repo
}

// MarkRevoked records the token hash until now+ttl
func (m *MemoryRevocationRepository) MarkRevoked(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[hashToken(token)] = m.now().Add(ttl)
	return nil
}

// IsRevoked reports whether an unexpired entry exists for token
func (m *MemoryRevocationRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, fmt.Errorf("token cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	expiresAt, ok := m.revoked[hashToken(token)]
	if !ok {
		return false, nil
	}
	return m.now().Before(expiresAt), nil
}

// CleanupExpired removes expired entries
func (m *MemoryRevocationRepository) CleanupExpired(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for hash, expiresAt := range m.revoked {
		if !now.Before(expiresAt) {
			delete(m.revoked, hash)
		}
	}
	return nil
}

func (m *MemoryRevocationRepository) periodicCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			_ = m.CleanupExpired(context.Background())
		}
	}
}

// Close stops the background cleanup goroutine
func (m *MemoryRevocationRepository) Close() error {
	m.cleanupOnce.Do(func() {
		close(m.stopCleanup)
	})
	return nil
}

// Len returns the number of stored entries, expired or not
func (m *MemoryRevocationRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.revoked)
}
