// File: gourdiansession_repository_test.go

package gourdiansession

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRevocationRepository(t *testing.T) {
	ctx := context.Background()
	client, mr := testRedisClient(t)

	repo, err := NewRedisRevocationRepository(ctx, client)
	require.NoError(t, err)

	t.Run("Mark And Check", func(t *testing.T) {
		require.NoError(t, repo.MarkRevoked(ctx, "token-a", time.Minute))

		revoked, err := repo.IsRevoked(ctx, "token-a")
		require.NoError(t, err)
		assert.True(t, revoked)

		revoked, err = repo.IsRevoked(ctx, "token-b")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("Stores Hash Only", func(t *testing.T) {
		require.NoError(t, repo.MarkRevoked(ctx, "plain-token-value", time.Minute))
		assert.True(t, mr.Exists(revokedSessionPrefix+hashToken("plain-token-value")))
		for _, key := range mr.Keys() {
			assert.NotContains(t, key, "plain-token-value")
		}
	})

	t.Run("Expires With TTL", func(t *testing.T) {
		require.NoError(t, repo.MarkRevoked(ctx, "token-ttl", time.Minute))
		mr.FastForward(2 * time.Minute)

		revoked, err := repo.IsRevoked(ctx, "token-ttl")
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("Cleanup Removes Keys Without TTL", func(t *testing.T) {
		require.NoError(t, mr.Set(revokedSessionPrefix+"stale", "1"))
		require.NoError(t, repo.MarkRevoked(ctx, "token-live", time.Hour))

		require.NoError(t, repo.CleanupExpired(ctx))
		assert.False(t, mr.Exists(revokedSessionPrefix+"stale"))
		assert.True(t, mr.Exists(revokedSessionPrefix+hashToken("token-live")))
	})

	t.Run("Only Keys Without Expiry Are Stale", func(t *testing.T) {
		assert.True(t, lostExpiry(-1))
		assert.False(t, lostExpiry(-2), "a vanished key needs no delete")
		assert.False(t, lostExpiry(time.Minute))
	})

	t.Run("Invalid Input", func(t *testing.T) {
		assert.Error(t, repo.MarkRevoked(ctx, "", time.Minute))
		assert.Error(t, repo.MarkRevoked(ctx, "x", 0))
		_, err := repo.IsRevoked(ctx, "")
		assert.Error(t, err)
	})

	t.Run("Nil Client", func(t *testing.T) {
		_, err := NewRedisRevocationRepository(ctx, nil)
		assert.Error(t, err)
	})

	t.Run("Unreachable Server", func(t *testing.T) {
		dead := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer dead.Close()
		_, err := NewRedisRevocationRepository(ctx, dead)
		assert.Error(t, err)
	})
}

func TestMemoryRevocationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRevocationRepository(time.Hour)
	defer repo.Close()

	now := testNow
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.MarkRevoked(ctx, "token-a", time.Minute))
	revoked, err := repo.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	now = now.Add(time.Minute)
	revoked, err = repo.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked, "revocation ends exactly at its expiry")

	assert.Equal(t, 1, repo.Len())
	require.NoError(t, repo.CleanupExpired(ctx))
	assert.Equal(t, 0, repo.Len())

	assert.Error(t, repo.MarkRevoked(ctx, "", time.Minute))
	assert.Error(t, repo.MarkRevoked(ctx, "x", -time.Second))
	assert.NoError(t, repo.Close(), "close is idempotent")
}

func TestRevokeSession(t *testing.T) {
	ctx := context.Background()

	backends := map[string]func(t *testing.T) RevocationRepository{
		"Redis": func(t *testing.T) RevocationRepository {
			client, _ := testRedisClient(t)
			repo, err := NewRedisRevocationRepository(ctx, client)
			require.NoError(t, err)
			return repo
		},
		"Memory": func(t *testing.T) RevocationRepository {
			repo := NewMemoryRevocationRepository(time.Hour)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}

	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			config := testConfig(testSecret)
			config.RevocationEnabled = true
			verifier, err := NewGourdianSessionVerifier(ctx, config, newRepo(t))
			require.NoError(t, err)

			token := sealSession(t, testSecret, ProfileA256GCM, testPayload("a@example.com", testNow.Add(time.Hour)))
			other := sealSession(t, testSecret, ProfileA256GCM, testPayload("b@example.com", testNow.Add(time.Hour)))

			_, err = verifier.VerifySession(ctx, token)
			require.NoError(t, err)

			require.NoError(t, verifier.RevokeSession(ctx, token))
			_, err = verifier.VerifySession(ctx, token)
			requireRejected(t, err, ErrSessionRevoked, StagePayloadValid)

			_, err = verifier.VerifySession(ctx, respellLastChar(t, token, 4))
			require.Error(t, err, "a respelled tag must not escape revocation")

			_, err = verifier.VerifySession(ctx, other)
			require.NoError(t, err, "other sessions stay valid")

			require.NoError(t, verifier.RevokeSession(ctx, token), "revoking twice is a no-op")

			forged := sealSession(t, testTextSecret, ProfileA256GCM, testPayload("a@example.com", testNow.Add(time.Hour)))
			assert.ErrorIs(t, verifier.RevokeSession(ctx, forged), ErrInvalidSession)
		})
	}

	t.Run("Enabled Without Repository", func(t *testing.T) {
		config := testConfig(testSecret)
		config.RevocationEnabled = true
		_, err := NewGourdianSessionVerifier(ctx, config, nil)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("Revoke Without Repository", func(t *testing.T) {
		verifier := testVerifier(t, nil)
		token := sealSession(t, testSecret, ProfileA256GCM, map[string]any{"sub": "s"})
		require.ErrorIs(t, verifier.RevokeSession(ctx, token), ErrInvalidConfig)
	})
}
