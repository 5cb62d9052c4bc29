// File: gourdiansession.repository.go

package gourdiansession

import (
	"context"
	"time"
)

// RevocationRepository records revoked session tokens. Implementations store a
// hash of the token, never the token itself.
type RevocationRepository interface {
	// MarkRevoked records token as revoked for ttl.
	MarkRevoked(ctx context.Context, token string, ttl time.Duration) error
	// IsRevoked reports whether token has been revoked and not yet expired.
	IsRevoked(ctx context.Context, token string) (bool, error)
	// CleanupExpired removes entries whose revocation window has passed.
	CleanupExpired(ctx context.Context) error
}
