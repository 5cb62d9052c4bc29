package gourdiansession

import (
	"context"
	"fmt"
	"strings"
)

// ChainVerifier routes a token to the verifier matching its shape: five
// segments to the encrypted-session verifier, three to the signed-token
// verifier. Either may be nil to disable that shape.
type ChainVerifier struct {
	encrypted SessionVerifier
	signed    SessionVerifier
}

func NewChainVerifier(encrypted, signed SessionVerifier) *ChainVerifier {
	return &ChainVerifier{encrypted: encrypted, signed: signed}
}

func (c *ChainVerifier) VerifySession(ctx context.Context, token string, opts ...VerifyOption) (*VerifiedSession, error) {
	switch segments := strings.Count(token, ".") + 1; {
	case segments == 5 && c.encrypted != nil:
		return c.encrypted.VerifySession(ctx, token, opts...)
	case segments == 3 && c.signed != nil:
		return c.signed.VerifySession(ctx, token, opts...)
	default:
		return nil, reject(StageReceived, fmt.Errorf("%w: no verifier for a %d-segment token", ErrFormat, segments))
	}
}
