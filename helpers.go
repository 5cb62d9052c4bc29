package gourdiansession

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// decodeSegment decodes an unpadded base64url token segment. Decoding is
// strict: unused trailing bits must be zero, so every byte string has exactly
// one accepted spelling.
func decodeSegment(segment string) ([]byte, error) {
	for i := 0; i < len(segment); i++ {
		if !isBase64URLChar(segment[i]) {
			return nil, fmt.Errorf("%w: invalid base64url character at offset %d", ErrFormat, i)
		}
	}

	decoded, err := base64.RawURLEncoding.Strict().DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return decoded, nil
}

func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func isBase64URLChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_'
}

// fingerprint returns a truncated SHA-256 digest that is safe to log.
func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// hashToken hashes a token for storage so repositories never hold the raw value.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
