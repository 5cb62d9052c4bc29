package gourdiansession

import (
	"encoding/hex"
	"log/slog"
	"strings"
)

// SharedSecret is the process-wide secret shared with the identity provider.
// It never renders its value: fmt, %#v and slog all print a fingerprint.
type SharedSecret struct {
	raw        string
	ikm        []byte
	hexDecoded bool
}

// NewSharedSecret wraps secret. A 64 character value is tried as hex first and
// falls back to its UTF-8 bytes when it does not decode.
func NewSharedSecret(secret string) (SharedSecret, error) {
	if secret == "" {
		return SharedSecret{}, ErrMissingSecret
	}

	s := SharedSecret{raw: secret, ikm: []byte(secret)}
	if len(secret) == 64 {
		if decoded, err := hex.DecodeString(secret); err == nil {
			s.ikm = decoded
			s.hexDecoded = true
		}
	}
	return s, nil
}

// HexDecoded reports whether the key derivation input came from hex decoding.
func (s SharedSecret) HexDecoded() bool { return s.hexDecoded }

// Fingerprint returns a truncated hash of the secret, suitable for diagnostics.
func (s SharedSecret) Fingerprint() string {
	if s.raw == "" {
		return ""
	}
	return fingerprint([]byte(s.raw))
}

func (s SharedSecret) String() string {
	var b strings.Builder
	b.WriteString("SharedSecret(")
	b.WriteString(s.Fingerprint())
	b.WriteString(")")
	return b.String()
}

func (s SharedSecret) GoString() string { return s.String() }

func (s SharedSecret) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("fingerprint", s.Fingerprint()),
		slog.Bool("hex", s.hexDecoded),
	)
}

// keyMaterial is the HKDF input for the unsalted scheme.
func (s SharedSecret) keyMaterial() []byte { return s.ikm }

// utf8Material is the HKDF input for the salted scheme, which never hex-decodes.
func (s SharedSecret) utf8Material() []byte { return []byte(s.raw) }
