package gourdiansession

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// EncryptionProfile names a JWE content-encryption algorithm.
type EncryptionProfile string

const (
	ProfileA256CBCHS512 EncryptionProfile = "A256CBC-HS512" // AES-256-CBC with HMAC-SHA-512/256
	ProfileA256GCM      EncryptionProfile = "A256GCM"       // AES-256-GCM
)

// DerivationScheme selects how the shared secret is stretched into keys.
type DerivationScheme string

const (
	SchemeNextAuth DerivationScheme = "nextauth" // unsalted, fixed info string
	SchemeAuthJS   DerivationScheme = "authjs"   // salted with the session cookie name
)

// KeyManagementDirect is the only supported alg header value.
const KeyManagementDirect = "dir"

// nextAuthInfo must match the issuer byte for byte.
const nextAuthInfo = "NextAuth.js Generated Encryption Key"

// DefaultSalt is the salt the salted scheme uses when no cookie name is known.
const DefaultSalt = "authjs.session-token"

const keySize = 32

// DerivedKeySet holds the keys for one encryption profile. MACKey is nil for
// the AEAD profile.
type DerivedKeySet struct {
	Profile EncryptionProfile
	MACKey  []byte
	EncKey  []byte
}

// MACFingerprint returns a loggable fingerprint of the MAC key.
func (k *DerivedKeySet) MACFingerprint() string {
	if len(k.MACKey) == 0 {
		return ""
	}
	return fingerprint(k.MACKey)
}

// EncFingerprint returns a loggable fingerprint of the encryption key.
func (k *DerivedKeySet) EncFingerprint() string {
	return fingerprint(k.EncKey)
}

// Supported reports whether p is one of the two implemented profiles.
func (p EncryptionProfile) Supported() bool {
	switch p {
	case ProfileA256CBCHS512, ProfileA256GCM:
		return true
	default:
		return false
	}
}

func (p EncryptionProfile) derivedLength() (int, error) {
	switch p {
	case ProfileA256CBCHS512:
		return 2 * keySize, nil
	case ProfileA256GCM:
		return keySize, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedProfile, string(p))
	}
}

// DeriveKeys runs HKDF-SHA256 over the secret with no salt and the fixed
// NextAuth info string, sized for profile.
func DeriveKeys(secret SharedSecret, profile EncryptionProfile) (*DerivedKeySet, error) {
	return deriveKeySet(secret.keyMaterial(), nil, []byte(nextAuthInfo), profile)
}

// DeriveSaltedKeys derives keys the way Auth.js v5 does: the UTF-8 secret is
// the input, salt is the session cookie name and the info string embeds it.
func DeriveSaltedKeys(secret SharedSecret, profile EncryptionProfile, salt string) (*DerivedKeySet, error) {
	if salt == "" {
		salt = DefaultSalt
	}
	info := "Auth.js Generated Encryption Key (" + salt + ")"
	return deriveKeySet(secret.utf8Material(), []byte(salt), []byte(info), profile)
}

func deriveKeySet(ikm, salt, info []byte, profile EncryptionProfile) (*DerivedKeySet, error) {
	length, err := profile.derivedLength()
	if err != nil {
		return nil, err
	}
	if len(ikm) == 0 {
		return nil, ErrMissingSecret
	}

	okm := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), okm); err != nil {
		return nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	switch profile {
	case ProfileA256CBCHS512:
		return &DerivedKeySet{Profile: profile, MACKey: okm[:keySize], EncKey: okm[keySize:]}, nil
	default:
		return &DerivedKeySet{Profile: profile, EncKey: okm}, nil
	}
}

// FallbackKeys builds the alternative key set used after an HMAC tag
// mismatch: the raw 32 secret bytes repeated to fill both halves of the
// combined key. It exists only for A256CBC-HS512 and only when the secret
// hex-decodes to exactly 32 bytes.
func FallbackKeys(secret SharedSecret, profile EncryptionProfile) (*DerivedKeySet, bool) {
	if profile != ProfileA256CBCHS512 || !secret.hexDecoded || len(secret.ikm) != keySize {
		return nil, false
	}

	full := make([]byte, 0, 2*keySize)
	full = append(full, secret.ikm...)
	full = append(full, secret.ikm...)
	return &DerivedKeySet{Profile: profile, MACKey: full[:keySize], EncKey: full[keySize:]}, true
}
