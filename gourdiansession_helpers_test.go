// File: gourdiansession_helpers_test.go

package gourdiansession

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testSecret     = "e89cd4dd3bc84d402a5d7823b940291fb80aa831f2f6087b68263fbe1f1dde5d"
	testTextSecret = "not-a-hex-secret-but-long-enough-for-tests"
)

// testNow is the fixed instant every verifier under test sees.
var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// testRedisClient starts an in-process Redis for the duration of the test.
func testRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func testConfig(secret string) GourdianSessionConfig {
	config := DefaultGourdianSessionConfig(secret)
	config.Clock = fixedClock(testNow)
	return config
}

func testVerifier(t testing.TB, mutate func(*GourdianSessionConfig)) *JWEVerifier {
	t.Helper()

	config := testConfig(testSecret)
	if mutate != nil {
		mutate(&config)
	}
	verifier, err := NewGourdianSessionVerifier(context.Background(), config, nil)
	require.NoError(t, err)
	return verifier
}

func testKeys(t testing.TB, secret string, profile EncryptionProfile) *DerivedKeySet {
	t.Helper()

	s, err := NewSharedSecret(secret)
	require.NoError(t, err)
	keys, err := DeriveKeys(s, profile)
	require.NoError(t, err)
	return keys
}

func testPayload(email string, expires time.Time) map[string]any {
	return map[string]any{
		"user":    map[string]any{"name": "Test User", "email": email},
		"expires": expires.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// sealToken is the encrypting mirror of the decryptors, used to build fixtures.
func sealToken(t testing.TB, keys *DerivedKeySet, header JWEHeader, payload any) string {
	t.Helper()

	plaintext, err := json.Marshal(payload)
	require.NoError(t, err)
	return sealBytes(t, keys, header, plaintext)
}

func sealBytes(t testing.TB, keys *DerivedKeySet, header JWEHeader, plaintext []byte) string {
	t.Helper()

	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	rawHeader := encodeSegment(headerJSON)

	block, err := aes.NewCipher(keys.EncKey)
	require.NoError(t, err)

	var iv, ciphertext, tag []byte
	switch EncryptionProfile(header.Enc) {
	case ProfileA256CBCHS512:
		iv = randomBytes(t, aes.BlockSize)
		padded := padPKCS7(plaintext, aes.BlockSize)
		ciphertext = make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
		tag = cbcHMACTag(keys.MACKey, []byte(rawHeader), iv, ciphertext)
	case ProfileA256GCM:
		aead, err := cipher.NewGCM(block)
		require.NoError(t, err)
		iv = randomBytes(t, aead.NonceSize())
		sealed := aead.Seal(nil, iv, plaintext, []byte(rawHeader))
		ciphertext = sealed[:len(sealed)-aead.Overhead()]
		tag = sealed[len(sealed)-aead.Overhead():]
	default:
		t.Fatalf("cannot seal enc %q", header.Enc)
	}

	return rawHeader + ".." + encodeSegment(iv) + "." + encodeSegment(ciphertext) + "." + encodeSegment(tag)
}

func sealSession(t testing.TB, secret string, profile EncryptionProfile, payload any) string {
	t.Helper()
	return sealToken(t, testKeys(t, secret, profile), JWEHeader{Alg: "dir", Enc: string(profile)}, payload)
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func randomBytes(t testing.TB, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

var testProfiles = []EncryptionProfile{ProfileA256CBCHS512, ProfileA256GCM}

func mustJSON(t testing.TB, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
