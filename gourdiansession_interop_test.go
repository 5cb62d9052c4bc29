// File: gourdiansession_interop_test.go

package gourdiansession

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var joseEncryption = map[EncryptionProfile]jose.ContentEncryption{
	ProfileA256CBCHS512: jose.A256CBC_HS512,
	ProfileA256GCM:      jose.A256GCM,
}

// joseKey joins a derived key set into the single content key go-jose expects.
func joseKey(keys *DerivedKeySet) []byte {
	return append(append([]byte{}, keys.MACKey...), keys.EncKey...)
}

func TestInteropJoseEncrypted(t *testing.T) {
	verifier := testVerifier(t, nil)

	for _, profile := range testProfiles {
		t.Run(string(profile), func(t *testing.T) {
			keys := testKeys(t, testSecret, profile)
			encrypter, err := jose.NewEncrypter(
				joseEncryption[profile],
				jose.Recipient{Algorithm: jose.DIRECT, Key: joseKey(keys)},
				(&jose.EncrypterOptions{}).WithType("JWT"),
			)
			require.NoError(t, err)

			payload, err := json.Marshal(testPayload("interop@example.com", testNow.Add(time.Hour)))
			require.NoError(t, err)
			object, err := encrypter.Encrypt(payload)
			require.NoError(t, err)
			token, err := object.CompactSerialize()
			require.NoError(t, err)

			session, err := verifier.VerifySession(context.Background(), token)
			require.NoError(t, err)
			assert.Equal(t, "interop@example.com", session.Identifier)
			assert.Equal(t, profile, session.Profile)
		})
	}
}

func TestInteropJoseDecrypts(t *testing.T) {
	for _, profile := range testProfiles {
		t.Run(string(profile), func(t *testing.T) {
			keys := testKeys(t, testSecret, profile)
			token := sealToken(t, keys, JWEHeader{Alg: "dir", Enc: string(profile)}, map[string]any{"sub": "s-1"})

			object, err := jose.ParseEncrypted(token,
				[]jose.KeyAlgorithm{jose.DIRECT},
				[]jose.ContentEncryption{jose.A256CBC_HS512, jose.A256GCM},
			)
			require.NoError(t, err)

			plaintext, err := object.Decrypt(joseKey(keys))
			require.NoError(t, err)
			assert.JSONEq(t, `{"sub":"s-1"}`, string(plaintext))
		})
	}
}
