package gourdiansession

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// ContentDecryptor authenticates and decrypts one content-encryption profile.
// rawHeader is the base64url header segment exactly as received.
type ContentDecryptor interface {
	Profile() EncryptionProfile
	Decrypt(rawHeader string, iv, ciphertext, tag []byte, keys *DerivedKeySet) ([]byte, error)
}

// DecryptorFor returns the decryptor for an enc header value.
func DecryptorFor(enc string) (ContentDecryptor, error) {
	switch EncryptionProfile(enc) {
	case ProfileA256CBCHS512:
		return cbcHMACDecryptor{}, nil
	case ProfileA256GCM:
		return gcmDecryptor{}, nil
	default:
		return nil, fmt.Errorf("%w: enc %q", ErrUnsupportedAlgorithm, enc)
	}
}

// cbcHMACDecryptor implements A256CBC-HS512: the tag is verified over
// AAD || IV || ciphertext || AL before any decryption happens.
type cbcHMACDecryptor struct{}

func (cbcHMACDecryptor) Profile() EncryptionProfile { return ProfileA256CBCHS512 }

func (cbcHMACDecryptor) Decrypt(rawHeader string, iv, ciphertext, tag []byte, keys *DerivedKeySet) ([]byte, error) {
	if keys == nil || len(keys.MACKey) != keySize || len(keys.EncKey) != keySize {
		return nil, fmt.Errorf("%w: combined profile needs a %d byte MAC key and encryption key", ErrUnsupportedProfile, keySize)
	}

	expected := cbcHMACTag(keys.MACKey, []byte(rawHeader), iv, ciphertext)
	if !hmac.Equal(expected, tag) {
		return nil, ErrAuthentication
	}

	// Everything below reports ErrAuthentication so padding and MAC failures
	// look identical.
	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrAuthentication
	}

	block, err := aes.NewCipher(keys.EncKey)
	if err != nil {
		return nil, ErrAuthentication
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, ok := unpadPKCS7(padded, aes.BlockSize)
	if !ok {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// cbcHMACTag computes the first half of HMAC-SHA-512 over the JWE MAC input.
func cbcHMACTag(macKey, aad, iv, ciphertext []byte) []byte {
	var al [8]byte
	binary.BigEndian.PutUint64(al[:], uint64(len(aad))*8)

	mac := hmac.New(sha512.New, macKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(al[:])
	return mac.Sum(nil)[:keySize]
}

// unpadPKCS7 strips PKCS#7 padding, inspecting the whole final block
// regardless of the padding length.
func unpadPKCS7(data []byte, blockSize int) ([]byte, bool) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, false
	}

	padLen := int(data[n-1])
	good := subtle.ConstantTimeLessOrEq(1, padLen) & subtle.ConstantTimeLessOrEq(padLen, blockSize)
	for i := 0; i < blockSize; i++ {
		inPad := subtle.ConstantTimeLessOrEq(i+1, padLen)
		match := subtle.ConstantTimeByteEq(data[n-1-i], byte(padLen))
		good &= subtle.ConstantTimeSelect(inPad, match, 1)
	}
	if good != 1 {
		return nil, false
	}
	return data[:n-padLen], true
}

// gcmDecryptor implements A256GCM with the header segment as associated data.
type gcmDecryptor struct{}

func (gcmDecryptor) Profile() EncryptionProfile { return ProfileA256GCM }

func (gcmDecryptor) Decrypt(rawHeader string, iv, ciphertext, tag []byte, keys *DerivedKeySet) ([]byte, error) {
	if keys == nil || len(keys.EncKey) != keySize {
		return nil, fmt.Errorf("%w: AEAD profile needs a %d byte key", ErrUnsupportedProfile, keySize)
	}

	block, err := aes.NewCipher(keys.EncKey)
	if err != nil {
		return nil, ErrAuthentication
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrAuthentication
	}
	if len(iv) != aead.NonceSize() || len(tag) != aead.Overhead() {
		return nil, ErrAuthentication
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, []byte(rawHeader))
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
