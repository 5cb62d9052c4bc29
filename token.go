package gourdiansession

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JWEHeader is the decoded protected header.
type JWEHeader struct {
	Alg string `json:"alg"`
	Enc string `json:"enc"`
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
	Zip string `json:"zip,omitempty"`
}

// CompactToken is a parsed compact serialization. Every segment except the
// header stays in its base64url form; RawHeader is kept verbatim because it is
// the associated data for both profiles.
type CompactToken struct {
	Header       JWEHeader
	RawHeader    string
	EncryptedKey string
	IV           string
	Ciphertext   string
	Tag          string
}

// ParseCompactToken splits token into its five segments and decodes the header.
func ParseCompactToken(token string) (*CompactToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: expected 5 segments, got %d", ErrFormat, len(parts))
	}

	rawHeader, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	var header JWEHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, fmt.Errorf("%w: header is not a JSON object: %v", ErrFormat, err)
	}

	return &CompactToken{
		Header:       header,
		RawHeader:    parts[0],
		EncryptedKey: parts[1],
		IV:           parts[2],
		Ciphertext:   parts[3],
		Tag:          parts[4],
	}, nil
}

// Profile returns the content-encryption profile named by the header.
func (t *CompactToken) Profile() EncryptionProfile {
	return EncryptionProfile(t.Header.Enc)
}

type decodedSegments struct {
	iv         []byte
	ciphertext []byte
	tag        []byte
}

func (t *CompactToken) decode() (*decodedSegments, error) {
	iv, err := decodeSegment(t.IV)
	if err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}
	ciphertext, err := decodeSegment(t.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("ciphertext: %w", err)
	}
	tag, err := decodeSegment(t.Tag)
	if err != nil {
		return nil, fmt.Errorf("tag: %w", err)
	}
	return &decodedSegments{iv: iv, ciphertext: ciphertext, tag: tag}, nil
}
