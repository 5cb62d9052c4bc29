package gourdiansession

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ClaimSet is the decrypted session payload. No schema is enforced beyond the
// identity and expiry lookups.
type ClaimSet map[string]any

// VerifiedSession is the result of a successful verification.
//
// Fields:
//   - Claims: Decrypted payload
//   - Identifier: user.email, email or sub, in that order of precedence
//   - ExpiresAt: Effective expiry, zero when the session never expires
//   - KeyID: kid header value, if any
//   - Profile: Content-encryption profile of the token (empty for signed tokens)
//   - UsedFallback: Whether the fallback key set authenticated the token
type VerifiedSession struct {
	Claims       ClaimSet
	Identifier   string
	ExpiresAt    time.Time
	KeyID        string
	Profile      EncryptionProfile
	UsedFallback bool
}

func decodeClaims(plaintext []byte) (ClaimSet, error) {
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.UseNumber()

	var claims ClaimSet
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", ErrFormat, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrFormat)
	}
	return claims, nil
}

// Keys returns the payload key names in sorted order. Only names are safe to log.
func (c ClaimSet) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Identifier resolves the subject identifier: user.email, then email, then sub.
func (c ClaimSet) Identifier() (string, error) {
	if user, ok := c["user"].(map[string]any); ok {
		if email, ok := user["email"].(string); ok && email != "" {
			return email, nil
		}
	}
	if email, ok := c["email"].(string); ok && email != "" {
		return email, nil
	}
	if sub, ok := c["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", ErrMissingIdentity
}

// Expires returns the ISO-8601 "expires" timestamp. ok is false when the claim
// is absent; err is set when it is present but unparsable.
func (c ClaimSet) Expires() (t time.Time, ok bool, err error) {
	raw, present := c["expires"]
	if !present || raw == nil {
		return time.Time{}, false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return time.Time{}, true, fmt.Errorf("expires is %T, not a string", raw)
	}
	t, err = parseISO8601(s)
	return t, true, err
}

// ExpiresAtClaim returns the numeric "exp" claim (seconds since the epoch).
func (c ClaimSet) ExpiresAtClaim() (t time.Time, ok bool, err error) {
	raw, present := c["exp"]
	if !present || raw == nil {
		return time.Time{}, false, nil
	}

	var seconds float64
	switch v := raw.(type) {
	case json.Number:
		seconds, err = v.Float64()
		if err != nil {
			return time.Time{}, true, fmt.Errorf("%w: exp is not numeric", ErrFormat)
		}
	case float64:
		seconds = v
	default:
		return time.Time{}, true, fmt.Errorf("%w: exp is %T", ErrFormat, raw)
	}

	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true, nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseISO8601 accepts the ISO-8601 forms the issuer emits. A trailing Z is
// UTC; timestamps without an offset are read as UTC too.
func parseISO8601(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognised ISO-8601 timestamp")
}

// expired reports whether a session expiring at exp is no longer valid at now.
// Validity requires exp to be strictly after now.
func expired(exp, now time.Time) bool {
	return !exp.After(now)
}
