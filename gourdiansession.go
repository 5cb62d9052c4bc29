package gourdiansession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SessionVerifier turns a raw session token into a verified session or a
// typed failure.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string, opts ...VerifyOption) (*VerifiedSession, error)
}

// VerifyOption adjusts a single verification.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	salt string
}

// WithSalt sets the salt for the salted derivation scheme, normally the name of
// the cookie the token was read from. It has no effect on the unsalted scheme.
func WithSalt(salt string) VerifyOption {
	return func(o *verifyOptions) {
		o.salt = salt
	}
}

type keySetID struct {
	profile EncryptionProfile
	salt    string
}

// JWEVerifier verifies direct-key JWE session tokens. Derived keys are
// computed once at construction and only read afterwards, so a JWEVerifier is
// safe for concurrent use.
type JWEVerifier struct {
	config      GourdianSessionConfig
	secret      SharedSecret
	keys        map[keySetID]*DerivedKeySet
	fallback    map[EncryptionProfile]*DerivedKeySet
	logger      *slog.Logger
	now         func() time.Time
	revocations RevocationRepository
	telemetry   *telemetry
}

// NewGourdianSessionVerifier validates config, derives the key sets for every
// accepted profile and returns a ready verifier. When repo is non-nil every
// verification consults it; config.RevocationEnabled makes it mandatory.
func NewGourdianSessionVerifier(ctx context.Context, config GourdianSessionConfig, repo RevocationRepository) (*JWEVerifier, error) {
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.RevocationEnabled && repo == nil {
		return nil, fmt.Errorf("%w: revocation enabled without a repository", ErrInvalidConfig)
	}

	secret, err := NewSharedSecret(config.Secret)
	if err != nil {
		return nil, err
	}

	verifier := &JWEVerifier{
		config:      config,
		secret:      secret,
		keys:        make(map[keySetID]*DerivedKeySet),
		fallback:    make(map[EncryptionProfile]*DerivedKeySet),
		logger:      config.logger(),
		now:         config.clock(),
		revocations: repo,
		telemetry:   newTelemetry(config.TracerProvider, config.MeterProvider),
	}

	if err := verifier.initializeKeys(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize keys: %w", err)
	}
	return verifier, nil
}

// DefaultGourdianSessionVerifier builds a verifier from DefaultGourdianSessionConfig.
func DefaultGourdianSessionVerifier(ctx context.Context, secret string) (*JWEVerifier, error) {
	return NewGourdianSessionVerifier(ctx, DefaultGourdianSessionConfig(secret), nil)
}

func (v *JWEVerifier) initializeKeys(ctx context.Context) error {
	for _, profile := range v.config.Profiles {
		for _, salt := range v.salts() {
			keys, err := v.derive(profile, salt)
			if err != nil {
				return err
			}
			v.keys[keySetID{profile: profile, salt: salt}] = keys

			v.logger.InfoContext(ctx, "derived session keys",
				slog.String("profile", string(profile)),
				slog.String("scheme", string(v.config.Scheme)),
				slog.String("salt", salt),
				slog.String("mac_fingerprint", keys.MACFingerprint()),
				slog.String("enc_fingerprint", keys.EncFingerprint()),
			)
		}

		if fb, ok := FallbackKeys(v.secret, profile); ok && v.config.FallbackEnabled {
			v.fallback[profile] = fb
		}
	}

	v.logger.InfoContext(ctx, "session verifier initialized",
		slog.Any("secret", v.secret),
		slog.Bool("fallback", len(v.fallback) > 0),
	)
	return nil
}

func (v *JWEVerifier) salts() []string {
	if v.config.Scheme != SchemeAuthJS {
		return []string{""}
	}
	seen := map[string]bool{v.config.Salt: true}
	salts := []string{v.config.Salt}
	for _, name := range v.config.CookieNames {
		if !seen[name] {
			seen[name] = true
			salts = append(salts, name)
		}
	}
	return salts
}

func (v *JWEVerifier) derive(profile EncryptionProfile, salt string) (*DerivedKeySet, error) {
	if v.config.Scheme == SchemeAuthJS {
		return DeriveSaltedKeys(v.secret, profile, salt)
	}
	return DeriveKeys(v.secret, profile)
}

// keysFor returns the precomputed key set, deriving on demand for a salt that
// was not configured. Derivation is deterministic, so nothing is cached.
func (v *JWEVerifier) keysFor(profile EncryptionProfile, salt string) (*DerivedKeySet, error) {
	if v.config.Scheme != SchemeAuthJS {
		salt = ""
	} else if salt == "" {
		salt = v.config.Salt
	}
	if keys, ok := v.keys[keySetID{profile: profile, salt: salt}]; ok {
		return keys, nil
	}
	return v.derive(profile, salt)
}

func (v *JWEVerifier) acceptsProfile(profile EncryptionProfile) bool {
	for _, p := range v.config.Profiles {
		if p == profile {
			return true
		}
	}
	return false
}

// VerifySession runs the verification state machine:
// received, parsed, keys derived, decrypted, payload valid, accepted.
// Any failure is returned as a *SessionError naming the last stage reached.
func (v *JWEVerifier) VerifySession(ctx context.Context, token string, opts ...VerifyOption) (*VerifiedSession, error) {
	ctx, span := v.telemetry.start(ctx, "gourdiansession.VerifySession")
	defer span.End()

	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	session, err := v.verify(ctx, token, o)
	v.telemetry.finish(ctx, span, "jwe", err)
	if err != nil {
		v.logger.DebugContext(ctx, "session rejected", slog.String("reason", outcomeOf(err)), slog.Any("error", err))
		return nil, err
	}
	return session, nil
}

func (v *JWEVerifier) verify(ctx context.Context, token string, o verifyOptions) (*VerifiedSession, error) {
	if dots := strings.Count(token, "."); dots != 4 {
		return nil, reject(StageReceived, fmt.Errorf("%w: expected 4 dots, got %d", ErrFormat, dots))
	}

	parsed, err := ParseCompactToken(token)
	if err != nil {
		return nil, reject(StageReceived, err)
	}

	header := parsed.Header
	if header.Alg != KeyManagementDirect {
		return nil, reject(StageParsed, fmt.Errorf("%w: alg %q, expected %q", ErrUnsupportedAlgorithm, header.Alg, KeyManagementDirect))
	}
	if parsed.EncryptedKey != "" {
		return nil, reject(StageParsed, fmt.Errorf("%w: direct key management carries no encrypted key", ErrFormat))
	}
	decryptor, err := DecryptorFor(header.Enc)
	if err != nil {
		return nil, reject(StageParsed, err)
	}
	profile := decryptor.Profile()
	if !v.acceptsProfile(profile) {
		return nil, reject(StageParsed, fmt.Errorf("%w: enc %q is disabled", ErrUnsupportedAlgorithm, header.Enc))
	}
	keys, err := v.keysFor(profile, o.salt)
	if err != nil {
		return nil, reject(StageParsed, err)
	}

	segments, err := parsed.decode()
	if err != nil {
		return nil, reject(StageKeysDerived, err)
	}
	plaintext, usedFallback, err := v.decrypt(ctx, parsed.RawHeader, segments, decryptor, keys)
	if err != nil {
		return nil, reject(StageKeysDerived, err)
	}

	claims, err := decodeClaims(plaintext)
	if err != nil {
		return nil, reject(StageDecrypted, err)
	}
	v.logger.DebugContext(ctx, "session payload decrypted", slog.Any("keys", claims.Keys()))

	expiresAt, err := v.checkExpiry(ctx, claims)
	if err != nil {
		return nil, reject(StageDecrypted, err)
	}

	identifier, err := claims.Identifier()
	if err != nil {
		return nil, reject(StagePayloadValid, err)
	}

	if v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, token)
		if err != nil {
			return nil, reject(StagePayloadValid, fmt.Errorf("%w: revocation lookup failed: %v", ErrInvalidSession, err))
		}
		if revoked {
			return nil, reject(StagePayloadValid, ErrSessionRevoked)
		}
	}

	return &VerifiedSession{
		Claims:       claims,
		Identifier:   identifier,
		ExpiresAt:    expiresAt,
		KeyID:        header.Kid,
		Profile:      profile,
		UsedFallback: usedFallback,
	}, nil
}

// decrypt tries the primary key set and, after an authentication failure
// only, exactly one fallback key set. Exhausting both yields ErrInvalidSession
// with no further detail.
func (v *JWEVerifier) decrypt(ctx context.Context, rawHeader string, s *decodedSegments, decryptor ContentDecryptor, keys *DerivedKeySet) ([]byte, bool, error) {
	plaintext, err := decryptor.Decrypt(rawHeader, s.iv, s.ciphertext, s.tag, keys)
	if err == nil {
		return plaintext, false, nil
	}
	if !errors.Is(err, ErrAuthentication) {
		return nil, false, err
	}

	fallback, ok := v.fallback[decryptor.Profile()]
	if !ok {
		return nil, false, ErrInvalidSession
	}

	v.logger.WarnContext(ctx, "primary session keys failed authentication, retrying with fallback keys")
	plaintext, err = decryptor.Decrypt(rawHeader, s.iv, s.ciphertext, s.tag, fallback)
	if err != nil {
		return nil, false, ErrInvalidSession
	}
	v.logger.InfoContext(ctx, "session decrypted with fallback keys")
	return plaintext, true, nil
}

// checkExpiry enforces "expires" and, when enabled, "exp". It returns the
// earliest effective expiry, zero when neither claim is present.
func (v *JWEVerifier) checkExpiry(ctx context.Context, claims ClaimSet) (time.Time, error) {
	now := v.now()
	var effective time.Time

	expires, ok, err := claims.Expires()
	switch {
	case ok && err != nil:
		if v.config.ExpiryFailClosed {
			return time.Time{}, fmt.Errorf("%w: unparsable expires claim", ErrSessionExpired)
		}
		v.logger.WarnContext(ctx, "failed to parse session expiry, treating as not expired", slog.Any("error", err))
	case ok:
		if expired(expires, now) {
			return time.Time{}, ErrSessionExpired
		}
		effective = expires
	}

	if v.config.CheckNumericExp {
		exp, ok, err := claims.ExpiresAtClaim()
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			if expired(exp, now) {
				return time.Time{}, ErrSessionExpired
			}
			if effective.IsZero() || exp.Before(effective) {
				effective = exp
			}
		}
	}
	return effective, nil
}

// RevokeSession verifies token and records it in the revocation repository
// until it expires, or for RevocationTTL when it carries no expiry.
func (v *JWEVerifier) RevokeSession(ctx context.Context, token string, opts ...VerifyOption) error {
	if v.revocations == nil {
		return fmt.Errorf("%w: no revocation repository configured", ErrInvalidConfig)
	}

	session, err := v.VerifySession(ctx, token, opts...)
	if err != nil {
		if errors.Is(err, ErrSessionRevoked) || errors.Is(err, ErrSessionExpired) {
			return nil
		}
		return err
	}

	ttl := v.config.RevocationTTL
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(v.now())
	}
	if ttl <= 0 {
		return nil
	}
	return v.revocations.MarkRevoked(ctx, token, ttl)
}

// Fingerprints returns loggable fingerprints of the secret and every derived key.
func (v *JWEVerifier) Fingerprints() map[string]string {
	out := map[string]string{"secret": v.secret.Fingerprint()}
	for id, keys := range v.keys {
		prefix := string(id.profile)
		if id.salt != "" {
			prefix += "/" + id.salt
		}
		if mac := keys.MACFingerprint(); mac != "" {
			out[prefix+"/mac"] = mac
		}
		out[prefix+"/enc"] = keys.EncFingerprint()
	}
	return out
}
