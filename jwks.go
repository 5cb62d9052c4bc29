package gourdiansession

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	maxJWKSBytes           = 1 << 20
	defaultJWKSTTL         = 10 * time.Minute
	defaultJWKSTimeout     = 10 * time.Second
	defaultJWKSMinInterval = 30 * time.Second
)

// JWKSConfig configures a JWKSVerifier.
//
// Fields:
//   - URL: Location of the JSON Web Key Set document
//   - HTTPClient: Client used for fetches; a 10s-timeout client when nil
//   - CacheTTL: How long fetched keys are trusted before a refetch
//   - MinRefreshInterval: Minimum time between fetch attempts, capped at CacheTTL
//   - Logger, Clock, TracerProvider, MeterProvider: as in GourdianSessionConfig
type JWKSConfig struct {
	URL                string
	HTTPClient         *http.Client
	CacheTTL           time.Duration
	MinRefreshInterval time.Duration
	Logger             *slog.Logger
	Clock              func() time.Time
	TracerProvider     trace.TracerProvider
	MeterProvider      metric.MeterProvider
}

// JWKSVerifier verifies RS256-signed JWTs against keys published at a JWKS
// endpoint. It is the signed-token counterpart of JWEVerifier.
type JWKSVerifier struct {
	url         string
	client      *http.Client
	ttl         time.Duration
	minInterval time.Duration
	logger      *slog.Logger
	now         func() time.Time
	telemetry   *telemetry

	group singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
	attemptErr  error
}

func NewJWKSVerifier(config JWKSConfig) (*JWKSVerifier, error) {
	u, err := url.Parse(config.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid JWKS URL %q", ErrInvalidConfig, config.URL)
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultJWKSTimeout}
	}
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	minInterval := config.MinRefreshInterval
	if minInterval <= 0 {
		minInterval = defaultJWKSMinInterval
	}
	if minInterval > ttl {
		minInterval = ttl
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}

	return &JWKSVerifier{
		url:         config.URL,
		client:      client,
		ttl:         ttl,
		minInterval: minInterval,
		logger:      logger,
		now:         now,
		telemetry:   newTelemetry(config.TracerProvider, config.MeterProvider),
	}, nil
}

func (v *JWKSVerifier) VerifySession(ctx context.Context, token string, opts ...VerifyOption) (*VerifiedSession, error) {
	ctx, span := v.telemetry.start(ctx, "gourdiansession.VerifySignedSession")
	defer span.End()

	session, err := v.verify(ctx, token)
	v.telemetry.finish(ctx, span, "jwks", err)
	if err != nil {
		v.logger.DebugContext(ctx, "signed session rejected", slog.String("reason", outcomeOf(err)), slog.Any("error", err))
		return nil, err
	}
	return session, nil
}

func (v *JWKSVerifier) verify(ctx context.Context, token string) (*VerifiedSession, error) {
	if dots := strings.Count(token, "."); dots != 2 {
		return nil, reject(StageReceived, fmt.Errorf("%w: expected 2 dots, got %d", ErrFormat, dots))
	}

	rawHeader, _, _ := strings.Cut(token, ".")
	headerJSON, err := decodeSegment(rawHeader)
	if err != nil {
		return nil, reject(StageReceived, err)
	}
	var header JWEHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, reject(StageReceived, fmt.Errorf("%w: header is not JSON: %v", ErrFormat, err))
	}
	if header.Alg != jwt.SigningMethodRS256.Alg() {
		return nil, reject(StageParsed, fmt.Errorf("%w: alg %q, expected RS256", ErrUnsupportedAlgorithm, header.Alg))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithJSONNumber(),
		jwt.WithTimeFunc(v.now),
	)

	parsed, err := parser.Parse(token, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return v.key(ctx, kid)
	})
	if err != nil {
		return nil, v.classify(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, reject(StageDecrypted, fmt.Errorf("%w: unexpected claims type", ErrFormat))
	}

	set := ClaimSet(claims)
	identifier, err := set.Identifier()
	if err != nil {
		return nil, reject(StagePayloadValid, err)
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}

	return &VerifiedSession{
		Claims:     set,
		Identifier: identifier,
		ExpiresAt:  expiresAt,
		KeyID:      header.Kid,
	}, nil
}

// classify maps jwt parser errors onto the session taxonomy.
func (v *JWKSVerifier) classify(err error) error {
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return reject(StageParsed, fmt.Errorf("%w: %v", ErrKeyNotFound, err))
	case errors.Is(err, jwt.ErrTokenMalformed):
		return reject(StageReceived, fmt.Errorf("%w: %v", ErrFormat, err))
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return reject(StageKeysDerived, ErrAuthentication)
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return reject(StageDecrypted, fmt.Errorf("%w: %v", ErrSessionExpired, err))
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return reject(StageParsed, fmt.Errorf("%w: %v", ErrInvalidSession, err))
	default:
		return reject(StageDecrypted, fmt.Errorf("%w: %v", ErrInvalidSession, err))
	}
}

// key returns the public key for kid, refetching when the cache is stale or
// the kid is unknown. Refetches are shared between concurrent callers and
// spaced at least minInterval apart. An empty kid matches a single-key set.
func (v *JWKSVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.lookup(kid)
	fresh := v.fresh()
	v.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if _, err, _ := v.group.Do("jwks", func() (any, error) {
		return nil, v.refresh(context.WithoutCancel(ctx))
	}); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// lookup and fresh must be called with v.mu held.
func (v *JWKSVerifier) lookup(kid string) (*rsa.PublicKey, bool) {
	if kid == "" && len(v.keys) == 1 {
		for _, key := range v.keys {
			return key, true
		}
	}
	key, ok := v.keys[kid]
	return key, ok
}

func (v *JWKSVerifier) fresh() bool {
	return !v.fetchedAt.IsZero() && v.now().Sub(v.fetchedAt) < v.ttl
}

// refresh fetches the key set unless an attempt was made within minInterval,
// in which case it reports that attempt's outcome. The HTTP request runs
// without holding v.mu.
func (v *JWKSVerifier) refresh(ctx context.Context) error {
	now := v.now()
	v.mu.RLock()
	recent := !v.attemptedAt.IsZero() && now.Sub(v.attemptedAt) < v.minInterval
	lastErr := v.attemptErr
	v.mu.RUnlock()
	if recent {
		return lastErr
	}

	keys, err := v.fetch(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.attemptedAt = now
	v.attemptErr = err
	if err != nil {
		v.logger.WarnContext(ctx, "failed to fetch JWKS", slog.String("url", v.url), slog.Any("error", err))
		return err
	}
	v.keys = keys
	v.fetchedAt = now
	v.logger.DebugContext(ctx, "fetched JWKS", slog.String("url", v.url), slog.Int("keys", len(keys)))
	return nil
}

func (v *JWKSVerifier) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS: %w", err)
	}
	if len(body) > maxJWKSBytes {
		return nil, fmt.Errorf("JWKS document exceeds %d bytes", maxJWKSBytes)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, ok := k.Public().Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		keys[k.KeyID] = pub
	}
	return keys, nil
}
