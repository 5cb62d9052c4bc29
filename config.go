package gourdiansession

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCookieNames lists the session cookie names in lookup order.
var DefaultCookieNames = []string{
	"authjs.session-token",
	"__Secure-authjs.session-token",
	"next-auth.session-token",
	"__Secure-next-auth.session-token",
}

// GourdianSessionConfig holds the configuration for session token verification.
//
// Fields:
//   - Secret: Shared secret, 64 hex characters or any UTF-8 string
//   - Scheme: Key derivation scheme (SchemeNextAuth or SchemeAuthJS)
//   - Salt: Default salt for SchemeAuthJS, used when the caller supplies none
//   - Profiles: Accepted content-encryption profiles
//   - CookieNames: Session cookie names, in lookup order
//   - FallbackEnabled: Retry once with the repeated raw secret after a tag mismatch
//   - ExpiryFailClosed: Reject sessions whose expires claim cannot be parsed
//   - CheckNumericExp: Also enforce the numeric exp claim
//   - RevocationEnabled: Consult the revocation repository on every verification
//   - RevocationTTL: How long a revoked session without expiry stays revoked
//   - Logger: Structured logger; discards output when nil
//   - Clock: Time source; time.Now when nil
//   - TracerProvider, MeterProvider: OpenTelemetry providers; globals when nil
type GourdianSessionConfig struct {
	Secret            string
	Scheme            DerivationScheme
	Salt              string
	Profiles          []EncryptionProfile
	CookieNames       []string
	FallbackEnabled   bool
	ExpiryFailClosed  bool
	CheckNumericExp   bool
	RevocationEnabled bool
	RevocationTTL     time.Duration
	Logger            *slog.Logger
	Clock             func() time.Time
	TracerProvider    trace.TracerProvider
	MeterProvider     metric.MeterProvider
}

// DefaultGourdianSessionConfig returns the configuration matching the
// identity provider's defaults for the given secret.
func DefaultGourdianSessionConfig(secret string) GourdianSessionConfig {
	return GourdianSessionConfig{
		Secret:          secret,
		Scheme:          SchemeNextAuth,
		Salt:            DefaultSalt,
		Profiles:        []EncryptionProfile{ProfileA256CBCHS512, ProfileA256GCM},
		CookieNames:     append([]string(nil), DefaultCookieNames...),
		FallbackEnabled: true,
		CheckNumericExp: true,
		RevocationTTL:   30 * 24 * time.Hour,
	}
}

type envConfig struct {
	Secret            string        `env:"AUTH_SECRET"`
	Scheme            string        `env:"AUTH_SESSION_SCHEME" envDefault:"nextauth"`
	Salt              string        `env:"AUTH_SESSION_SALT" envDefault:"authjs.session-token"`
	Profiles          []string      `env:"AUTH_SESSION_PROFILES" envSeparator:"," envDefault:"A256CBC-HS512,A256GCM"`
	CookieNames       []string      `env:"AUTH_SESSION_COOKIES" envSeparator:","`
	FallbackEnabled   bool          `env:"AUTH_SESSION_FALLBACK" envDefault:"true"`
	ExpiryFailClosed  bool          `env:"AUTH_EXPIRY_FAIL_CLOSED" envDefault:"false"`
	CheckNumericExp   bool          `env:"AUTH_SESSION_CHECK_EXP" envDefault:"true"`
	RevocationEnabled bool          `env:"AUTH_SESSION_REVOCATION" envDefault:"false"`
	RevocationTTL     time.Duration `env:"AUTH_SESSION_REVOCATION_TTL" envDefault:"720h"`
	Debug             bool          `env:"AUTH_DEBUG"`
}

// LoadGourdianSessionConfigFromEnv reads the configuration from the process
// environment. A missing AUTH_SECRET returns ErrMissingSecret and should stop
// the process.
func LoadGourdianSessionConfigFromEnv() (GourdianSessionConfig, error) {
	return loadConfig(env.Options{})
}

// LoadGourdianSessionConfigFromMap is LoadGourdianSessionConfigFromEnv over an
// explicit variable map.
func LoadGourdianSessionConfigFromMap(vars map[string]string) (GourdianSessionConfig, error) {
	return loadConfig(env.Options{Environment: vars})
}

func loadConfig(opts env.Options) (GourdianSessionConfig, error) {
	var raw envConfig
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return GourdianSessionConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(raw.Secret) == "" {
		return GourdianSessionConfig{}, ErrMissingSecret
	}

	config := DefaultGourdianSessionConfig(raw.Secret)
	config.Scheme = DerivationScheme(raw.Scheme)
	config.Salt = raw.Salt
	config.Profiles = config.Profiles[:0]
	for _, p := range raw.Profiles {
		config.Profiles = append(config.Profiles, EncryptionProfile(strings.TrimSpace(p)))
	}
	if len(raw.CookieNames) > 0 {
		config.CookieNames = config.CookieNames[:0]
		for _, name := range raw.CookieNames {
			config.CookieNames = append(config.CookieNames, strings.TrimSpace(name))
		}
	}
	config.FallbackEnabled = raw.FallbackEnabled
	config.ExpiryFailClosed = raw.ExpiryFailClosed
	config.CheckNumericExp = raw.CheckNumericExp
	config.RevocationEnabled = raw.RevocationEnabled
	config.RevocationTTL = raw.RevocationTTL

	level := slog.LevelInfo
	if raw.Debug {
		level = slog.LevelDebug
	}
	config.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := validateConfig(&config); err != nil {
		return GourdianSessionConfig{}, err
	}
	return config, nil
}

func validateConfig(config *GourdianSessionConfig) error {
	if config.Secret == "" {
		return ErrMissingSecret
	}

	switch config.Scheme {
	case SchemeNextAuth:
	case SchemeAuthJS:
		if config.Salt == "" {
			return fmt.Errorf("%w: salted scheme requires a salt", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported derivation scheme %q, supports %s and %s", ErrInvalidConfig, config.Scheme, SchemeNextAuth, SchemeAuthJS)
	}

	if len(config.Profiles) == 0 {
		return fmt.Errorf("%w: at least one encryption profile is required", ErrInvalidConfig)
	}
	for _, p := range config.Profiles {
		if !p.Supported() {
			return fmt.Errorf("%w: %q", ErrUnsupportedProfile, string(p))
		}
	}

	for _, name := range config.CookieNames {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: cookie names cannot be empty", ErrInvalidConfig)
		}
	}

	if config.RevocationTTL < 0 {
		return fmt.Errorf("%w: revocation TTL cannot be negative", ErrInvalidConfig)
	}
	return nil
}

func (c *GourdianSessionConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c *GourdianSessionConfig) clock() func() time.Time {
	if c.Clock != nil {
		return c.Clock
	}
	return time.Now
}
