// docs.go

// Package gourdiansession verifies encrypted session tokens issued by a
// NextAuth.js / Auth.js identity provider and binds them to HTTP handlers.
//
// Tokens are JWE compact serializations using direct key management ("dir")
// and one of two content-encryption profiles. The package only decrypts; it
// never issues tokens.
//
// # Overview
//
// The package provides:
// - HKDF-SHA256 key derivation from one shared secret (AUTH_SECRET)
// - A256CBC-HS512 and A256GCM authenticated decryption
// - Expiry evaluation for both the ISO-8601 "expires" and numeric "exp" claims
// - Identity extraction (user.email, then email, then sub)
// - A single A256CBC-HS512 fallback key set for secrets used verbatim by older providers
// - Session revocation backed by Redis or memory
// - HTTP middleware reading session cookies and bearer tokens
// - An optional RS256/JWKS verifier for signed tokens
//
// ## Verification Stages
// Every token moves through received, parsed, keys_derived, decrypted,
// payload_valid and accepted. A rejection is returned as a *SessionError that
// names the last stage reached and wraps one of the sentinel errors
// (ErrFormat, ErrUnsupportedAlgorithm, ErrAuthentication, ErrSessionExpired,
// ErrMissingIdentity, ErrInvalidSession, ErrSessionRevoked).
//
// Callers must not surface these distinctions to clients. PublicMessage is the
// only text meant for the transport boundary.
//
// ## Derivation Schemes
// - SchemeNextAuth: IKM is the hex-decoded secret (or its UTF-8 bytes), no
//   salt, info "NextAuth.js Generated Encryption Key"
// - SchemeAuthJS: IKM is the UTF-8 secret, salt is the cookie name, info
//   "Auth.js Generated Encryption Key (<salt>)"
//
// # Usage Example
//
//	config, err := gourdiansession.LoadGourdianSessionConfigFromEnv()
//	if err != nil {
//	    log.Fatal("Failed to load session config:", err)
//	}
//
//	verifier, err := gourdiansession.NewGourdianSessionVerifier(context.Background(), config, nil)
//	if err != nil {
//	    log.Fatal("Failed to create session verifier:", err)
//	}
//
//	session, err := verifier.VerifySession(ctx, token)
//	if err != nil {
//	    http.Error(w, gourdiansession.PublicMessage, http.StatusUnauthorized)
//	    return
//	}
//	log.Println("authenticated", session.Identifier)
//
//	// Or protect a router
//	mw := gourdiansession.NewSessionMiddleware(verifier, resolver, nil, logger)
//	router.Use(mw.MuxMiddleware())
//
// # Security Considerations
//
// - The MAC is verified before any decryption or padding removal
// - Padding and tag failures return the same error
// - Key material, the secret, payload values and tokens are never logged;
//   only truncated SHA-256 fingerprints are
// - An unparsable "expires" value is accepted unless ExpiryFailClosed is set
//
// # Dependencies
//
// - golang.org/x/crypto/hkdf - key derivation
// - github.com/redis/go-redis/v9 - revocation and flag storage (optional)
// - modernc.org/sqlite - account lookup (optional)
// - github.com/go-jose/go-jose/v4, github.com/golang-jwt/jwt/v5 - JWKS strategy
// - go.opentelemetry.io/otel - spans and outcome counters
package gourdiansession
