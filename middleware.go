package gourdiansession

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type contextKey int

const (
	sessionContextKey contextKey = iota
	accountContextKey
	requestIDContextKey
)

const requestIDHeader = "X-Request-ID"

// ContextWithSession returns a copy of ctx carrying session and account.
// Either may be nil.
func ContextWithSession(ctx context.Context, session *VerifiedSession, account *Account) context.Context {
	if session != nil {
		ctx = context.WithValue(ctx, sessionContextKey, session)
	}
	if account != nil {
		ctx = context.WithValue(ctx, accountContextKey, account)
	}
	return ctx
}

func SessionFromContext(ctx context.Context) (*VerifiedSession, bool) {
	s, ok := ctx.Value(sessionContextKey).(*VerifiedSession)
	return s, ok
}

func AccountFromContext(ctx context.Context) (*Account, bool) {
	a, ok := ctx.Value(accountContextKey).(*Account)
	return a, ok
}

// RequestIDFromContext returns the request ID assigned by SessionMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// SessionMiddleware binds a SessionVerifier to HTTP. Tokens are looked up in
// the session cookies first, in order, then in the Authorization header. A
// source that fails verification falls through to the next one.
type SessionMiddleware struct {
	verifier    SessionVerifier
	resolver    IdentityResolver
	cookieNames []string
	logger      *slog.Logger
}

// NewSessionMiddleware creates a middleware. resolver may be nil, in which
// case only the verified session is placed in the request context. Empty
// cookieNames selects DefaultCookieNames.
func NewSessionMiddleware(verifier SessionVerifier, resolver IdentityResolver, cookieNames []string, logger *slog.Logger) *SessionMiddleware {
	if len(cookieNames) == 0 {
		cookieNames = DefaultCookieNames
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SessionMiddleware{
		verifier:    verifier,
		resolver:    resolver,
		cookieNames: append([]string(nil), cookieNames...),
		logger:      logger,
	}
}

type tokenSource struct {
	name  string
	token string
	opts  []VerifyOption
}

func (m *SessionMiddleware) sources(r *http.Request) []tokenSource {
	var sources []tokenSource
	for _, name := range m.cookieNames {
		cookie, err := r.Cookie(name)
		if err != nil || cookie.Value == "" {
			continue
		}
		sources = append(sources, tokenSource{
			name:  "cookie:" + name,
			token: cookie.Value,
			opts:  []VerifyOption{WithSalt(name)},
		})
	}

	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		sources = append(sources, tokenSource{name: "bearer", token: token})
	}
	return sources
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate verifies the first acceptable token carried by r and resolves
// its account. It returns ErrNoToken when r carries no token at all, and the
// last failure otherwise.
func (m *SessionMiddleware) Authenticate(r *http.Request) (*VerifiedSession, *Account, error) {
	ctx := r.Context()
	sources := m.sources(r)
	if len(sources) == 0 {
		return nil, nil, ErrNoToken
	}

	var lastErr error
	for _, src := range sources {
		session, err := m.verifier.VerifySession(ctx, src.token, src.opts...)
		if err != nil {
			m.logger.DebugContext(ctx, "session source rejected",
				slog.String("source", src.name),
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("reason", outcomeOf(err)),
			)
			lastErr = err
			continue
		}

		if m.resolver == nil {
			return session, nil, nil
		}
		account, err := m.resolver.ResolveIdentity(ctx, session.Identifier)
		if err != nil {
			m.logger.DebugContext(ctx, "session identity not resolved",
				slog.String("source", src.name),
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.Any("error", err),
			)
			lastErr = err
			continue
		}
		return session, account, nil
	}
	return nil, nil, lastErr
}

func (m *SessionMiddleware) withRequestID(w http.ResponseWriter, r *http.Request) *http.Request {
	id := r.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)
	return r.WithContext(context.WithValue(r.Context(), requestIDContextKey, id))
}

// RequireSession rejects requests without a valid session with 401 and the
// generic public message.
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = m.withRequestID(w, r)

		session, account, err := m.Authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				m.logger.InfoContext(r.Context(), "unauthorized request",
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("path", r.URL.Path),
				)
			}
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session, account)))
	})
}

// OptionalSession attaches a session when one verifies and otherwise serves
// the request anonymously.
func (m *SessionMiddleware) OptionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = m.withRequestID(w, r)

		session, account, err := m.Authenticate(r)
		if err == nil {
			r = r.WithContext(ContextWithSession(r.Context(), session, account))
		}
		next.ServeHTTP(w, r)
	})
}

// MuxMiddleware adapts RequireSession for (*mux.Router).Use.
func (m *SessionMiddleware) MuxMiddleware() mux.MiddlewareFunc {
	return m.RequireSession
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": PublicMessage})
}
