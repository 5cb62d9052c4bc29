package gourdiansession

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat reports a malformed token: bad base64url, wrong segment count or bad JSON.
	ErrFormat = errors.New("malformed session token")
	// ErrUnsupportedAlgorithm reports an unexpected alg or enc header value.
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")
	// ErrUnsupportedProfile reports a key derivation request for an unknown encryption profile.
	ErrUnsupportedProfile = errors.New("unsupported encryption profile")
	// ErrAuthentication reports a tag mismatch or a padding failure. The two are
	// deliberately indistinguishable.
	ErrAuthentication = errors.New("token authentication failed")
	// ErrSessionExpired reports a session whose expiry is not after the current time.
	ErrSessionExpired = errors.New("session expired")
	// ErrMissingIdentity reports a payload without user.email, email or sub.
	ErrMissingIdentity = errors.New("session payload has no identity")
	// ErrInvalidSession is the generic failure returned once every key set has been tried.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionRevoked reports a token recorded in the revocation repository.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrAccountNotFound reports an identifier with no matching account.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidConfig reports a configuration rejected by validation.
	ErrInvalidConfig = errors.New("invalid session config")
	// ErrMissingSecret reports that no shared secret was supplied at startup.
	ErrMissingSecret = errors.New("AUTH_SECRET is required")
	// ErrNoToken reports a request that carried no session cookie or bearer token.
	ErrNoToken = errors.New("no session token")
	// ErrKeyNotFound reports a JWKS lookup for an unknown kid.
	ErrKeyNotFound = errors.New("signing key not found")
)

// PublicMessage is the only text that may cross the transport boundary for any
// verification failure.
const PublicMessage = "Invalid or expired session"

// SessionStage identifies a step of the verification state machine.
type SessionStage string

const (
	StageReceived     SessionStage = "received"
	StageParsed       SessionStage = "parsed"
	StageKeysDerived  SessionStage = "keys_derived"
	StageDecrypted    SessionStage = "decrypted"
	StagePayloadValid SessionStage = "payload_valid"
	StageAccepted     SessionStage = "accepted"
)

// SessionError records the stage at which a token was rejected.
type SessionError struct {
	Stage SessionStage
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session rejected at %s: %v", e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func reject(stage SessionStage, err error) error {
	return &SessionError{Stage: stage, Err: err}
}

// RejectedStage returns the stage recorded on err, if any.
func RejectedStage(err error) (SessionStage, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
