package auth

import "errors"

// Authentication failures. Every one of these is a recoverable, caller-facing
// condition; the HTTP layer maps each to a stable status.
var (
	// ErrInvalidCredentials covers unknown usernames, inactive users and wrong
	// passwords alike. Callers never learn which.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrTokenMalformed is returned for input that is not a recognisable token.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenBadSignature is returned for tampered tokens or tokens signed
	// with another secret.
	ErrTokenBadSignature = errors.New("token signature invalid")

	// ErrTokenExpired is returned once the embedded expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenTypeMismatch is returned when a refresh token is presented as an
	// access token or the other way round.
	ErrTokenTypeMismatch = errors.New("token type mismatch")

	// ErrSubjectInactive is returned when the token subject no longer exists
	// or has been deactivated.
	ErrSubjectInactive = errors.New("subject inactive or missing")

	// ErrSessionNotFound is returned when no live session matches, either
	// because of logout or registry-side expiry.
	ErrSessionNotFound = errors.New("session not found")
)

// Authorisation and administration failures.
var (
	ErrAccessDenied   = errors.New("access denied")
	ErrInvalidRole    = errors.New("invalid role")
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrGrantNotFound  = errors.New("junction grant not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// ErrUnavailable wraps collaborator failures (store unreachable, corrupt row)
// so that raw driver errors never reach the caller unclassified.
var ErrUnavailable = errors.New("auth store unavailable")
