package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates access tokens from refresh tokens.
type TokenType string

// Token types.
const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// MinSecretLength is the shortest HS256 signing secret accepted.
const MinSecretLength = 32

// Claims is the signed payload of both token types. Access tokens carry the
// username, role and junction allowlist snapshot; refresh tokens carry only
// the subject and type.
type Claims struct {
	jwt.RegisteredClaims
	Type        TokenType `json:"type"`
	Username    string    `json:"username,omitempty"`
	Role        Role      `json:"role,omitempty"`
	JunctionIDs []int64   `json:"junction_ids,omitempty"`
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q", ErrTokenMalformed, c.Subject)
	}
	return id, nil
}

// Codec signs and verifies tokens with a shared HS256 secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for iat/exp and for expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec returns a Codec for secret, which must be at least MinSecretLength bytes.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	c := &Codec{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode signs claims with an expiry ttl from now. IssuedAt, ExpiresAt and
// a unique token id are filled in; the caller supplies Subject and Type.
func (c *Codec) Encode(claims Claims, ttl time.Duration) (string, error) {
	if claims.Type != TokenAccess && claims.Type != TokenRefresh {
		return "", fmt.Errorf("encoding token: unknown type %q", claims.Type)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("encoding token: non-positive ttl %s", ttl)
	}

	now := c.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// Decode verifies the signature and expiry of raw and returns its claims.
// Failures are ErrTokenMalformed, ErrTokenBadSignature or ErrTokenExpired;
// whether the subject exists is not checked here.
func (c *Codec) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	if claims.Type != TokenAccess && claims.Type != TokenRefresh {
		return nil, fmt.Errorf("%w: type %q", ErrTokenMalformed, claims.Type)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrTokenBadSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}
