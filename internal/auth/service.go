package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// sessionHandleBytes is the entropy of a session handle (256 bits).
const sessionHandleBytes = 32

// ServiceDeps are the collaborators of a Service. Users, Sessions and Codec
// are required.
type ServiceDeps struct {
	Users    UserDirectory
	Sessions SessionRegistry
	Audit    AuditSink
	Codec    *Codec
	Logger   *slog.Logger

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now is the clock. It should match the Codec's clock.
	Now func() time.Time
}

// Service issues, verifies, refreshes and revokes credentials, and runs the
// admin operations over users and junction grants. It holds no mutable
// state of its own; every durable fact lives in the directory or registry,
// so one Service is safe for concurrent use by any number of requests.
type Service struct {
	users      UserDirectory
	sessions   SessionRegistry
	audit      AuditSink
	codec      *Codec
	logger     *slog.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

// NewService validates deps and fills in defaults.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Users == nil {
		return nil, errors.New("auth: user directory is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("auth: session registry is required")
	}
	if deps.Codec == nil {
		return nil, errors.New("auth: token codec is required")
	}

	s := &Service{
		users:      deps.Users,
		sessions:   deps.Sessions,
		audit:      deps.Audit,
		codec:      deps.Codec,
		logger:     deps.Logger,
		accessTTL:  deps.AccessTTL,
		refreshTTL: deps.RefreshTTL,
		now:        deps.Now,
	}
	if s.audit == nil {
		s.audit = NopAuditSink{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// AccessTTL returns the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Authenticate checks a username/password pair. Unknown, inactive and
// wrong-password cases all return ErrInvalidCredentials; the distinction is
// only logged. Both outcomes are audited.
func (s *Service) Authenticate(ctx context.Context, username, password string, client ClientInfo) (*User, error) {
	user, err := s.users.FindActiveByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		// Burn the same hashing cost as a real check so response timing
		// does not reveal whether the username exists.
		_, _ = VerifyPassword(password, s.dummyHash()) //nolint:errcheck // timing only
		return nil, s.loginFailed(ctx, username, client, "unknown or inactive user", 0)
	case err != nil:
		return nil, unavailable("finding user", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password digest unreadable", "user_id", user.ID, "error", err)
		return nil, s.loginFailed(ctx, username, client, "unreadable digest", user.ID)
	}
	if !ok {
		return nil, s.loginFailed(ctx, username, client, "wrong password", user.ID)
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("recording last login failed", "user_id", user.ID, "error", err)
	} else {
		t := now.UTC().Truncate(time.Second)
		user.LastLogin = &t
	}

	s.audit.Record(ctx, AuditEvent{
		ActorID:   user.ID,
		Action:    ActionLogin,
		Resource:  "auth",
		Details:   map[string]any{"username": user.Username, "user_agent": client.UserAgent},
		IPAddress: client.IPAddress,
	})
	s.logger.Info("user logged in", "user_id", user.ID, "username", user.Username, "ip", client.IPAddress)
	return user, nil
}

func (s *Service) loginFailed(ctx context.Context, username string, client ClientInfo, reason string, userID int64) error {
	s.logger.Info("login failed", "username", username, "ip", client.IPAddress, "reason", reason)
	s.audit.Record(ctx, AuditEvent{
		ActorID:   userID,
		Action:    ActionLoginFailed,
		Resource:  "auth",
		Details:   map[string]any{"username": username},
		IPAddress: client.IPAddress,
	})
	return ErrInvalidCredentials
}

func (s *Service) dummyHash() string {
	s.dummyOnce.Do(func() {
		s.dummyDigest, _ = HashPassword("atcs-timing-equaliser") //nolint:errcheck // rand failure leaves "", which still costs a parse
	})
	return s.dummyDigest
}

// Issue mints an access/refresh pair for an authenticated user and records
// a session binding a fresh handle to the refresh token. The access token
// embeds the user's junction allowlist as of this call.
func (s *Service) Issue(ctx context.Context, user *User, client ClientInfo) (*TokenPair, error) {
	junctions, err := s.users.ListJunctionIDs(ctx, user.ID)
	if err != nil {
		return nil, unavailable("listing junctions", err)
	}

	access, err := s.encodeAccess(user, junctions)
	if err != nil {
		return nil, err
	}
	refresh, err := s.codec.Encode(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject(user.ID)},
		Type:             TokenRefresh,
	}, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	handle, err := newSessionHandle()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	sess := &Session{
		Handle:    handle,
		TokenHash: HashToken(refresh),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.refreshTTL),
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		CreatedAt: now,
		LastUsed:  now,
	}
	if err := s.sessions.Insert(ctx, sess); err != nil {
		return nil, unavailable("recording session", err)
	}

	return &TokenPair{
		AccessToken:   access,
		RefreshToken:  refresh,
		SessionHandle: handle,
		TokenType:     "bearer",
		ExpiresIn:     int(s.accessTTL.Seconds()),
		User:          user.Summary(),
	}, nil
}

// Login is Authenticate followed by Issue.
func (s *Service) Login(ctx context.Context, username, password string, client ClientInfo) (*TokenPair, error) {
	user, err := s.Authenticate(ctx, username, password, client)
	if err != nil {
		return nil, err
	}
	return s.Issue(ctx, user, client)
}

// Verify validates an access token and returns the identity it carries.
// The subject must still exist and be active; the role and allowlist are
// the embedded snapshot and may be stale by up to one access-token lifetime.
func (s *Service) Verify(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.codec.Decode(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenAccess {
		return nil, fmt.Errorf("%w: got %s token", ErrTokenTypeMismatch, claims.Type)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	if _, err := s.users.FindActiveByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSubjectInactive
		}
		return nil, unavailable("checking subject", err)
	}

	junctions := claims.JunctionIDs
	if junctions == nil {
		junctions = []int64{}
	}
	return &Identity{
		UserID:      userID,
		Username:    claims.Username,
		Role:        claims.Role,
		JunctionIDs: junctions,
		Claims:      claims,
	}, nil
}

// Refresh exchanges a refresh token for a new access token carrying a
// freshly read allowlist. The refresh token itself is not rotated; it stays
// valid until its own expiry or logout.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AccessToken, error) {
	claims, err := s.codec.Decode(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenRefresh {
		return nil, fmt.Errorf("%w: got %s token", ErrTokenTypeMismatch, claims.Type)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess, err := s.sessions.FindByRefreshToken(ctx, refreshToken, userID, now)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, unavailable("finding session", err)
	}

	user, err := s.users.FindActiveByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSubjectInactive
		}
		return nil, unavailable("checking subject", err)
	}
	junctions, err := s.users.ListJunctionIDs(ctx, userID)
	if err != nil {
		return nil, unavailable("listing junctions", err)
	}

	access, err := s.encodeAccess(user, junctions)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.TouchLastUsed(ctx, sess.Handle, now); err != nil {
		s.logger.Warn("touching session failed", "user_id", userID, "error", err)
	}

	return &AccessToken{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int(s.accessTTL.Seconds()),
	}, nil
}

// Logout deletes the session behind handle, which stops further refreshes.
// Only the session's owner or an ADMIN may end it; any other caller, nil
// included, gets ErrSessionNotFound so a foreign handle looks the same as
// an unknown one.
// Access tokens already issued in that session stay valid until they expire.
func (s *Service) Logout(ctx context.Context, caller *Identity, handle string, client ClientInfo) error {
	if handle == "" || caller == nil {
		return ErrSessionNotFound
	}
	sess, err := s.sessions.FindByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return unavailable("finding session", err)
	}
	if sess.UserID != caller.UserID && caller.Role != RoleAdmin {
		return ErrSessionNotFound
	}

	if _, err := s.sessions.DeleteByHandle(ctx, handle); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return unavailable("deleting session", err)
	}

	event := AuditEvent{
		ActorID:   caller.UserID,
		Action:    ActionLogout,
		Resource:  "auth",
		IPAddress: client.IPAddress,
	}
	if sess.UserID != caller.UserID {
		event.Resource = userResource(sess.UserID)
	}
	s.audit.Record(ctx, event)
	s.logger.Info("user logged out", "user_id", sess.UserID, "by", caller.UserID)
	return nil
}

// PurgeExpiredSessions removes sessions whose registry-side expiry has passed.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, unavailable("purging sessions", err)
	}
	return n, nil
}

func (s *Service) encodeAccess(user *User, junctions []int64) (string, error) {
	return s.codec.Encode(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject(user.ID)},
		Type:             TokenAccess,
		Username:         user.Username,
		Role:             user.Role,
		JunctionIDs:      junctions,
	}, s.accessTTL)
}

func subject(id int64) string {
	return strconv.FormatInt(id, 10)
}

func newSessionHandle() (string, error) {
	b := make([]byte, sessionHandleBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session handle: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// unavailable classifies a collaborator failure without exposing the raw
// driver error through errors.Is/As.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err) //nolint:errorlint // cause deliberately not wrapped
}
