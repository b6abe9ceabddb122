package auth

import (
	"context"
	"time"
)

// UserDirectory looks up and mutates user records and junction grants.
//
// Lookups return ErrUserNotFound when no matching row exists. The Active
// variants treat inactive users as absent.
type UserDirectory interface {
	FindActiveByUsername(ctx context.Context, username string) (*User, error)
	FindActiveByID(ctx context.Context, id int64) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	List(ctx context.Context, limit, offset int) ([]User, int, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	SetActive(ctx context.Context, id int64, active bool) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error

	// ListJunctionIDs returns the ids of every junction granted to the user,
	// ascending. An empty allowlist is an empty, non-nil slice.
	ListJunctionIDs(ctx context.Context, userID int64) ([]int64, error)
	ListGrants(ctx context.Context, userID int64) ([]Grant, error)

	// UpsertGrant inserts a grant or overwrites the level of the existing
	// one for the same (user, junction). It must be atomic in the store.
	UpsertGrant(ctx context.Context, grant Grant) error

	// DeleteGrant returns ErrGrantNotFound when there is nothing to delete.
	DeleteGrant(ctx context.Context, userID, junctionID int64) error
}

// SessionRegistry stores refresh sessions. A session has two lookup keys,
// its handle and the hash of its refresh token, and both must resolve to
// the same record: deleting by handle makes the token lookup fail too.
type SessionRegistry interface {
	Insert(ctx context.Context, s *Session) error

	// FindByRefreshToken hashes refreshToken and returns the session owned by
	// userID whose expiry is not before now, or ErrSessionNotFound.
	FindByRefreshToken(ctx context.Context, refreshToken string, userID int64, now time.Time) (*Session, error)

	// FindByHandle returns the session named by handle, or ErrSessionNotFound.
	FindByHandle(ctx context.Context, handle string) (*Session, error)

	// DeleteByHandle removes the session and returns it, or ErrSessionNotFound.
	DeleteByHandle(ctx context.Context, handle string) (*Session, error)
	DeleteByUser(ctx context.Context, userID int64) (int, error)
	TouchLastUsed(ctx context.Context, handle string, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditSink records security-relevant actions. Record must not fail the
// caller; implementations log and swallow their own errors.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// NopAuditSink discards every event.
type NopAuditSink struct{}

// Record implements AuditSink.
func (NopAuditSink) Record(context.Context, AuditEvent) {}
