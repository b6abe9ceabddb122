package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// HashToken returns the hex SHA-256 of a raw refresh token. Only hashes are
// persisted, so a leaked session table does not leak usable tokens.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// SQLiteSessionRegistry implements SessionRegistry over user_sessions. The
// handle is the primary key and token_hash carries a unique index, so both
// lookup paths address the same row.
type SQLiteSessionRegistry struct {
	db *sql.DB
}

// NewSessionRegistry returns a SessionRegistry backed by db.
func NewSessionRegistry(db *sql.DB) *SQLiteSessionRegistry {
	return &SQLiteSessionRegistry{db: db}
}

const sessionColumns = `handle, token_hash, user_id, expires_at, ip_address, user_agent, created_at, last_used`

// Insert stores a new session.
func (r *SQLiteSessionRegistry) Insert(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Handle, s.TokenHash, s.UserID, formatTime(s.ExpiresAt),
		nullString(s.IPAddress), nullString(s.UserAgent),
		formatTime(s.CreatedAt), formatTime(s.LastUsed),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// FindByRefreshToken looks the session up by token hash, owner and expiry.
func (r *SQLiteSessionRegistry) FindByRefreshToken(ctx context.Context, refreshToken string, userID int64, now time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions
		 WHERE token_hash = ? AND user_id = ? AND expires_at >= ?`,
		HashToken(refreshToken), userID, formatTime(now))
	return scanSession(row)
}

// FindByHandle returns the session named by handle.
func (r *SQLiteSessionRegistry) FindByHandle(ctx context.Context, handle string) (*Session, error) {
	return scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE handle = ?`, handle))
}

// DeleteByHandle removes the session and returns what was deleted.
func (r *SQLiteSessionRegistry) DeleteByHandle(ctx context.Context, handle string) (*Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	s, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE handle = ?`, handle))
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM user_sessions WHERE handle = ?", handle); err != nil {
		return nil, fmt.Errorf("deleting session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing session delete: %w", err)
	}
	return s, nil
}

// DeleteByUser removes every session the user owns.
func (r *SQLiteSessionRegistry) DeleteByUser(ctx context.Context, userID int64) (int, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM user_sessions WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports
	return int(n), nil
}

// TouchLastUsed updates last_used. Concurrent refreshes race here and the
// last writer wins; the column is informational only.
func (r *SQLiteSessionRegistry) TouchLastUsed(ctx context.Context, handle string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE user_sessions SET last_used = ? WHERE handle = ?", formatTime(at), handle)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports
		return ErrSessionNotFound
	}
	return nil
}

// DeleteExpired purges sessions whose expiry is before now.
func (r *SQLiteSessionRegistry) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM user_sessions WHERE expires_at < ?", formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite always reports
	return int(n), nil
}

func scanSession(s scanner) (*Session, error) {
	var (
		sess                           Session
		ip, agent                      sql.NullString
		expiresAt, createdAt, lastUsed string
	)
	err := s.Scan(&sess.Handle, &sess.TokenHash, &sess.UserID, &expiresAt,
		&ip, &agent, &createdAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.IPAddress = ip.String
	sess.UserAgent = agent.String
	sess.ExpiresAt = parseTime(expiresAt)
	sess.CreatedAt = parseTime(createdAt)
	sess.LastUsed = parseTime(lastUsed)
	return &sess, nil
}
