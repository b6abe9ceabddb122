package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteUserDirectory implements UserDirectory over the users and
// user_junctions tables.
type SQLiteUserDirectory struct {
	db *sql.DB
}

// NewUserDirectory returns a UserDirectory backed by db.
func NewUserDirectory(db *sql.DB) *SQLiteUserDirectory {
	return &SQLiteUserDirectory{db: db}
}

const userColumns = `id, username, full_name, email, password_hash, role, is_active, last_login, created_at, updated_at`

// Create inserts user and sets its ID. Username uniqueness is enforced by
// the table; a clash returns ErrUsernameExists.
func (r *SQLiteUserDirectory) Create(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	user.UpdatedAt = user.CreatedAt

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, full_name, email, password_hash, role, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Username, user.FullName, nullString(user.Email), user.PasswordHash,
		user.Role.String(), boolToInt(user.IsActive),
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	user.ID = id
	return nil
}

// FindActiveByUsername matches username exactly (case-sensitive).
func (r *SQLiteUserDirectory) FindActiveByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ? AND is_active = 1", username)
}

// FindActiveByID returns the user only while it is active.
func (r *SQLiteUserDirectory) FindActiveByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ? AND is_active = 1", id)
}

// GetByID returns the user whether or not it is active.
func (r *SQLiteUserDirectory) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// List returns one page of users ordered by id, and the total count.
func (r *SQLiteUserDirectory) List(ctx context.Context, limit, offset int) ([]User, int, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating users: %w", err)
	}
	return users, total, nil
}

// Count returns the number of user rows, active or not.
func (r *SQLiteUserDirectory) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// Update writes the mutable profile fields: full name, email, role and active flag.
func (r *SQLiteUserDirectory) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	return r.execOne(ctx, "updating user",
		`UPDATE users SET full_name = ?, email = ?, role = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		user.FullName, nullString(user.Email), user.Role.String(), boolToInt(user.IsActive),
		formatTime(user.UpdatedAt), user.ID)
}

// UpdatePasswordHash replaces the stored digest.
func (r *SQLiteUserDirectory) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return r.execOne(ctx, "updating password",
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		hash, formatTime(time.Now()), id)
}

// SetActive flips the active flag.
func (r *SQLiteUserDirectory) SetActive(ctx context.Context, id int64, active bool) error {
	return r.execOne(ctx, "setting active flag",
		"UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), formatTime(time.Now()), id)
}

// TouchLastLogin records a successful login.
func (r *SQLiteUserDirectory) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, "touching last login",
		"UPDATE users SET last_login = ? WHERE id = ?", formatTime(at), id)
}

// execOne runs a single-row UPDATE and maps "no rows" to ErrUserNotFound.
func (r *SQLiteUserDirectory) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLiteUserDirectory) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var (
		u                    User
		email, lastLogin     sql.NullString
		role                 string
		isActive             int
		createdAt, updatedAt string
	)
	err := s.Scan(&u.ID, &u.Username, &u.FullName, &email, &u.PasswordHash,
		&role, &isActive, &lastLogin, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if u.Role, err = ParseRole(role); err != nil {
		return nil, fmt.Errorf("user %d: %w", u.ID, err)
	}
	u.IsActive = isActive != 0
	u.Email = email.String
	if lastLogin.Valid {
		t := parseTime(lastLogin.String)
		u.LastLogin = &t
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// Timestamps are stored as RFC 3339 UTC text, which sorts lexically.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
