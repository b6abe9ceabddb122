package auth

import (
	"regexp"
	"time"
)

// User is an admin-provisioned account.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Summary returns the trimmed projection handed to clients after login.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, FullName: u.FullName, Role: u.Role}
}

// UserSummary is the client-display projection of a user.
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// Grant gives a user access to one junction at a given level.
// There is at most one grant per (UserID, JunctionID).
type Grant struct {
	UserID     int64     `json:"user_id"`
	JunctionID int64     `json:"junction_id"`
	Level      Role      `json:"access_level"`
	GrantedBy  int64     `json:"granted_by,omitempty"`
	GrantedAt  time.Time `json:"granted_at"`
}

// Session is the server-side record of an issued refresh token. It is
// reachable both by Handle (logout) and by TokenHash (refresh).
type Session struct {
	Handle    string
	TokenHash string
	UserID    int64
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	LastUsed  time.Time
}

// ClientInfo is the request metadata recorded with a session and in audit entries.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	AccessToken   string      `json:"access_token"`
	RefreshToken  string      `json:"refresh_token"`
	SessionHandle string      `json:"session_token"`
	TokenType     string      `json:"token_type"`
	ExpiresIn     int         `json:"expires_in"`
	User          UserSummary `json:"user"`
}

// AccessToken is the result of a refresh.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Identity is the authenticated caller reconstructed from an access token.
// Role and JunctionIDs are the values embedded at issuance, not a live read.
type Identity struct {
	UserID      int64   `json:"user_id"`
	Username    string  `json:"username"`
	Role        Role    `json:"role"`
	JunctionIDs []int64 `json:"junction_ids"`
	Claims      *Claims `json:"-"`
}

// Audit actions.
const (
	ActionLogin          = "LOGIN"
	ActionLoginFailed    = "LOGIN_FAILED"
	ActionLogout         = "LOGOUT"
	ActionGrantAccess    = "GRANT_ACCESS"
	ActionRevokeAccess   = "REVOKE_ACCESS"
	ActionCreateUser     = "CREATE_USER"
	ActionUpdateUser     = "UPDATE_USER"
	ActionChangePassword = "CHANGE_PASSWORD"
	ActionDeactivateUser = "DEACTIVATE_USER"
)

// AuditEvent is one security-relevant action. Zero ActorID or JunctionID
// means "not applicable".
type AuditEvent struct {
	ActorID    int64
	JunctionID int64
	Action     string
	Resource   string
	Details    map[string]any
	IPAddress  string
}

// BulkResult counts the outcome of a non-atomic bulk grant or revoke.
type BulkResult struct {
	Succeeded int `json:"successful"`
	Failed    int `json:"failed"`
}

// Input validation.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

// ValidUsername reports whether s is an acceptable username.
func ValidUsername(s string) bool {
	return usernamePattern.MatchString(s)
}

// Actor identifies who performs an administrative operation, for auditing.
type Actor struct {
	UserID    int64
	IPAddress string
}
