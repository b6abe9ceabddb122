package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Paging limits for ListUsers.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// NewUser is the input to CreateUser.
type NewUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role"`
}

// UserUpdate changes only the fields that are non-nil.
type UserUpdate struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Role     *Role   `json:"role,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// UserPage is one page of ListUsers.
type UserPage struct {
	Users  []User `json:"users"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

func validatePassword(p string) error {
	if len(p) < MinPasswordLength || len(p) > MaxPasswordLength {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidInput, MinPasswordLength, MaxPasswordLength)
	}
	return nil
}

// CreateUser provisions an account. Users never self-register; this is the
// only way an account comes into existence besides the first-boot seed.
func (s *Service) CreateUser(ctx context.Context, actor Actor, in NewUser) (*User, error) {
	if !ValidUsername(in.Username) {
		return nil, fmt.Errorf("%w: username must be 3-64 characters of letters, digits, '.', '_' or '-'", ErrInvalidInput)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, in.Role)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:     in.Username,
		FullName:     strings.TrimSpace(in.FullName),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUsernameExists) {
			return nil, ErrUsernameExists
		}
		return nil, unavailable("creating user", err)
	}

	s.audit.Record(ctx, AuditEvent{
		ActorID:   actor.UserID,
		Action:    ActionCreateUser,
		Resource:  userResource(user.ID),
		Details:   map[string]any{"username": user.Username, "role": user.Role.String()},
		IPAddress: actor.IPAddress,
	})
	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role.String(), "by", actor.UserID)
	return user, nil
}

// UpdateUser applies a partial update. Deactivating through an update also
// drops the user's sessions, same as Deactivate.
func (s *Service) UpdateUser(ctx context.Context, actor Actor, id int64, upd UserUpdate) (*User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := map[string]any{}
	if upd.FullName != nil {
		user.FullName = strings.TrimSpace(*upd.FullName)
		changed["full_name"] = user.FullName
	}
	if upd.Email != nil {
		user.Email = strings.TrimSpace(*upd.Email)
		changed["email"] = user.Email
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRole, *upd.Role)
		}
		user.Role = *upd.Role
		changed["role"] = user.Role.String()
	}
	deactivating := false
	if upd.IsActive != nil {
		if !*upd.IsActive && actor.UserID == id {
			return nil, fmt.Errorf("%w: cannot deactivate yourself", ErrInvalidInput)
		}
		deactivating = user.IsActive && !*upd.IsActive
		user.IsActive = *upd.IsActive
		changed["is_active"] = user.IsActive
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable("updating user", err)
	}
	if deactivating {
		s.dropSessions(ctx, id)
	}

	s.audit.Record(ctx, AuditEvent{
		ActorID:   actor.UserID,
		Action:    ActionUpdateUser,
		Resource:  userResource(id),
		Details:   changed,
		IPAddress: actor.IPAddress,
	})
	return user, nil
}

// SetPassword replaces a user's password. There is no self-service path.
func (s *Service) SetPassword(ctx context.Context, actor Actor, id int64, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, id, hash); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return unavailable("updating password", err)
	}

	s.audit.Record(ctx, AuditEvent{
		ActorID:   actor.UserID,
		Action:    ActionChangePassword,
		Resource:  userResource(id),
		IPAddress: actor.IPAddress,
	})
	return nil
}

// Deactivate marks a user inactive and deletes their sessions. Their access
// tokens fail Verify from the next request onwards.
func (s *Service) Deactivate(ctx context.Context, actor Actor, id int64) error {
	if actor.UserID == id {
		return fmt.Errorf("%w: cannot deactivate yourself", ErrInvalidInput)
	}
	if err := s.users.SetActive(ctx, id, false); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return unavailable("deactivating user", err)
	}
	s.dropSessions(ctx, id)

	s.audit.Record(ctx, AuditEvent{
		ActorID:   actor.UserID,
		Action:    ActionDeactivateUser,
		Resource:  userResource(id),
		IPAddress: actor.IPAddress,
	})
	s.logger.Info("user deactivated", "user_id", id, "by", actor.UserID)
	return nil
}

func (s *Service) dropSessions(ctx context.Context, userID int64) {
	n, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		// Refresh re-checks the active flag, so stale sessions cannot be used.
		s.logger.Warn("deleting sessions of deactivated user failed", "user_id", userID, "error", err)
		return
	}
	s.logger.Debug("sessions deleted", "user_id", userID, "count", n)
}

// GetUser returns a user regardless of active state.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable("finding user", err)
	}
	return user, nil
}

// ListUsers pages through all users. limit defaults to DefaultPageSize and
// is capped at MaxPageSize.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) (*UserPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	offset = max(offset, 0)

	users, total, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, unavailable("listing users", err)
	}
	return &UserPage{Users: users, Total: total, Limit: limit, Offset: offset}, nil
}
