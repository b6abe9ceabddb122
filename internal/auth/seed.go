package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// seedPasswordBytes is the entropy of the generated bootstrap password.
const seedPasswordBytes = 16

// SeedAdmin creates the first ADMIN account when the directory is empty and
// returns its generated password. On later boots it does nothing and
// returns "". The password is logged once at Warn level and must be changed.
func (s *Service) SeedAdmin(ctx context.Context, username string) (string, error) {
	if username == "" {
		username = "admin"
	}
	count, err := s.users.Count(ctx)
	if err != nil {
		return "", unavailable("counting users", err)
	}
	if count > 0 {
		s.logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	raw := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(raw)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username:     username,
		FullName:     "System Administrator",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	s.logger.Warn("seed admin account created",
		"username", username,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}
