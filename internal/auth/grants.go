package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Grant gives userID access to junctionID at level, overwriting the level of
// an existing grant for the same pair. Only OPERATOR and OBSERVER are
// grantable. Existing access tokens are unaffected until refreshed.
func (s *Service) Grant(ctx context.Context, actor Actor, userID, junctionID int64, level Role) error {
	if !level.ValidGrantLevel() {
		return fmt.Errorf("%w: %s is not a grantable level", ErrInvalidRole, level)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return unavailable("finding user", err)
	}

	err := s.users.UpsertGrant(ctx, Grant{
		UserID:     userID,
		JunctionID: junctionID,
		Level:      level,
		GrantedBy:  actor.UserID,
		GrantedAt:  s.now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return unavailable("granting access", err)
	}

	s.audit.Record(ctx, AuditEvent{
		ActorID:    actor.UserID,
		JunctionID: junctionID,
		Action:     ActionGrantAccess,
		Resource:   userResource(userID),
		Details:    map[string]any{"access_level": level.String()},
		IPAddress:  actor.IPAddress,
	})
	return nil
}

// Revoke removes userID's grant for junctionID. Every attempt is audited; a
// missing grant is recorded with result not_found and returns ErrGrantNotFound.
func (s *Service) Revoke(ctx context.Context, actor Actor, userID, junctionID int64) error {
	err := s.users.DeleteGrant(ctx, userID, junctionID)
	if err != nil && !errors.Is(err, ErrGrantNotFound) {
		return unavailable("revoking access", err)
	}

	event := AuditEvent{
		ActorID:    actor.UserID,
		JunctionID: junctionID,
		Action:     ActionRevokeAccess,
		Resource:   userResource(userID),
		IPAddress:  actor.IPAddress,
	}
	if err != nil {
		event.Details = map[string]any{"result": "not_found"}
	}
	s.audit.Record(ctx, event)

	if err != nil {
		return ErrGrantNotFound
	}
	return nil
}

// BulkGrant applies Grant to each junction independently. It is not atomic:
// failures are counted and the remaining junctions are still processed. An
// ungrantable level fails the whole call before anything is applied.
func (s *Service) BulkGrant(ctx context.Context, actor Actor, userID int64, junctionIDs []int64, level Role) (BulkResult, error) {
	if !level.ValidGrantLevel() {
		return BulkResult{}, fmt.Errorf("%w: %s is not a grantable level", ErrInvalidRole, level)
	}
	var res BulkResult
	for _, j := range junctionIDs {
		if err := s.Grant(ctx, actor, userID, j, level); err != nil {
			s.logger.Warn("bulk grant item failed", "user_id", userID, "junction_id", j, "error", err)
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// BulkRevoke applies Revoke to each junction independently, counting
// missing grants as failures.
func (s *Service) BulkRevoke(ctx context.Context, actor Actor, userID int64, junctionIDs []int64) BulkResult {
	var res BulkResult
	for _, j := range junctionIDs {
		if err := s.Revoke(ctx, actor, userID, j); err != nil {
			if !errors.Is(err, ErrGrantNotFound) {
				s.logger.Warn("bulk revoke item failed", "user_id", userID, "junction_id", j, "error", err)
			}
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	return res
}

// ListGrants returns the stored grants of a user.
func (s *Service) ListGrants(ctx context.Context, userID int64) ([]Grant, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable("finding user", err)
	}
	grants, err := s.users.ListGrants(ctx, userID)
	if err != nil {
		return nil, unavailable("listing grants", err)
	}
	return grants, nil
}

func userResource(id int64) string {
	return "user_" + strconv.FormatInt(id, 10)
}
