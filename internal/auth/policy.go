package auth

import (
	"fmt"
	"slices"
)

// The access policy is a pure function of an Identity. It never consults the
// directory: the allowlist is the snapshot embedded in the access token.

// CanAccessResource reports whether id may access junctionID at the required
// level. ADMIN always may. Anyone else needs junctionID in their allowlist
// and, when required is not RoleNone, a role at least as high as required.
func CanAccessResource(id *Identity, junctionID int64, required Role) bool {
	if id == nil {
		return false
	}
	if id.Role == RoleAdmin {
		return true
	}
	if !slices.Contains(id.JunctionIDs, junctionID) {
		return false
	}
	return id.Role.AtLeast(required)
}

// AssertAccess is CanAccessResource for enforcement points: it returns an
// error wrapping ErrAccessDenied instead of false.
func AssertAccess(id *Identity, junctionID int64, required Role) error {
	if CanAccessResource(id, junctionID, required) {
		return nil
	}
	if required != RoleNone {
		return fmt.Errorf("%w: junction %d requires %s", ErrAccessDenied, junctionID, required)
	}
	return fmt.Errorf("%w: junction %d", ErrAccessDenied, junctionID)
}

// FilterResources returns the junction ids from ids that the identity may
// see, in input order. ADMIN gets the input back unchanged.
func FilterResources(id *Identity, ids []int64) []int64 {
	if id != nil && id.Role == RoleAdmin {
		return ids
	}
	out := make([]int64, 0, len(ids))
	if id == nil {
		return out
	}
	for _, j := range ids {
		if slices.Contains(id.JunctionIDs, j) {
			out = append(out, j)
		}
	}
	return out
}

// RequireRole returns ErrAccessDenied unless the identity's role is at least min.
func RequireRole(id *Identity, minRole Role) error {
	if id == nil || !id.Role.AtLeast(minRole) {
		return fmt.Errorf("%w: requires %s", ErrAccessDenied, minRole)
	}
	return nil
}
