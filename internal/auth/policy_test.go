package auth

import (
	"errors"
	"slices"
	"testing"
)

func TestCanAccessResource(t *testing.T) {
	admin := &Identity{UserID: 1, Role: RoleAdmin, JunctionIDs: []int64{}}
	operator := &Identity{UserID: 2, Role: RoleOperator, JunctionIDs: []int64{1, 2, 3}}
	observer := &Identity{UserID: 3, Role: RoleObserver, JunctionIDs: []int64{2}}

	tests := []struct {
		name     string
		id       *Identity
		junction int64
		required Role
		want     bool
	}{
		{"admin on unassigned junction", admin, 999, RoleNone, true},
		{"admin ignores required level", admin, 999, RoleAdmin, true},
		{"operator listed junction", operator, 2, RoleNone, true},
		{"operator unlisted junction", operator, 4, RoleNone, false},
		{"operator satisfies observer", operator, 1, RoleObserver, true},
		{"operator satisfies operator", operator, 1, RoleOperator, true},
		{"operator below admin", operator, 1, RoleAdmin, false},
		{"observer listed junction", observer, 2, RoleObserver, true},
		{"observer cannot operate", observer, 2, RoleOperator, false},
		{"observer unlisted junction", observer, 3, RoleObserver, false},
		{"nil identity", nil, 1, RoleNone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanAccessResource(tt.id, tt.junction, tt.required); got != tt.want {
				t.Errorf("CanAccessResource() = %v, want %v", got, tt.want)
			}

			err := AssertAccess(tt.id, tt.junction, tt.required)
			if tt.want && err != nil {
				t.Errorf("AssertAccess() error = %v, want nil", err)
			}
			if !tt.want && !errors.Is(err, ErrAccessDenied) {
				t.Errorf("AssertAccess() error = %v, want ErrAccessDenied", err)
			}
		})
	}
}

func TestFilterResources(t *testing.T) {
	input := []int64{5, 3, 9, 1, 3}

	admin := &Identity{Role: RoleAdmin}
	if got := FilterResources(admin, input); !slices.Equal(got, input) {
		t.Errorf("admin FilterResources() = %v, want input unchanged", got)
	}

	op := &Identity{Role: RoleOperator, JunctionIDs: []int64{1, 3}}
	if got := FilterResources(op, input); !slices.Equal(got, []int64{3, 1, 3}) {
		t.Errorf("operator FilterResources() = %v, want [3 1 3]", got)
	}

	none := &Identity{Role: RoleObserver, JunctionIDs: []int64{}}
	got := FilterResources(none, input)
	if got == nil || len(got) != 0 {
		t.Errorf("empty allowlist FilterResources() = %#v, want empty slice", got)
	}
}

func TestRequireRole(t *testing.T) {
	op := &Identity{Role: RoleOperator}
	if err := RequireRole(op, RoleObserver); err != nil {
		t.Errorf("RequireRole(operator, observer) = %v", err)
	}
	if err := RequireRole(op, RoleAdmin); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("RequireRole(operator, admin) = %v, want ErrAccessDenied", err)
	}
	if err := RequireRole(nil, RoleObserver); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("RequireRole(nil) = %v, want ErrAccessDenied", err)
	}
}

func TestRoleOrdering(t *testing.T) {
	if !(RoleAdmin > RoleOperator && RoleOperator > RoleObserver && RoleObserver > RoleNone) {
		t.Fatal("roles must be strictly ordered ADMIN > OPERATOR > OBSERVER")
	}
	for _, r := range AllRoles {
		parsed, err := ParseRole(r.String())
		if err != nil || parsed != r {
			t.Errorf("ParseRole(%q) = %v, %v", r.String(), parsed, err)
		}
		if !r.AtLeast(RoleNone) {
			t.Errorf("%s should satisfy RoleNone", r)
		}
	}
	if _, err := ParseRole("superuser"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ParseRole(superuser) error = %v, want ErrInvalidRole", err)
	}
	if r, _ := ParseRole(" operator "); r != RoleOperator {
		t.Errorf("ParseRole is not case-insensitive: got %v", r)
	}
	if RoleAdmin.ValidGrantLevel() || !RoleOperator.ValidGrantLevel() || !RoleObserver.ValidGrantLevel() {
		t.Error("only OPERATOR and OBSERVER are grantable levels")
	}
	if _, err := Role(7).MarshalText(); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("MarshalText(Role(7)) error = %v", err)
	}
}
