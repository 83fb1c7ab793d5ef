package lifecycle

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/steveyegge/grievance/internal/types"
)

func TestAllowedTransitions(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		state types.ClaimState
		role  types.Role
		want  []types.ClaimState
	}{
		{types.StateSubmitted, types.RoleSteward, []types.ClaimState{types.StateUnderReview, types.StateAssigned, types.StateRejected}},
		{types.StateSubmitted, types.RoleMember, []types.ClaimState{}},
		{types.StatePendingDocumentation, types.RoleMember, []types.ClaimState{types.StateInvestigation}},
		{types.StateResolved, types.RoleMember, []types.ClaimState{types.StateInvestigation}},
		{types.StateResolved, types.RoleAdmin, []types.ClaimState{types.StateClosed, types.StateInvestigation}},
		{types.StateClosed, types.RoleSystem, []types.ClaimState{}},
		{types.ClaimState("archived"), types.RoleSystem, []types.ClaimState{}},
		{types.StateSubmitted, types.Role("guest"), []types.ClaimState{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.state)+"/"+string(tt.role), func(t *testing.T) {
			if got := table.AllowedTransitions(tt.state, tt.role); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AllowedTransitions(%s, %s) = %v, want %v", tt.state, tt.role, got, tt.want)
			}
		})
	}
}

func TestAllowedTransitionsSystemIsSuperset(t *testing.T) {
	table := DefaultTable()
	for _, s := range types.AllStates() {
		system := make(map[types.ClaimState]bool)
		for _, to := range table.AllowedTransitions(s, types.RoleSystem) {
			system[to] = true
		}
		for _, role := range types.AllRoles() {
			for _, to := range table.AllowedTransitions(s, role) {
				if !system[to] {
					t.Errorf("%s may reach %s from %s but system may not", role, to, s)
				}
			}
		}
	}
}

func TestRequirementsFor(t *testing.T) {
	table := DefaultTable()

	req, err := table.RequirementsFor(types.StateResolved, types.StateClosed)
	if err != nil {
		t.Fatalf("RequirementsFor(resolved, closed): %v", err)
	}
	want := types.Requirements{
		From:                   types.StateResolved,
		To:                     types.StateClosed,
		Roles:                  []types.Role{types.RoleSteward, types.RoleAdmin},
		MinDwell:               7 * 24 * time.Hour,
		MinHours:               168,
		RequiresDocumentation:  false,
		BlocksOnCriticalSignal: true,
	}
	if !reflect.DeepEqual(req, want) {
		t.Errorf("RequirementsFor(resolved, closed) = %+v, want %+v", req, want)
	}

	req, err = table.RequirementsFor(types.StateUnderReview, types.StateInvestigation)
	if err != nil {
		t.Fatalf("RequirementsFor(under_review, investigation): %v", err)
	}
	if req.MinHours != 24 {
		t.Errorf("MinHours = %d, want 24", req.MinHours)
	}

	for _, pair := range [][2]types.ClaimState{
		{types.StateSubmitted, types.StateClosed},
		{types.StateClosed, types.StateSubmitted},
	} {
		if _, err := table.RequirementsFor(pair[0], pair[1]); !errors.Is(err, ErrNoSuchRule) {
			t.Errorf("RequirementsFor(%s, %s) error = %v, want ErrNoSuchRule", pair[0], pair[1], err)
		}
	}
}

func TestQueriesAgreeWithValidator(t *testing.T) {
	v := newTestValidator(t)
	entered := t0.Add(-30 * 24 * time.Hour)

	for _, from := range types.AllStates() {
		for _, role := range types.AllRoles() {
			allowed := make(map[types.ClaimState]bool)
			for _, to := range v.AllowedTransitions(from, role) {
				allowed[to] = true
			}
			for _, to := range types.AllStates() {
				got := v.Validate(types.TransitionRequest{
					CurrentState: from, TargetState: to, ActorRole: role,
					Priority: types.PriorityMedium, StateEnteredAt: entered,
					HasRequiredDocumentation: true,
				}, t0)
				if got.Allowed != allowed[to] {
					t.Errorf("%s -> %s as %s: Validate allowed=%v, query says %v (%s)", from, to, role, got.Allowed, allowed[to], got.Reason)
				}
			}
		}
	}
}
