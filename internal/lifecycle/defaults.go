package lifecycle

import (
	"time"

	"github.com/steveyegge/grievance/internal/types"
)

// CoolingOffPeriod is the dwell enforced on resolved/rejected before closing,
// leaving room for appeal or reconsideration.
const CoolingOffPeriod = 7 * 24 * time.Hour

func handlers() []types.Role { return []types.Role{types.RoleSteward, types.RoleAdmin} }

func anyone() []types.Role {
	return []types.Role{types.RoleMember, types.RoleSteward, types.RoleAdmin}
}

// DefaultRules returns the built-in transition graph. Each call returns fresh slices.
func DefaultRules() []Rule {
	return []Rule{
		// Intake
		{From: types.StateSubmitted, To: types.StateUnderReview, Roles: handlers()},
		{From: types.StateSubmitted, To: types.StateAssigned, Roles: handlers()},
		{From: types.StateSubmitted, To: types.StateRejected, Roles: handlers(), RequiresDocumentation: true},

		// Review
		{From: types.StateUnderReview, To: types.StateAssigned, Roles: handlers()},
		{From: types.StateUnderReview, To: types.StateInvestigation, Roles: handlers(), MinDwell: 24 * time.Hour},
		{From: types.StateUnderReview, To: types.StatePendingDocumentation, Roles: handlers()},
		{From: types.StateUnderReview, To: types.StateRejected, Roles: handlers(), RequiresDocumentation: true},

		// Assignment
		{From: types.StateAssigned, To: types.StateInvestigation, Roles: handlers()},
		{From: types.StateAssigned, To: types.StatePendingDocumentation, Roles: handlers()},
		{From: types.StateAssigned, To: types.StateRejected, Roles: handlers(), RequiresDocumentation: true},

		// Investigation
		{From: types.StateInvestigation, To: types.StateResolved, Roles: handlers(), RequiresDocumentation: true},
		{From: types.StateInvestigation, To: types.StatePendingDocumentation, Roles: handlers()},
		{From: types.StateInvestigation, To: types.StateRejected, Roles: handlers(), RequiresDocumentation: true},

		// Waiting on the member
		{From: types.StatePendingDocumentation, To: types.StateInvestigation, Roles: anyone(), RequiresDocumentation: true},
		{From: types.StatePendingDocumentation, To: types.StateResolved, Roles: handlers(), RequiresDocumentation: true},
		{From: types.StatePendingDocumentation, To: types.StateRejected, Roles: handlers(), RequiresDocumentation: true},

		// Outcomes: close after cooling-off, or reopen on appeal
		{From: types.StateResolved, To: types.StateClosed, Roles: handlers(), MinDwell: CoolingOffPeriod, BlocksOnCriticalSignal: true},
		{From: types.StateResolved, To: types.StateInvestigation, Roles: anyone(), RequiresDocumentation: true},
		{From: types.StateRejected, To: types.StateClosed, Roles: handlers(), MinDwell: CoolingOffPeriod, BlocksOnCriticalSignal: true},
		{From: types.StateRejected, To: types.StateUnderReview, Roles: anyone(), RequiresDocumentation: true},
	}
}

// DefaultTable returns the validated built-in table.
func DefaultTable() *Table {
	return MustTable(DefaultRules())
}
