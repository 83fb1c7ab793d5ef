// Package types defines core data structures for the gv claim lifecycle engine.
package types

import (
	"fmt"
	"strings"
	"time"
)

// ClaimState represents where a claim (grievance) sits in its lifecycle
type ClaimState string

// Claim state constants
const (
	StateSubmitted            ClaimState = "submitted"
	StateUnderReview          ClaimState = "under_review"
	StateAssigned             ClaimState = "assigned"
	StateInvestigation        ClaimState = "investigation"
	StatePendingDocumentation ClaimState = "pending_documentation"
	StateResolved             ClaimState = "resolved"
	StateRejected             ClaimState = "rejected"
	StateClosed               ClaimState = "closed" // Terminal: no outgoing transitions
)

// AllStates returns every claim state in lifecycle order.
func AllStates() []ClaimState {
	return []ClaimState{
		StateSubmitted,
		StateUnderReview,
		StateAssigned,
		StateInvestigation,
		StatePendingDocumentation,
		StateResolved,
		StateRejected,
		StateClosed,
	}
}

// IsValid checks if the state value is one of the known claim states
func (s ClaimState) IsValid() bool {
	switch s {
	case StateSubmitted, StateUnderReview, StateAssigned, StateInvestigation,
		StatePendingDocumentation, StateResolved, StateRejected, StateClosed:
		return true
	}
	return false
}

// IsTerminal returns true for states with no outgoing transitions.
func (s ClaimState) IsTerminal() bool {
	return s == StateClosed
}

// ParseClaimState parses a state name, accepting hyphens in place of underscores.
func ParseClaimState(s string) (ClaimState, error) {
	state := ClaimState(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !state.IsValid() {
		return "", fmt.Errorf("invalid claim state %q (valid: %s)", s, joinStates(AllStates()))
	}
	return state, nil
}

// Priority ranks how urgently a claim must be handled. Higher priority
// compresses the SLA window.
type Priority string

// Priority constants
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AllPriorities returns every priority from least to most urgent.
func AllPriorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
}

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ParsePriority parses a priority name (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid priority %q (valid: low, medium, high, critical)", s)
	}
	return p, nil
}

// Role is the capacity in which an actor requests a transition.
type Role string

// Role constants
const (
	RoleMember  Role = "member"
	RoleSteward Role = "steward"
	RoleAdmin   Role = "admin"
	// RoleSystem bypasses role checks (automated escalation) but is still
	// bound by the state graph, dwell times and the critical-signal block.
	RoleSystem Role = "system"
)

// AllRoles returns every known role.
func AllRoles() []Role {
	return []Role{RoleMember, RoleSteward, RoleAdmin, RoleSystem}
}

// IsValid checks if the role value is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleSteward, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// ParseRole parses a role name (case-insensitive).
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role %q (valid: member, steward, admin, system)", s)
	}
	return r, nil
}

// DenyCode categorizes why a transition was refused
type DenyCode string

// Deny codes, in the order the validator checks them
const (
	DenyInvalidTransition        DenyCode = "invalid_transition"
	DenyUnauthorizedRole         DenyCode = "unauthorized_role"
	DenyDwellTimeNotElapsed      DenyCode = "dwell_time_not_elapsed"
	DenyMissingDocumentation     DenyCode = "missing_documentation"
	DenyUnresolvedCriticalSignal DenyCode = "unresolved_critical_signal"
)

// Claim is the persisted record a transition is evaluated against.
// Storage owns it; the lifecycle engine only reads it.
type Claim struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	State          ClaimState `json:"state"`
	Priority       Priority   `json:"priority"`
	StateEnteredAt time.Time  `json:"state_entered_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks if the claim has valid field values
func (c *Claim) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("claim id is required")
	}
	if len(c.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(c.Title))
	}
	if !c.State.IsValid() {
		return fmt.Errorf("invalid state: %s", c.State)
	}
	if !c.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", c.Priority)
	}
	if c.StateEnteredAt.IsZero() {
		return fmt.Errorf("state_entered_at is required")
	}
	return nil
}

// Version returns the compare-and-swap guard for this claim's current state.
func (c *Claim) Version() StateVersion {
	return StateVersion{State: c.State, EnteredAt: c.StateEnteredAt}
}

// StateVersion identifies one occupancy of a state. Persisting a transition
// requires the stored claim to still match the version it was validated against.
// EnteredAt distinguishes re-entries of the same state (resolved -> investigation -> resolved).
type StateVersion struct {
	State     ClaimState `json:"state"`
	EnteredAt time.Time  `json:"entered_at"`
}

// Matches reports whether the claim still occupies this version.
func (v StateVersion) Matches(c *Claim) bool {
	return c.State == v.State && c.StateEnteredAt.Equal(v.EnteredAt)
}

// CriticalSignal is an externally detected risk condition attached to a claim.
// While unresolved it blocks closure.
type CriticalSignal struct {
	ID         string     `json:"id"`
	ClaimID    string     `json:"claim_id"`
	Summary    string     `json:"summary"`
	RaisedAt   time.Time  `json:"raised_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// IsResolved returns true once the signal has been cleared.
func (s *CriticalSignal) IsResolved() bool {
	return s.ResolvedAt != nil
}

func joinStates(states []ClaimState) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// JoinStates renders states as a comma-separated list.
func JoinStates(states []ClaimState) string {
	return joinStates(states)
}

// JoinRoles renders roles as a comma-separated list.
func JoinRoles(roles []Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
