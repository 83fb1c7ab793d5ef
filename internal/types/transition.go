package types

import "time"

// TransitionRequest describes one proposed state change. It is built per call
// by the caller and never stored.
type TransitionRequest struct {
	ClaimID                      string     `json:"claim_id"`
	CurrentState                 ClaimState `json:"current_state"`
	TargetState                  ClaimState `json:"target_state"`
	ActorID                      string     `json:"actor_id"`
	ActorRole                    Role       `json:"actor_role"`
	Priority                     Priority   `json:"priority"`
	StateEnteredAt               time.Time  `json:"state_entered_at"`
	HasUnresolvedCriticalSignals bool       `json:"has_unresolved_critical_signals"`
	HasRequiredDocumentation     bool       `json:"has_required_documentation"`
	Notes                        string     `json:"notes,omitempty"`
}

// TransitionResult is the sole output of validation. Denials are normal
// results, not errors.
type TransitionResult struct {
	Allowed bool `json:"allowed"`

	// Populated on denial
	Code            DenyCode `json:"code,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	RequiredActions []string `json:"required_actions,omitempty"`

	// Populated on admission
	Warnings []string            `json:"warnings,omitempty"`
	Metadata *TransitionMetadata `json:"metadata,omitempty"`
}

// TransitionMetadata carries SLA figures computed for an admitted transition.
type TransitionMetadata struct {
	SLACompliant       bool       `json:"sla_compliant"`
	DaysInCurrentState int        `json:"days_in_current_state"`
	DaysUntilBreach    int        `json:"days_until_breach"`            // Negative = days overdue
	CurrentDeadline    *time.Time `json:"current_deadline,omitempty"`   // Nil when the state carries no SLA
	NewStateEnteredAt  time.Time  `json:"new_state_entered_at"`         // "now" at evaluation
	NewStateDeadline   *time.Time `json:"new_state_deadline,omitempty"` // Nil when the target carries no SLA
}

// Requirements is a read-only projection of one transition rule, used by
// front-ends to explain why an action is or is not available.
type Requirements struct {
	From                   ClaimState    `json:"from"`
	To                     ClaimState    `json:"to"`
	Roles                  []Role        `json:"roles"`
	MinDwell               time.Duration `json:"min_dwell"`
	MinHours               int           `json:"min_hours"`
	RequiresDocumentation  bool          `json:"requires_documentation"`
	BlocksOnCriticalSignal bool          `json:"blocks_on_critical_signal"`
}
