// Package sla computes service-level deadlines for claims.
//
// A deadline is the time a claim entered its current state plus the state's
// base hours scaled by the claim's priority multiplier. All functions take
// "now" from the caller; nothing here reads the wall clock.
package sla

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/steveyegge/grievance/internal/types"
)

// ErrInvalidStandards is wrapped by every Standards validation failure.
var ErrInvalidStandards = errors.New("invalid SLA standards")

// Standards is the per-state base duration and per-priority multiplier table.
// States absent from BaseHours carry no SLA and are always compliant.
type Standards struct {
	BaseHours   map[types.ClaimState]float64
	Multipliers map[types.Priority]float64
}

// DefaultStandards returns the built-in SLA table.
func DefaultStandards() Standards {
	return Standards{
		BaseHours: map[types.ClaimState]float64{
			types.StateSubmitted:            48,
			types.StateUnderReview:          72,
			types.StateAssigned:             48,
			types.StateInvestigation:        240,
			types.StatePendingDocumentation: 168,
			types.StateResolved:             720,
			types.StateRejected:             720,
		},
		Multipliers: map[types.Priority]float64{
			types.PriorityLow:      1.5,
			types.PriorityMedium:   1.0,
			types.PriorityHigh:     0.75,
			types.PriorityCritical: 0.5,
		},
	}
}

// Validate checks that every key is a known state/priority, every value is
// positive, every priority has a multiplier, and closed carries no SLA.
func (s Standards) Validate() error {
	var errs []error
	for state, hours := range s.BaseHours {
		if !state.IsValid() {
			errs = append(errs, fmt.Errorf("%w: unknown state %q in base hours", ErrInvalidStandards, state))
			continue
		}
		if state.IsTerminal() {
			errs = append(errs, fmt.Errorf("%w: terminal state %q cannot carry an SLA", ErrInvalidStandards, state))
		}
		if hours <= 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
			errs = append(errs, fmt.Errorf("%w: base hours for %q must be positive (got %v)", ErrInvalidStandards, state, hours))
		}
	}
	for priority, m := range s.Multipliers {
		if !priority.IsValid() {
			errs = append(errs, fmt.Errorf("%w: unknown priority %q in multipliers", ErrInvalidStandards, priority))
			continue
		}
		if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
			errs = append(errs, fmt.Errorf("%w: multiplier for %q must be positive (got %v)", ErrInvalidStandards, priority, m))
		}
	}
	for _, p := range types.AllPriorities() {
		if _, ok := s.Multipliers[p]; !ok {
			errs = append(errs, fmt.Errorf("%w: missing multiplier for priority %q", ErrInvalidStandards, p))
		}
	}
	return errors.Join(errs...)
}

// Calculator is an immutable snapshot of Standards. Safe for concurrent use.
type Calculator struct {
	baseHours   map[types.ClaimState]float64
	multipliers map[types.Priority]float64
}

// NewCalculator validates and copies the standards.
func NewCalculator(s Standards) (*Calculator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c := &Calculator{
		baseHours:   make(map[types.ClaimState]float64, len(s.BaseHours)),
		multipliers: make(map[types.Priority]float64, len(s.Multipliers)),
	}
	for k, v := range s.BaseHours {
		c.baseHours[k] = v
	}
	for k, v := range s.Multipliers {
		c.multipliers[k] = v
	}
	return c, nil
}

// Default returns a calculator over DefaultStandards.
func Default() *Calculator {
	c, err := NewCalculator(DefaultStandards())
	if err != nil {
		panic(fmt.Sprintf("sla: default standards invalid: %v", err))
	}
	return c
}

// Standards returns a copy of the table the calculator was built from.
func (c *Calculator) Standards() Standards {
	s := Standards{
		BaseHours:   make(map[types.ClaimState]float64, len(c.baseHours)),
		Multipliers: make(map[types.Priority]float64, len(c.multipliers)),
	}
	for k, v := range c.baseHours {
		s.BaseHours[k] = v
	}
	for k, v := range c.multipliers {
		s.Multipliers[k] = v
	}
	return s
}

// Multiplier returns the multiplier for a priority.
func (c *Calculator) Multiplier(p types.Priority) (float64, bool) {
	m, ok := c.multipliers[p]
	return m, ok
}

// BaseHours returns the unscaled allowance for a state.
func (c *Calculator) BaseHours(state types.ClaimState) (float64, bool) {
	h, ok := c.baseHours[state]
	return h, ok
}

// Allowance returns baseHours[state] * multiplier[priority] as a duration.
// ok is false when the state carries no SLA or the priority is unknown.
func (c *Calculator) Allowance(state types.ClaimState, priority types.Priority) (time.Duration, bool) {
	hours, ok := c.baseHours[state]
	if !ok {
		return 0, false
	}
	m, ok := c.multipliers[priority]
	if !ok {
		return 0, false
	}
	return time.Duration(hours * m * float64(time.Hour)), true
}

// Deadline returns enteredAt + baseHours[state] * multiplier[priority].
// ok is false when the state carries no SLA or the priority is unknown.
func (c *Calculator) Deadline(state types.ClaimState, priority types.Priority, enteredAt time.Time) (time.Time, bool) {
	d, ok := c.Allowance(state, priority)
	if !ok {
		return time.Time{}, false
	}
	return enteredAt.Add(d), true
}

// IsCompliant reports now <= deadline. States without an SLA (closed) are
// always compliant.
func (c *Calculator) IsCompliant(state types.ClaimState, priority types.Priority, enteredAt, now time.Time) bool {
	deadline, ok := c.Deadline(state, priority, enteredAt)
	if !ok {
		return true
	}
	return !now.After(deadline)
}

// DaysUntilBreach returns the ceiling of (deadline - now) in days. Negative
// values are days overdue. States without an SLA return 0.
func (c *Calculator) DaysUntilBreach(state types.ClaimState, priority types.Priority, enteredAt, now time.Time) int {
	deadline, ok := c.Deadline(state, priority, enteredAt)
	if !ok {
		return 0
	}
	return CeilDays(deadline.Sub(now))
}

// CeilDays rounds a duration up to whole days (toward +inf).
func CeilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}

// Status summarizes one claim's position against its SLA.
type Status struct {
	ClaimID         string           `json:"claim_id"`
	State           types.ClaimState `json:"state"`
	Priority        types.Priority   `json:"priority"`
	EnteredAt       time.Time        `json:"entered_at"`
	Deadline        *time.Time       `json:"deadline,omitempty"`
	Compliant       bool             `json:"compliant"`
	DaysUntilBreach int              `json:"days_until_breach"`
	AtRisk          bool             `json:"at_risk"`
	CriticalSignals bool             `json:"critical_signals"`
}

// Evaluate computes the SLA status of a claim at now. AtRisk is set when the
// claim is compliant but within warnWithinDays of breaching.
func (c *Calculator) Evaluate(claim *types.Claim, now time.Time, warnWithinDays int) Status {
	st := Status{
		ClaimID:   claim.ID,
		State:     claim.State,
		Priority:  claim.Priority,
		EnteredAt: claim.StateEnteredAt,
		Compliant: true,
	}
	deadline, ok := c.Deadline(claim.State, claim.Priority, claim.StateEnteredAt)
	if !ok {
		return st
	}
	st.Deadline = &deadline
	st.Compliant = !now.After(deadline)
	st.DaysUntilBreach = CeilDays(deadline.Sub(now))
	st.AtRisk = st.Compliant && st.DaysUntilBreach <= warnWithinDays
	return st
}

// SortByUrgency orders statuses most overdue first; ties break on claim id.
func SortByUrgency(statuses []Status) {
	sort.SliceStable(statuses, func(i, j int) bool {
		a, b := statuses[i], statuses[j]
		if (a.Deadline == nil) != (b.Deadline == nil) {
			return a.Deadline != nil
		}
		if a.Deadline != nil && !a.Deadline.Equal(*b.Deadline) {
			return a.Deadline.Before(*b.Deadline)
		}
		return a.ClaimID < b.ClaimID
	})
}
