package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/steveyegge/grievance/internal/sla"
	"github.com/steveyegge/grievance/internal/types"
)

// Options tunes validator behavior that is policy rather than graph.
type Options struct {
	// AcceptNotesAsDocumentation lets free-text notes satisfy a documentation
	// requirement, mirroring informal case-handling workflows.
	AcceptNotesAsDocumentation bool

	// MinNoteLength is the minimum trimmed length (in runes) notes need to
	// count as documentation. Values below 1 are treated as 1.
	MinNoteLength int

	// SLAWarnWithinDays attaches an at-risk warning when the current state's
	// deadline is this many days away or fewer.
	SLAWarnWithinDays int
}

// DefaultOptions returns the built-in validator options.
func DefaultOptions() Options {
	return Options{
		AcceptNotesAsDocumentation: true,
		MinNoteLength:              1,
		SLAWarnWithinDays:          2,
	}
}

// Validator decides whether a proposed transition is admitted. It holds only
// immutable configuration and is safe for concurrent use.
type Validator struct {
	table *Table
	sla   *sla.Calculator
	opts  Options
}

// NewValidator builds a validator over an already-validated table and calculator.
func NewValidator(table *Table, calc *sla.Calculator, opts Options) *Validator {
	if opts.MinNoteLength < 1 {
		opts.MinNoteLength = 1
	}
	if opts.SLAWarnWithinDays < 0 {
		opts.SLAWarnWithinDays = 0
	}
	return &Validator{table: table, sla: calc, opts: opts}
}

// Table returns the rule table the validator consults.
func (v *Validator) Table() *Table { return v.table }

// Calculator returns the SLA calculator the validator consults.
func (v *Validator) Calculator() *sla.Calculator { return v.sla }

// Options returns the validator options.
func (v *Validator) Options() Options { return v.opts }

// Validate evaluates req at now. Checks run in fixed order and the first
// failure produces the denial:
//
//  1. graph: the (current, target) edge exists
//  2. role: the actor's role is listed for the edge, or is system
//  3. dwell: the claim has spent the minimum time in its current state
//  4. documentation: documentation (or acceptable notes) is present if required
//  5. critical signal: no unresolved critical signal, for edges that block on one
//
// An admitted result carries SLA metadata and non-blocking warnings. SLA
// figures never cause a denial. Validate never fails: malformed input yields
// a denial, not an error.
func (v *Validator) Validate(req types.TransitionRequest, now time.Time) types.TransitionResult {
	rule, ok := v.table.Rule(req.CurrentState, req.TargetState)
	if !ok {
		return v.denyInvalidTransition(req)
	}

	if !rule.Permits(req.ActorRole) {
		return deny(types.DenyUnauthorizedRole,
			fmt.Sprintf("unauthorized role: %q may not move a claim from %s to %s", req.ActorRole, req.CurrentState, req.TargetState),
			roleActions(rule.Roles))
	}

	// An entry time ahead of now (clock skew between writers) counts as no
	// time elapsed; it never blocks an edge without a dwell requirement.
	if elapsed := max(now.Sub(req.StateEnteredAt), 0); rule.MinDwell > 0 && elapsed < rule.MinDwell {
		remaining := ceilHours(rule.MinDwell - elapsed)
		return deny(types.DenyDwellTimeNotElapsed,
			fmt.Sprintf("dwell time not elapsed: claim must remain in %s for %s before moving to %s (%d hour(s) remaining)",
				req.CurrentState, formatHours(rule.MinDwell), req.TargetState, remaining),
			[]string{fmt.Sprintf("wait %d more hour(s) before requesting %s", remaining, req.TargetState)})
	}

	if rule.RequiresDocumentation && !v.documentationPresent(req) {
		actions := []string{"attach the required documentation"}
		if v.opts.AcceptNotesAsDocumentation {
			if v.opts.MinNoteLength > 1 {
				actions = append(actions, fmt.Sprintf("or provide notes of at least %d characters", v.opts.MinNoteLength))
			} else {
				actions = append(actions, "or provide notes explaining the decision")
			}
		}
		return deny(types.DenyMissingDocumentation,
			fmt.Sprintf("missing documentation: moving from %s to %s requires supporting documentation", req.CurrentState, req.TargetState),
			actions)
	}

	// No role bypasses this check, system included.
	if rule.BlocksOnCriticalSignal && req.HasUnresolvedCriticalSignals {
		return deny(types.DenyUnresolvedCriticalSignal,
			fmt.Sprintf("unresolved critical signal: claim cannot move to %s while critical signals are open", req.TargetState),
			[]string{"resolve every open critical signal on the claim, then retry"})
	}

	return v.admit(req, now)
}

func (v *Validator) denyInvalidTransition(req types.TransitionRequest) types.TransitionResult {
	var actions []string
	switch {
	case !req.TargetState.IsValid():
		actions = append(actions, fmt.Sprintf("use a known state: %s", types.JoinStates(types.AllStates())))
	default:
		if sources := v.table.Sources(req.TargetState); len(sources) > 0 {
			actions = append(actions, fmt.Sprintf("%s can only be reached from: %s", req.TargetState, types.JoinStates(sources)))
		} else {
			actions = append(actions, fmt.Sprintf("no state transitions into %s", req.TargetState))
		}
	}
	if targets := v.table.Targets(req.CurrentState); len(targets) > 0 {
		actions = append(actions, fmt.Sprintf("from %s the claim may move to: %s", req.CurrentState, types.JoinStates(targets)))
	} else if req.CurrentState.IsTerminal() {
		actions = append(actions, fmt.Sprintf("%s is terminal; no further transitions are possible", req.CurrentState))
	}
	return deny(types.DenyInvalidTransition,
		fmt.Sprintf("invalid transition: %s -> %s is not permitted", displayState(req.CurrentState), displayState(req.TargetState)),
		actions)
}

func (v *Validator) documentationPresent(req types.TransitionRequest) bool {
	if req.HasRequiredDocumentation {
		return true
	}
	if !v.opts.AcceptNotesAsDocumentation {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(req.Notes)) >= v.opts.MinNoteLength
}

func (v *Validator) admit(req types.TransitionRequest, now time.Time) types.TransitionResult {
	res := types.TransitionResult{Allowed: true}
	meta := &types.TransitionMetadata{
		SLACompliant:       true,
		DaysInCurrentState: daysElapsed(now.Sub(req.StateEnteredAt)),
		NewStateEnteredAt:  now,
	}
	res.Metadata = meta

	if !req.Priority.IsValid() {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown priority %q: SLA not computed", req.Priority))
		return res
	}

	if deadline, ok := v.sla.Deadline(req.CurrentState, req.Priority, req.StateEnteredAt); ok {
		meta.CurrentDeadline = &deadline
		meta.SLACompliant = v.sla.IsCompliant(req.CurrentState, req.Priority, req.StateEnteredAt, now)
		meta.DaysUntilBreach = v.sla.DaysUntilBreach(req.CurrentState, req.Priority, req.StateEnteredAt, now)
		switch {
		case !meta.SLACompliant:
			res.Warnings = append(res.Warnings, fmt.Sprintf("SLA breached: claim was due to leave %s %d day(s) ago (deadline %s)",
				req.CurrentState, overdueDays(now.Sub(deadline)), deadline.UTC().Format(time.RFC3339)))
		case meta.DaysUntilBreach <= v.opts.SLAWarnWithinDays:
			res.Warnings = append(res.Warnings, fmt.Sprintf("SLA at risk: %d day(s) left in %s (deadline %s)",
				meta.DaysUntilBreach, req.CurrentState, deadline.UTC().Format(time.RFC3339)))
		}
	}

	if deadline, ok := v.sla.Deadline(req.TargetState, req.Priority, now); ok {
		meta.NewStateDeadline = &deadline
	}
	return res
}

func deny(code types.DenyCode, reason string, actions []string) types.TransitionResult {
	return types.TransitionResult{
		Allowed:         false,
		Code:            code,
		Reason:          reason,
		RequiredActions: actions,
	}
}

func roleActions(roles []types.Role) []string {
	actions := make([]string, 0, len(roles))
	for _, r := range roles {
		actions = append(actions, fmt.Sprintf("request as %s", r))
	}
	return actions
}

func displayState(s types.ClaimState) string {
	if s == "" {
		return "(none)"
	}
	return string(s)
}

func formatHours(d time.Duration) string {
	h := ceilHours(d)
	if h%24 == 0 && h >= 48 {
		return fmt.Sprintf("%d days", h/24)
	}
	return fmt.Sprintf("%d hour(s)", h)
}

// daysElapsed floors an elapsed duration to whole days; negative spans count as 0.
func daysElapsed(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// overdueDays rounds an overdue span up to whole days, minimum 1.
func overdueDays(d time.Duration) int {
	days := int(math.Ceil(d.Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}
