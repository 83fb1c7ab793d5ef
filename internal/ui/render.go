package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/grievance/internal/audit"
	"github.com/steveyegge/grievance/internal/lifecycle"
	"github.com/steveyegge/grievance/internal/sla"
	"github.com/steveyegge/grievance/internal/timeparsing"
	"github.com/steveyegge/grievance/internal/types"
)

const timeLayout = "2006-01-02 15:04 MST"

// pad right-pads s to width visible cells, ignoring ANSI sequences.
func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

// RenderDecision writes one validation result.
func RenderDecision(w io.Writer, req types.TransitionRequest, res types.TransitionResult) {
	move := fmt.Sprintf("%s -> %s", RenderState(req.CurrentState), RenderState(req.TargetState))
	if req.ClaimID != "" {
		move = req.ClaimID + " " + move
	}

	if !res.Allowed {
		fmt.Fprintf(w, "%s %s %s\n", RenderFailIcon(), RenderFail("denied"), move)
		fmt.Fprintf(w, "%s%s %s\n", TreeIndent, RenderMuted(string(res.Code)+":"), res.Reason)
		for _, a := range res.RequiredActions {
			fmt.Fprintf(w, "%s%s%s\n", TreeIndent, TreeLast, a)
		}
		return
	}

	fmt.Fprintf(w, "%s %s %s\n", RenderPassIcon(), RenderPass("allowed"), move)
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "%s%s %s\n", TreeIndent, RenderWarnIcon(), RenderWarn(warning))
	}
	if m := res.Metadata; m != nil {
		compliant := RenderPass("compliant")
		if !m.SLACompliant {
			compliant = RenderFail("breached")
		}
		fmt.Fprintf(w, "%s%sSLA %s, %d day(s) in %s, %d day(s) to breach\n",
			TreeIndent, TreeLast, compliant, m.DaysInCurrentState, req.CurrentState, m.DaysUntilBreach)
		fmt.Fprintf(w, "%s%snext deadline %s\n", TreeIndent, TreeLast, formatTime(m.NewStateDeadline))
	}
}

// RenderRules writes the rule table grouped by source state, in lifecycle
// order.
func RenderRules(w io.Writer, rules []lifecycle.Rule) {
	order := make(map[types.ClaimState]int)
	for i, s := range types.AllStates() {
		order[s] = i
	}
	rules = append([]lifecycle.Rule(nil), rules...)
	sort.SliceStable(rules, func(i, j int) bool { return order[rules[i].From] < order[rules[j].From] })

	var from types.ClaimState
	for _, r := range rules {
		if r.From != from {
			if from != "" {
				fmt.Fprintln(w)
			}
			from = r.From
			fmt.Fprintln(w, RenderCategory(string(from)))
		}
		var flags []string
		if r.MinDwell > 0 {
			flags = append(flags, "dwell "+timeparsing.FormatDuration(r.MinDwell))
		}
		if r.RequiresDocumentation {
			flags = append(flags, "docs")
		}
		if r.BlocksOnCriticalSignal {
			flags = append(flags, "blocks on signal")
		}
		fmt.Fprintf(w, "%s%s %s %s\n", TreeIndent, pad(RenderState(r.To), 24),
			pad(types.JoinRoles(r.Roles), 24), RenderMuted(strings.Join(flags, ", ")))
	}
}

// RenderAllowed writes the states role may move a claim to from state.
func RenderAllowed(w io.Writer, state types.ClaimState, role types.Role, targets []types.ClaimState) {
	if len(targets) == 0 {
		fmt.Fprintf(w, "%s no transitions from %s for %s\n", RenderInfoIcon(), RenderState(state), role)
		return
	}
	fmt.Fprintf(w, "From %s as %s:\n", RenderState(state), RenderBold(string(role)))
	for _, t := range targets {
		fmt.Fprintf(w, "%s%s%s\n", TreeIndent, TreeLast, RenderState(t))
	}
}

// RequirementsMarkdown explains one rule for RenderMarkdown.
func RequirementsMarkdown(req types.Requirements) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s → %s\n\n", req.From, req.To)
	fmt.Fprintf(&b, "- **Roles:** %s (system may always act)\n", types.JoinRoles(req.Roles))
	if req.MinDwell > 0 {
		fmt.Fprintf(&b, "- **Minimum time in %s:** %d hour(s)\n", req.From, req.MinHours)
	} else {
		b.WriteString("- **Minimum time:** none\n")
	}
	if req.RequiresDocumentation {
		b.WriteString("- **Documentation:** required; attach documents or provide notes\n")
	} else {
		b.WriteString("- **Documentation:** not required\n")
	}
	if req.BlocksOnCriticalSignal {
		b.WriteString("- **Critical signals:** any unresolved critical signal blocks this transition, even for system\n")
	}
	return b.String()
}

// RenderRequirements writes one rule as plain lines.
func RenderRequirements(w io.Writer, req types.Requirements) {
	fmt.Fprintf(w, "%s -> %s\n", RenderState(req.From), RenderState(req.To))
	fmt.Fprintf(w, "%sroles: %s\n", TreeIndent, types.JoinRoles(req.Roles))
	fmt.Fprintf(w, "%smin hours: %d\n", TreeIndent, req.MinHours)
	fmt.Fprintf(w, "%srequires documentation: %t\n", TreeIndent, req.RequiresDocumentation)
	fmt.Fprintf(w, "%sblocks on critical signal: %t\n", TreeIndent, req.BlocksOnCriticalSignal)
}

func slaCell(st sla.Status) string {
	switch {
	case st.Deadline == nil:
		return RenderMuted("no SLA")
	case !st.Compliant:
		return RenderFail(fmt.Sprintf("%d day(s) overdue", -st.DaysUntilBreach))
	case st.AtRisk:
		return RenderWarn(fmt.Sprintf("%d day(s) left", st.DaysUntilBreach))
	default:
		return RenderPass(fmt.Sprintf("%d day(s) left", st.DaysUntilBreach))
	}
}

// RenderSLAReport writes one line per claim, in the order given.
func RenderSLAReport(w io.Writer, statuses []sla.Status) {
	if len(statuses) == 0 {
		fmt.Fprintf(w, "%s no open claims\n", RenderInfoIcon())
		return
	}
	var breached, atRisk int
	for _, st := range statuses {
		icon := RenderPassIcon()
		switch {
		case !st.Compliant:
			icon = RenderFailIcon()
			breached++
		case st.AtRisk:
			icon = RenderWarnIcon()
			atRisk++
		}
		signal := ""
		if st.CriticalSignals {
			signal = RenderFail(" [critical signal]")
		}
		fmt.Fprintf(w, "%s %s %s %s %s %s%s\n", icon, pad(st.ClaimID, 12), pad(RenderState(st.State), 22),
			pad(RenderPriority(st.Priority), 9), pad(slaCell(st), 20), RenderMuted(formatTime(st.Deadline)), signal)
	}
	fmt.Fprintln(w, RenderSeparator())
	fmt.Fprintf(w, "%d open, %s, %s\n", len(statuses),
		RenderFail(fmt.Sprintf("%d breached", breached)), RenderWarn(fmt.Sprintf("%d at risk", atRisk)))
}

// RenderClaim writes a claim with its SLA position and signals.
func RenderClaim(w io.Writer, c *types.Claim, st sla.Status, signals []*types.CriticalSignal) {
	fmt.Fprintf(w, "%s %s\n", RenderAccent(c.ID), RenderBold(c.Title))
	fmt.Fprintf(w, "%sstate:    %s since %s\n", TreeIndent, RenderState(c.State), c.StateEnteredAt.UTC().Format(timeLayout))
	fmt.Fprintf(w, "%spriority: %s\n", TreeIndent, RenderPriority(c.Priority))
	fmt.Fprintf(w, "%sSLA:      %s (deadline %s)\n", TreeIndent, slaCell(st), formatTime(st.Deadline))
	fmt.Fprintf(w, "%screated:  %s\n", TreeIndent, c.CreatedAt.UTC().Format(timeLayout))
	if len(signals) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", RenderCategory("critical signals"))
	for _, s := range signals {
		icon := RenderFailIcon()
		status := "unresolved"
		if s.IsResolved() {
			icon = RenderPassIcon()
			status = "resolved " + s.ResolvedAt.UTC().Format(timeLayout)
		}
		fmt.Fprintf(w, "%s%s %s %s %s\n", TreeIndent, icon, s.ID, s.Summary, RenderMuted("("+status+")"))
	}
}

// RenderClaimList writes one line per claim.
func RenderClaimList(w io.Writer, claims []*types.Claim) {
	if len(claims) == 0 {
		fmt.Fprintf(w, "%s no claims\n", RenderInfoIcon())
		return
	}
	for _, c := range claims {
		fmt.Fprintf(w, "%s %s %s %s\n", pad(c.ID, 12), pad(RenderState(c.State), 22), pad(RenderPriority(c.Priority), 9), c.Title)
	}
}

// RenderAuditEntries writes audit entries oldest first.
func RenderAuditEntries(w io.Writer, entries []*audit.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s no audit entries\n", RenderInfoIcon())
		return
	}
	for _, e := range entries {
		var outcome string
		switch e.Outcome {
		case audit.OutcomeAllowed:
			outcome = RenderPass(e.Outcome)
		case audit.OutcomeConflict:
			outcome = RenderWarn(e.Outcome)
		default:
			outcome = RenderFail(e.Outcome)
		}
		fmt.Fprintf(w, "%s %s %s %s -> %s by %s (%s)", RenderMuted(e.CreatedAt.UTC().Format(time.RFC3339)),
			pad(outcome, 9), e.ClaimID, e.From, e.To, e.Actor, e.Role)
		if e.Code != "" {
			fmt.Fprintf(w, " %s", RenderMuted(string(e.Code)))
		}
		fmt.Fprintln(w)
	}
}
