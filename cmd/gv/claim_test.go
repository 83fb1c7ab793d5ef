package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/grievance/internal/audit"
	"github.com/steveyegge/grievance/internal/sla"
	"github.com/steveyegge/grievance/internal/transition"
	"github.com/steveyegge/grievance/internal/types"
)

func createClaim(t *testing.T, id string, extra ...string) *types.Claim {
	t.Helper()
	var c types.Claim
	runJSON(t, 0, &c, append([]string{"claim", "create", "Claim " + id, "--id", id}, extra...)...)
	return &c
}

func listAudit(t *testing.T, extra ...string) []*audit.Entry {
	t.Helper()
	var entries []*audit.Entry
	runJSON(t, 0, &entries, append([]string{"audit", "list"}, extra...)...)
	return entries
}

func TestClaimCreateAndShow(t *testing.T) {
	setupCLI(t)

	c := createClaim(t, "gv-1", "-p", "high")
	assert.Equal(t, "gv-1", c.ID)
	assert.Equal(t, "Claim gv-1", c.Title)
	assert.Equal(t, types.StateSubmitted, c.State)
	assert.Equal(t, types.PriorityHigh, c.Priority)
	assert.True(t, c.StateEnteredAt.Equal(cliNow))

	var shown struct {
		Claim   types.Claim             `json:"claim"`
		SLA     sla.Status              `json:"sla"`
		Signals []*types.CriticalSignal `json:"signals"`
	}
	runJSON(t, 0, &shown, "claim", "show", "gv-1")
	assert.Equal(t, "gv-1", shown.Claim.ID)
	require.NotNil(t, shown.SLA.Deadline)
	// submitted is 48h at medium, 0.75x at high.
	assert.True(t, cliNow.Add(36*time.Hour).Equal(*shown.SLA.Deadline))
	assert.True(t, shown.SLA.Compliant)
	assert.Empty(t, shown.Signals)

	res := runCLI(t, "claim", "show", "gv-1")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Claim gv-1")
	assert.Contains(t, res.stdout, "submitted")
}

func TestClaimCreateDuplicate(t *testing.T) {
	setupCLI(t)
	createClaim(t, "gv-1")
	res := runCLI(t, "claim", "create", "again", "--id", "gv-1")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "already exists")
}

func TestClaimCreateGeneratesID(t *testing.T) {
	setupCLI(t)
	var c types.Claim
	runJSON(t, 0, &c, "claim", "create", "Unsafe ladder")
	assert.Regexp(t, `^gv-[0-9a-f]{8}$`, c.ID)
}

func TestClaimList(t *testing.T) {
	setupCLI(t)
	createClaim(t, "gv-a", "-p", "low")
	createClaim(t, "gv-b", "--state", "investigation")
	createClaim(t, "gv-c", "--state", "closed")

	ids := func(args ...string) []string {
		var claims []*types.Claim
		runJSON(t, 0, &claims, append([]string{"claim", "list"}, args...)...)
		out := make([]string, len(claims))
		for i, c := range claims {
			out[i] = c.ID
		}
		return out
	}

	assert.Equal(t, []string{"gv-a", "gv-b"}, ids())
	assert.Equal(t, []string{"gv-a", "gv-b", "gv-c"}, ids("--all"))
	assert.Equal(t, []string{"gv-b", "gv-c"}, ids("--state", "investigation,closed"))
	assert.Equal(t, []string{"gv-a"}, ids("--priority", "low"))
	assert.Equal(t, []string{}, ids("--priority", "critical"))
}

func TestTransitionAppliesAndAudits(t *testing.T) {
	setupCLI(t)
	createClaim(t, "gv-1")

	var out transition.Outcome
	runJSON(t, 0, &out, "transition", "gv-1", "under_review", "--role", "steward")
	assert.True(t, out.Applied)
	assert.Equal(t, 1, out.Attempts)
	assert.NotEmpty(t, out.AuditID)
	require.NotNil(t, out.Claim)
	assert.Equal(t, types.StateUnderReview, out.Claim.State)
	assert.True(t, out.Claim.StateEnteredAt.Equal(cliNow))

	entries := listAudit(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, out.AuditID, e.ID)
	assert.Equal(t, audit.KindValidation, e.Kind)
	assert.Equal(t, audit.OutcomeAllowed, e.Outcome)
	assert.Equal(t, "gv-1", e.ClaimID)
	assert.Equal(t, "tester", e.Actor)
	assert.Equal(t, types.RoleSteward, e.Role)
	assert.Equal(t, types.StateSubmitted, e.From)
	assert.Equal(t, types.StateUnderReview, e.To)
}

func TestTransitionDeniedIsAuditedNotApplied(t *testing.T) {
	setupCLI(t)
	createClaim(t, "gv-1", "--state", "under_review")

	res := runCLI(t, "transition", "gv-1", "investigation", "--role", "steward")
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.stdout, string(types.DenyDwellTimeNotElapsed))
	assert.Empty(t, res.stderr)

	var shown struct {
		Claim *types.Claim `json:"claim"`
	}
	runJSON(t, 0, &shown, "claim", "show", "gv-1")
	assert.Equal(t, types.StateUnderReview, shown.Claim.State)

	entries := listAudit(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeDenied, entries[0].Outcome)
	assert.Equal(t, types.DenyDwellTimeNotElapsed, entries[0].Code)
}

func TestTransitionDryRun(t *testing.T) {
	setupCLI(t)
	createClaim(t, "gv-1")

	var out transition.Outcome
	runJSON(t, 0, &out, "transition", "gv-1", "assigned", "--role", "steward", "--dry-run")
	assert.True(t, out.Result.Allowed)
	assert.False(t, out.Applied)
	assert.Empty(t, out.AuditID)

	assert.Empty(t, listAudit(t))

	var shown struct {
		Claim *types.Claim `json:"claim"`
	}
	runJSON(t, 0, &shown, "claim", "show", "gv-1")
	assert.Equal(t, types.StateSubmitted, shown.Claim.State)
}

func TestTransitionNeedsTarget(t *testing.T) {
	setupCLI(t)
	createClaim(t, "gv-1")
	res := runCLI(t, "transition", "gv-1", "--role", "steward")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "target state is required")
}

func TestTransitionMissingClaim(t *testing.T) {
	setupCLI(t)
	res := runCLI(t, "move", "gv-nope", "assigned", "--role", "admin")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "gv-nope")
}

func TestSignalBlocksClosureUntilResolved(t *testing.T) {
	setupCLI(t)
	createClaim(t, "gv-1", "--state", "resolved", "--entered=-10d")

	var sig types.CriticalSignal
	runJSON(t, 0, &sig, "signal", "raise", "gv-1", "retaliation", "reported")
	assert.Equal(t, "retaliation reported", sig.Summary)
	require.NotEmpty(t, sig.ID)

	var out transition.Outcome
	runJSON(t, 2, &out, "transition", "gv-1", "closed", "--role", "admin")
	assert.False(t, out.Applied)
	assert.Equal(t, types.DenyUnresolvedCriticalSignal, out.Result.Code)
	assert.True(t, out.Request.HasUnresolvedCriticalSignals)

	var signals []*types.CriticalSignal
	runJSON(t, 0, &signals, "signal", "list", "gv-1")
	require.Len(t, signals, 1)
	assert.False(t, signals[0].IsResolved())

	var resolved map[string]string
	runJSON(t, 0, &resolved, "signal", "resolve", sig.ID)
	assert.Equal(t, "resolved", resolved["status"])

	runJSON(t, 0, &out, "transition", "gv-1", "closed", "--role", "admin")
	assert.True(t, out.Applied)
	assert.Equal(t, types.StateClosed, out.Claim.State)

	entries := listAudit(t, "--claim", "gv-1")
	require.Len(t, entries, 2)
	assert.Equal(t, audit.OutcomeDenied, entries[0].Outcome)
	assert.Equal(t, audit.OutcomeAllowed, entries[1].Outcome)
}

func TestSignalRaiseOnMissingClaim(t *testing.T) {
	setupCLI(t)
	res := runCLI(t, "signal", "raise", "gv-nope", "safety")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "not found")
}
