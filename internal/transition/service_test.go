package transition

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/grievance/internal/audit"
	"github.com/steveyegge/grievance/internal/clock"
	"github.com/steveyegge/grievance/internal/policy"
	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/storage/memory"
	"github.com/steveyegge/grievance/internal/types"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.MemoryStorage
	log   *audit.Log
	clock *clock.FakeClock
	svc   *Service
}

func newFixture(t *testing.T, claims storage.ClaimStore, opts ...Option) *fixture {
	t.Helper()
	store := memory.New()
	if claims == nil {
		claims = store
	}
	f := &fixture{
		store: store,
		log:   audit.NewLog(filepath.Join(t.TempDir(), audit.FileName)),
		clock: clock.Fake(t0),
	}
	opts = append([]Option{
		WithClock(f.clock),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)
	f.svc = New(claims, store, f.log, policy.Default, opts...)
	return f
}

func (f *fixture) seed(t *testing.T, id string, state types.ClaimState, priority types.Priority, entered time.Time) {
	t.Helper()
	require.NoError(t, f.store.CreateClaim(context.Background(), &types.Claim{
		ID: id, Title: "test claim", State: state, Priority: priority,
		StateEnteredAt: entered, CreatedAt: entered, UpdatedAt: entered,
	}))
}

func (f *fixture) entries(t *testing.T, id string) []*audit.Entry {
	t.Helper()
	entries, err := f.log.Read(audit.Filter{ClaimID: id})
	require.NoError(t, err)
	return entries
}

func TestApplyAllowed(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "gv-1", types.StateInvestigation, types.PriorityMedium, t0.Add(-4*24*time.Hour))

	out, err := f.svc.Apply(context.Background(), Command{
		ClaimID: "gv-1", Target: types.StateResolved, Actor: "alice", Role: types.RoleSteward, HasDocumentation: true,
	})
	require.NoError(t, err)
	assert.True(t, out.Result.Allowed)
	assert.True(t, out.Applied)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, types.StateResolved, out.Claim.State)
	assert.True(t, out.Claim.StateEnteredAt.Equal(t0))

	require.NotNil(t, out.Result.Metadata)
	require.NotNil(t, out.Result.Metadata.NewStateDeadline)
	assert.True(t, out.Result.Metadata.NewStateDeadline.Equal(t0.Add(720*time.Hour)))

	stored, err := f.store.GetClaim(context.Background(), "gv-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateResolved, stored.State)

	entries := f.entries(t, "gv-1")
	require.Len(t, entries, 1)
	assert.Equal(t, out.AuditID, entries[0].ID)
	assert.Equal(t, audit.KindValidation, entries[0].Kind)
	assert.Equal(t, audit.OutcomeAllowed, entries[0].Outcome)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Equal(t, policy.BuiltIn, entries[0].PolicySource)
}

func TestApplyDeniedIsAuditedNotApplied(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "gv-1", types.StateResolved, types.PriorityHigh, t0.Add(-8*24*time.Hour))
	require.NoError(t, f.store.RaiseSignal(context.Background(), &types.CriticalSignal{
		ClaimID: "gv-1", Summary: "retaliation reported", RaisedAt: t0.Add(-time.Hour),
	}))

	out, err := f.svc.Apply(context.Background(), Command{
		ClaimID: "gv-1", Target: types.StateClosed, Actor: "automation", Role: types.RoleSystem,
	})
	require.NoError(t, err)
	assert.False(t, out.Result.Allowed)
	assert.False(t, out.Applied)
	assert.Equal(t, types.DenyUnresolvedCriticalSignal, out.Result.Code)
	assert.True(t, out.Request.HasUnresolvedCriticalSignals)

	stored, _ := f.store.GetClaim(context.Background(), "gv-1")
	assert.Equal(t, types.StateResolved, stored.State)

	entries := f.entries(t, "gv-1")
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeDenied, entries[0].Outcome)
	assert.Equal(t, types.DenyUnresolvedCriticalSignal, entries[0].Code)
	assert.True(t, entries[0].HasUnresolvedCriticalSignals)
}

func TestApplyMissingClaim(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Apply(context.Background(), Command{ClaimID: "gv-nope", Target: types.StateAssigned, Role: types.RoleAdmin})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Empty(t, f.entries(t, "gv-nope"))
}

func TestApplyRejectsMalformedCommand(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Apply(context.Background(), Command{ClaimID: " ", Target: types.StateAssigned})
	assert.Error(t, err)
	_, err = f.svc.Apply(context.Background(), Command{ClaimID: "gv-1", Target: "archived"})
	assert.Error(t, err)
}

type failingRecorder struct{}

func (failingRecorder) Append(*audit.Entry) (string, error) { return "", errors.New("disk full") }

func TestApplyAbortsWhenAuditFails(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.CreateClaim(context.Background(), &types.Claim{
		ID: "gv-1", State: types.StateSubmitted, Priority: types.PriorityLow, StateEnteredAt: t0,
	}))
	svc := New(store, store, failingRecorder{}, policy.Default, WithClock(clock.Fixed(t0)))

	_, err := svc.Apply(context.Background(), Command{ClaimID: "gv-1", Target: types.StateAssigned, Role: types.RoleAdmin})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, _ := store.GetClaim(context.Background(), "gv-1")
	assert.Equal(t, types.StateSubmitted, stored.State)
}

// racingStore moves the claim to a different state right before the
// service's own apply lands, for the first `races` applies.
type racingStore struct {
	storage.ClaimStore
	races   int32
	applied atomic.Int32
	to      types.ClaimState
	at      time.Time
}

func (r *racingStore) ApplyTransition(ctx context.Context, id string, expected types.StateVersion, next types.ClaimState, enteredAt time.Time) (*types.Claim, error) {
	if r.applied.Add(1) <= r.races {
		if _, err := r.ClaimStore.ApplyTransition(ctx, id, expected, r.to, r.at); err != nil {
			return nil, err
		}
	}
	return r.ClaimStore.ApplyTransition(ctx, id, expected, next, enteredAt)
}

func TestApplyConflictRevalidatesAndApplies(t *testing.T) {
	base := memory.New()
	racer := &racingStore{ClaimStore: base, races: 1, to: types.StateUnderReview, at: t0.Add(-time.Minute)}
	f := newFixture(t, racer)
	f.store = base
	f.svc = New(racer, base, f.log, policy.Default, WithClock(f.clock), WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	f.seed(t, "gv-1", types.StateSubmitted, types.PriorityMedium, t0.Add(-time.Hour))

	out, err := f.svc.Apply(context.Background(), Command{
		ClaimID: "gv-1", Target: types.StateRejected, Role: types.RoleSteward, Notes: "duplicate of gv-0",
	})
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, types.StateUnderReview, out.Request.CurrentState, "second attempt validated the fresh state")
	assert.Equal(t, types.StateRejected, out.Claim.State)

	entries := f.entries(t, "gv-1")
	require.Len(t, entries, 3)
	assert.Equal(t, audit.KindValidation, entries[0].Kind)
	assert.Equal(t, audit.KindConflict, entries[1].Kind)
	assert.Equal(t, audit.OutcomeConflict, entries[1].Outcome)
	assert.Equal(t, 1, entries[1].Attempt)
	assert.Equal(t, audit.KindValidation, entries[2].Kind)
	assert.Equal(t, 2, entries[2].Attempt)
}

func TestApplyConflictRevalidationCanDeny(t *testing.T) {
	base := memory.New()
	racer := &racingStore{ClaimStore: base, races: 1, to: types.StateAssigned, at: t0}
	f := newFixture(t, racer)
	f.store = base
	f.svc = New(racer, base, f.log, policy.Default, WithClock(f.clock), WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	f.seed(t, "gv-1", types.StateSubmitted, types.PriorityMedium, t0.Add(-time.Hour))

	out, err := f.svc.Apply(context.Background(), Command{ClaimID: "gv-1", Target: types.StateUnderReview, Role: types.RoleSteward})
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, types.DenyInvalidTransition, out.Result.Code)

	stored, _ := base.GetClaim(context.Background(), "gv-1")
	assert.Equal(t, types.StateAssigned, stored.State, "the racing writer's change stands")
}

type alwaysConflict struct {
	storage.ClaimStore
}

func (alwaysConflict) ApplyTransition(context.Context, string, types.StateVersion, types.ClaimState, time.Time) (*types.Claim, error) {
	return nil, storage.ErrConcurrencyConflict
}

func TestApplyGivesUpAfterMaxAttempts(t *testing.T) {
	base := memory.New()
	f := newFixture(t, nil)
	f.store = base
	f.svc = New(alwaysConflict{base}, base, f.log, policy.Default,
		WithClock(f.clock), WithMaxAttempts(4), WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	f.seed(t, "gv-1", types.StateSubmitted, types.PriorityMedium, t0)

	_, err := f.svc.Apply(context.Background(), Command{ClaimID: "gv-1", Target: types.StateAssigned, Role: types.RoleAdmin})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrConcurrencyConflict))
	assert.Contains(t, err.Error(), "4 attempt(s)")

	var validations, conflicts int
	for _, e := range f.entries(t, "gv-1") {
		switch e.Kind {
		case audit.KindValidation:
			validations++
		case audit.KindConflict:
			conflicts++
		}
	}
	assert.Equal(t, 4, validations)
	assert.Equal(t, 4, conflicts)
}

func TestApplyUsesCurrentPolicyPerCall(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "gv-1", types.StatePendingDocumentation, types.PriorityLow, t0.Add(-time.Hour))

	strict, err := policy.Parse([]byte("documentation:\n  accept-notes: false\n"), policy.FormatYAML, "strict.yaml")
	require.NoError(t, err)
	holder := policy.NewHolder(policy.Default())
	f.svc = New(f.store, f.store, f.log, holder.Current, WithClock(f.clock))

	cmd := Command{ClaimID: "gv-1", Target: types.StateResolved, Role: types.RoleSteward, Notes: "spoke with member"}
	out, err := f.svc.Preview(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, out.Result.Allowed)

	holder.Replace(strict)
	out, err = f.svc.Apply(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, out.Result.Allowed)
	assert.Equal(t, types.DenyMissingDocumentation, out.Result.Code)
	assert.Equal(t, "strict.yaml", f.entries(t, "gv-1")[0].PolicySource)
}

func TestPreviewDoesNotAuditOrApply(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "gv-1", types.StateUnderReview, types.PriorityMedium, t0)
	f.clock.Advance(time.Hour)

	out, err := f.svc.Preview(context.Background(), Command{ClaimID: "gv-1", Target: types.StateInvestigation, Role: types.RoleSteward})
	require.NoError(t, err)
	assert.False(t, out.Result.Allowed)
	assert.Equal(t, types.DenyDwellTimeNotElapsed, out.Result.Code)
	assert.Contains(t, out.Result.Reason, "23")
	assert.Empty(t, f.entries(t, "gv-1"))

	f.clock.Advance(23 * time.Hour)
	out, err = f.svc.Preview(context.Background(), Command{ClaimID: "gv-1", Target: types.StateInvestigation, Role: types.RoleSteward})
	require.NoError(t, err)
	assert.True(t, out.Result.Allowed)
	assert.False(t, out.Applied)

	stored, _ := f.store.GetClaim(context.Background(), "gv-1")
	assert.Equal(t, types.StateUnderReview, stored.State)
}

func TestSLAReport(t *testing.T) {
	f := newFixture(t, nil, WithReportConcurrency(2))
	ctx := context.Background()
	f.seed(t, "gv-a", types.StateSubmitted, types.PriorityMedium, t0.Add(-12*time.Hour))
	f.seed(t, "gv-b", types.StateSubmitted, types.PriorityMedium, t0.Add(-5*24*time.Hour))
	f.seed(t, "gv-c", types.StateClosed, types.PriorityLow, t0.Add(-100*24*time.Hour))
	f.seed(t, "gv-d", types.StateInvestigation, types.PriorityLow, t0)
	require.NoError(t, f.store.RaiseSignal(ctx, &types.CriticalSignal{ClaimID: "gv-d", Summary: "safety", RaisedAt: t0}))

	report, err := f.svc.SLAReport(ctx, t0)
	require.NoError(t, err)
	require.Len(t, report, 3, "closed claims are not reported")

	assert.Equal(t, "gv-b", report[0].ClaimID)
	assert.False(t, report[0].Compliant)
	assert.Equal(t, "gv-a", report[1].ClaimID)
	assert.True(t, report[1].AtRisk)
	assert.Equal(t, "gv-d", report[2].ClaimID)
	assert.True(t, report[2].CriticalSignals)
	assert.False(t, report[1].CriticalSignals)
}
