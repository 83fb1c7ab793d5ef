// Package storagetest holds behavior tests every storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/types"
)

// T0 is the reference time the suite builds claims around. Backends that
// store timestamps at second precision round-trip it exactly.
var T0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// NewClaim returns a valid claim entering state at T0.
func NewClaim(id string, state types.ClaimState, priority types.Priority) *types.Claim {
	return &types.Claim{
		ID:             id,
		Title:          "Claim " + id,
		State:          state,
		Priority:       priority,
		StateEnteredAt: T0,
		CreatedAt:      T0,
		UpdatedAt:      T0,
	}
}

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateAssignsID", func(t *testing.T) { testCreateAssignsID(t, newStore(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, newStore(t)) })
	t.Run("ApplyTransition", func(t *testing.T) { testApplyTransition(t, newStore(t)) })
	t.Run("ApplyTransitionRejectsReentry", func(t *testing.T) { testApplyTransitionRejectsReentry(t, newStore(t)) })
	t.Run("ConcurrentApplyOneWinner", func(t *testing.T) { testConcurrentApply(t, newStore(t)) })
	t.Run("Signals", func(t *testing.T) { testSignals(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := NewClaim("gv-1", types.StateSubmitted, types.PriorityHigh)
	require.NoError(t, s.CreateClaim(ctx, c))

	got, err := s.GetClaim(ctx, "gv-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Title, got.Title)
	assert.Equal(t, types.StateSubmitted, got.State)
	assert.Equal(t, types.PriorityHigh, got.Priority)
	assert.True(t, T0.Equal(got.StateEnteredAt), "entered at %v", got.StateEnteredAt)

	err = s.CreateClaim(ctx, NewClaim("gv-1", types.StateSubmitted, types.PriorityLow))
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)

	_, err = s.GetClaim(ctx, "gv-missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	bad := NewClaim("gv-2", types.ClaimState("archived"), types.PriorityLow)
	assert.Error(t, s.CreateClaim(ctx, bad))
}

func testCreateAssignsID(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := &types.Claim{Title: "no id", State: types.StateSubmitted, Priority: types.PriorityMedium}
	require.NoError(t, s.CreateClaim(ctx, c))
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.StateEnteredAt.IsZero())

	got, err := s.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "no id", got.Title)
}

func testListFilters(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateClaim(ctx, NewClaim("gv-a", types.StateSubmitted, types.PriorityLow)))
	require.NoError(t, s.CreateClaim(ctx, NewClaim("gv-b", types.StateInvestigation, types.PriorityHigh)))
	require.NoError(t, s.CreateClaim(ctx, NewClaim("gv-c", types.StateClosed, types.PriorityHigh)))

	ids := func(cs []*types.Claim) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.ID
		}
		return out
	}

	open, err := s.ListClaims(ctx, storage.ClaimFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gv-a", "gv-b"}, ids(open))

	all, err := s.ListClaims(ctx, storage.ClaimFilter{IncludeClosed: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"gv-a", "gv-b", "gv-c"}, ids(all))

	high, err := s.ListClaims(ctx, storage.ClaimFilter{Priority: types.PriorityHigh, IncludeClosed: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"gv-b", "gv-c"}, ids(high))

	closed, err := s.ListClaims(ctx, storage.ClaimFilter{States: []types.ClaimState{types.StateClosed}})
	require.NoError(t, err)
	assert.Equal(t, []string{"gv-c"}, ids(closed))
}

func testApplyTransition(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := NewClaim("gv-1", types.StateSubmitted, types.PriorityMedium)
	require.NoError(t, s.CreateClaim(ctx, c))

	next := T0.Add(2 * time.Hour)
	got, err := s.ApplyTransition(ctx, "gv-1", c.Version(), types.StateUnderReview, next)
	require.NoError(t, err)
	assert.Equal(t, types.StateUnderReview, got.State)
	assert.True(t, next.Equal(got.StateEnteredAt))

	// The old version is now stale.
	_, err = s.ApplyTransition(ctx, "gv-1", c.Version(), types.StateAssigned, next.Add(time.Hour))
	assert.True(t, errors.Is(err, storage.ErrConcurrencyConflict), "got %v", err)

	stored, err := s.GetClaim(ctx, "gv-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateUnderReview, stored.State, "failed CAS must not write")

	_, err = s.ApplyTransition(ctx, "gv-missing", c.Version(), types.StateAssigned, next)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func testApplyTransitionRejectsReentry(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := NewClaim("gv-1", types.StateResolved, types.PriorityMedium)
	require.NoError(t, s.CreateClaim(ctx, c))
	stale := c.Version()

	// resolved -> investigation -> resolved leaves the state name unchanged.
	mid, err := s.ApplyTransition(ctx, "gv-1", stale, types.StateInvestigation, T0.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.ApplyTransition(ctx, "gv-1", mid.Version(), types.StateResolved, T0.Add(2*time.Hour))
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, "gv-1", stale, types.StateClosed, T0.Add(3*time.Hour))
	assert.True(t, errors.Is(err, storage.ErrConcurrencyConflict), "re-entered state must not match the old version")
}

func testConcurrentApply(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := NewClaim("gv-race", types.StateSubmitted, types.PriorityMedium)
	require.NoError(t, s.CreateClaim(ctx, c))
	version := c.Version()

	targets := []types.ClaimState{types.StateUnderReview, types.StateAssigned, types.StateRejected, types.StateUnderReview}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target types.ClaimState) {
			defer wg.Done()
			_, err := s.ApplyTransition(ctx, "gv-race", version, target, T0.Add(time.Duration(i+1)*time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrConcurrencyConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i, target)
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one writer wins")
	assert.Equal(t, len(targets)-1, conflicts)
}

func testSignals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateClaim(ctx, NewClaim("gv-1", types.StateResolved, types.PriorityMedium)))

	has, err := s.HasUnresolvedCriticalSignals(ctx, "gv-1")
	require.NoError(t, err)
	assert.False(t, has)

	sig := &types.CriticalSignal{ClaimID: "gv-1", Summary: "retaliation reported", RaisedAt: T0}
	require.NoError(t, s.RaiseSignal(ctx, sig))
	assert.NotEmpty(t, sig.ID)

	second := &types.CriticalSignal{ClaimID: "gv-1", Summary: "safety", RaisedAt: T0.Add(time.Hour)}
	require.NoError(t, s.RaiseSignal(ctx, second))

	has, err = s.HasUnresolvedCriticalSignals(ctx, "gv-1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.ResolveSignal(ctx, sig.ID, T0.Add(2*time.Hour)))
	has, err = s.HasUnresolvedCriticalSignals(ctx, "gv-1")
	require.NoError(t, err)
	assert.True(t, has, "one signal is still open")

	require.NoError(t, s.ResolveSignal(ctx, second.ID, T0.Add(3*time.Hour)))
	has, err = s.HasUnresolvedCriticalSignals(ctx, "gv-1")
	require.NoError(t, err)
	assert.False(t, has)

	list, err := s.ListSignals(ctx, "gv-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, sig.ID, list[0].ID)
	require.NotNil(t, list[0].ResolvedAt)
	assert.True(t, T0.Add(2*time.Hour).Equal(*list[0].ResolvedAt))

	err = s.ResolveSignal(ctx, "sig-missing", T0)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	err = s.RaiseSignal(ctx, &types.CriticalSignal{ClaimID: "gv-missing", Summary: "x"})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}
