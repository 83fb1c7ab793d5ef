// Package storage defines the persistence contracts for claims and critical
// signals. Implementations live in the memory and dolt sub-packages; the
// lifecycle engine never touches storage directly.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/grievance/internal/types"
)

// ErrNotFound is returned when a requested claim or signal does not exist.
var ErrNotFound = errors.New("not found")

// ErrConcurrencyConflict is returned by ApplyTransition when the claim's
// state version no longer matches the one the caller validated against.
// Callers should re-fetch and re-validate rather than retry blindly.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ErrAlreadyExists is returned when creating a claim whose ID is taken.
var ErrAlreadyExists = errors.New("already exists")

// ClaimFilter narrows ListClaims. Zero values match everything except
// closed claims, which need IncludeClosed or an explicit state.
type ClaimFilter struct {
	States        []types.ClaimState
	Priority      types.Priority
	IncludeClosed bool
}

// Matches reports whether c passes the filter.
func (f ClaimFilter) Matches(c *types.Claim) bool {
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if c.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	} else if !f.IncludeClosed && c.State.IsTerminal() {
		return false
	}
	if f.Priority != "" && c.Priority != f.Priority {
		return false
	}
	return true
}

// ClaimStore persists claims. ApplyTransition is the only way a claim's
// state changes, and it is a compare-and-swap on the StateVersion.
type ClaimStore interface {
	CreateClaim(ctx context.Context, claim *types.Claim) error
	GetClaim(ctx context.Context, id string) (*types.Claim, error)
	ListClaims(ctx context.Context, filter ClaimFilter) ([]*types.Claim, error)

	// ApplyTransition moves claim id to next with enteredAt as the new
	// StateEnteredAt, provided its current version equals expected.
	// Returns ErrConcurrencyConflict otherwise, and ErrNotFound for an
	// unknown id.
	ApplyTransition(ctx context.Context, id string, expected types.StateVersion, next types.ClaimState, enteredAt time.Time) (*types.Claim, error)
}

// SignalStore persists critical signals raised against claims.
type SignalStore interface {
	RaiseSignal(ctx context.Context, signal *types.CriticalSignal) error
	ResolveSignal(ctx context.Context, id string, resolvedAt time.Time) error
	ListSignals(ctx context.Context, claimID string) ([]*types.CriticalSignal, error)
	HasUnresolvedCriticalSignals(ctx context.Context, claimID string) (bool, error)
}

// Store is the full backend surface the CLI opens.
type Store interface {
	ClaimStore
	SignalStore
	Close() error
}

// NewClaimID returns a fresh claim id such as "gv-3f9a1c2e".
func NewClaimID() string {
	return "gv-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewSignalID returns a fresh critical signal id.
func NewSignalID() string {
	return "sig-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
