// Package memory implements the storage contracts in process. When given a
// snapshot path it loads the file on open and rewrites it after every
// mutation. Mutations hold an advisory lock on the snapshot and reload it
// first, so concurrent gv processes sharing one file serialize their writes
// and a stale compare-and-swap fails instead of overwriting.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/grievance/internal/lockfile"
	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/types"
)

// MemoryStorage is a map-backed Store.
type MemoryStorage struct {
	mu      sync.RWMutex
	claims  map[string]*types.Claim
	signals map[string]*types.CriticalSignal
	path    string
	now     func() time.Time
}

var _ storage.Store = (*MemoryStorage)(nil)

type snapshot struct {
	Claims  []*types.Claim          `json:"claims"`
	Signals []*types.CriticalSignal `json:"signals"`
}

// New returns an empty process-local store.
func New() *MemoryStorage {
	return &MemoryStorage{
		claims:  make(map[string]*types.Claim),
		signals: make(map[string]*types.CriticalSignal),
		now:     time.Now,
	}
}

// Open returns a store persisted to path. A missing file starts empty.
func Open(path string) (*MemoryStorage, error) {
	m := New()
	m.path = path
	if path == "" {
		return m, nil
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// load replaces the in-memory maps with the snapshot on disk. A missing file
// leaves them as they are.
func (m *MemoryStorage) load() error {
	data, err := os.ReadFile(m.path) // #nosec G304 - path from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read claim snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse claim snapshot %s: %w", m.path, err)
	}
	claims := make(map[string]*types.Claim, len(snap.Claims))
	for _, c := range snap.Claims {
		claims[c.ID] = c
	}
	signals := make(map[string]*types.CriticalSignal, len(snap.Signals))
	for _, sig := range snap.Signals {
		signals[sig.ID] = sig
	}
	m.claims, m.signals = claims, signals
	return nil
}

// mutate runs fn under the write lock. With a snapshot path it also holds the
// file lock and reloads the snapshot before fn runs.
func (m *MemoryStorage) mutate(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return fn()
	}
	lock, err := lockfile.Exclusive(m.path)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()
	if err := m.load(); err != nil {
		return err
	}
	return fn()
}

// persist rewrites the snapshot. Caller holds the write lock.
func (m *MemoryStorage) persist() error {
	if m.path == "" {
		return nil
	}
	snap := snapshot{
		Claims:  make([]*types.Claim, 0, len(m.claims)),
		Signals: make([]*types.CriticalSignal, 0, len(m.signals)),
	}
	for _, c := range m.claims {
		snap.Claims = append(snap.Claims, c)
	}
	for _, s := range m.signals {
		snap.Signals = append(snap.Signals, s)
	}
	sort.Slice(snap.Claims, func(i, j int) bool { return snap.Claims[i].ID < snap.Claims[j].ID })
	sort.Slice(snap.Signals, func(i, j int) bool { return snap.Signals[i].ID < snap.Signals[j].ID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode claim snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write claim snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace claim snapshot: %w", err)
	}
	return nil
}

func cloneClaim(c *types.Claim) *types.Claim {
	cp := *c
	return &cp
}

func cloneSignal(s *types.CriticalSignal) *types.CriticalSignal {
	cp := *s
	if s.ResolvedAt != nil {
		t := *s.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// CreateClaim stores a copy of claim, assigning an ID and timestamps when
// they are empty.
func (m *MemoryStorage) CreateClaim(ctx context.Context, claim *types.Claim) error {
	if claim.ID == "" {
		claim.ID = storage.NewClaimID()
	}
	now := m.now().UTC()
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = now
	}
	if claim.StateEnteredAt.IsZero() {
		claim.StateEnteredAt = claim.CreatedAt
	}
	if claim.UpdatedAt.IsZero() {
		claim.UpdatedAt = claim.CreatedAt
	}
	if err := claim.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return m.mutate(func() error {
		if _, exists := m.claims[claim.ID]; exists {
			return fmt.Errorf("claim %s: %w", claim.ID, storage.ErrAlreadyExists)
		}
		m.claims[claim.ID] = cloneClaim(claim)
		if err := m.persist(); err != nil {
			delete(m.claims, claim.ID)
			return err
		}
		return nil
	})
}

// GetClaim returns a copy of the claim.
func (m *MemoryStorage) GetClaim(ctx context.Context, id string) (*types.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", id, storage.ErrNotFound)
	}
	return cloneClaim(c), nil
}

// ListClaims returns matching claims ordered by id.
func (m *MemoryStorage) ListClaims(ctx context.Context, filter storage.ClaimFilter) ([]*types.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Claim, 0, len(m.claims))
	for _, c := range m.claims {
		if filter.Matches(c) {
			out = append(out, cloneClaim(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ApplyTransition performs the compare-and-swap under the write lock.
func (m *MemoryStorage) ApplyTransition(ctx context.Context, id string, expected types.StateVersion, next types.ClaimState, enteredAt time.Time) (*types.Claim, error) {
	var out *types.Claim
	err := m.mutate(func() error {
		c, ok := m.claims[id]
		if !ok {
			return fmt.Errorf("claim %s: %w", id, storage.ErrNotFound)
		}
		if !expected.Matches(c) {
			return fmt.Errorf("claim %s is %s since %s, expected %s since %s: %w",
				id, c.State, c.StateEnteredAt.Format(time.RFC3339), expected.State, expected.EnteredAt.Format(time.RFC3339),
				storage.ErrConcurrencyConflict)
		}

		prev := cloneClaim(c)
		c.State = next
		c.StateEnteredAt = enteredAt
		c.UpdatedAt = enteredAt
		if err := m.persist(); err != nil {
			m.claims[id] = prev
			return err
		}
		out = cloneClaim(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RaiseSignal records a new critical signal against an existing claim.
func (m *MemoryStorage) RaiseSignal(ctx context.Context, signal *types.CriticalSignal) error {
	if signal.ID == "" {
		signal.ID = storage.NewSignalID()
	}
	if signal.RaisedAt.IsZero() {
		signal.RaisedAt = m.now().UTC()
	}

	return m.mutate(func() error {
		if _, ok := m.claims[signal.ClaimID]; !ok {
			return fmt.Errorf("claim %s: %w", signal.ClaimID, storage.ErrNotFound)
		}
		if _, exists := m.signals[signal.ID]; exists {
			return fmt.Errorf("signal %s: %w", signal.ID, storage.ErrAlreadyExists)
		}
		m.signals[signal.ID] = cloneSignal(signal)
		if err := m.persist(); err != nil {
			delete(m.signals, signal.ID)
			return err
		}
		return nil
	})
}

// ResolveSignal marks a signal resolved. Resolving twice keeps the first time.
func (m *MemoryStorage) ResolveSignal(ctx context.Context, id string, resolvedAt time.Time) error {
	return m.mutate(func() error {
		s, ok := m.signals[id]
		if !ok {
			return fmt.Errorf("signal %s: %w", id, storage.ErrNotFound)
		}
		if s.ResolvedAt != nil {
			return nil
		}
		t := resolvedAt
		s.ResolvedAt = &t
		if err := m.persist(); err != nil {
			s.ResolvedAt = nil
			return err
		}
		return nil
	})
}

// ListSignals returns a claim's signals, oldest first.
func (m *MemoryStorage) ListSignals(ctx context.Context, claimID string) ([]*types.CriticalSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*types.CriticalSignal{}
	for _, s := range m.signals {
		if s.ClaimID == claimID {
			out = append(out, cloneSignal(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RaisedAt.Equal(out[j].RaisedAt) {
			return out[i].RaisedAt.Before(out[j].RaisedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// HasUnresolvedCriticalSignals reports whether any signal on the claim is open.
func (m *MemoryStorage) HasUnresolvedCriticalSignals(ctx context.Context, claimID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.signals {
		if s.ClaimID == claimID && s.ResolvedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// Close is a no-op; every mutation is already persisted.
func (m *MemoryStorage) Close() error {
	return nil
}
