//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/types"
)

// RaiseSignal records a new critical signal against an existing claim.
func (s *DoltStore) RaiseSignal(ctx context.Context, signal *types.CriticalSignal) error {
	if signal.ID == "" {
		signal.ID = storage.NewSignalID()
	}
	if signal.RaisedAt.IsZero() {
		signal.RaisedAt = s.now()
	}
	signal.RaisedAt = dbTime(signal.RaisedAt)

	if _, err := s.GetClaim(ctx, signal.ClaimID); err != nil {
		return err
	}
	_, err := s.execContext(ctx,
		"INSERT INTO critical_signals (id, claim_id, summary, raised_at) VALUES (?, ?, ?, ?)",
		signal.ID, signal.ClaimID, signal.Summary, signal.RaisedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("signal %s: %w", signal.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to raise signal: %w", err)
	}
	return nil
}

// ResolveSignal marks a signal resolved. Resolving twice keeps the first time.
func (s *DoltStore) ResolveSignal(ctx context.Context, id string, resolvedAt time.Time) error {
	var exists int
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&exists)
	}, "SELECT 1 FROM critical_signals WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("signal %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up signal %s: %w", id, err)
	}

	if _, err := s.execContext(ctx,
		"UPDATE critical_signals SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL",
		dbTime(resolvedAt), id); err != nil {
		return fmt.Errorf("failed to resolve signal %s: %w", id, err)
	}
	return nil
}

// ListSignals returns a claim's signals, oldest first.
func (s *DoltStore) ListSignals(ctx context.Context, claimID string) ([]*types.CriticalSignal, error) {
	rows, err := s.queryContext(ctx,
		"SELECT id, claim_id, summary, raised_at, resolved_at FROM critical_signals WHERE claim_id = ? ORDER BY raised_at, id",
		claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	signals := []*types.CriticalSignal{}
	for rows.Next() {
		var sig types.CriticalSignal
		var resolved sql.NullTime
		if err := rows.Scan(&sig.ID, &sig.ClaimID, &sig.Summary, &sig.RaisedAt, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		sig.RaisedAt = sig.RaisedAt.UTC()
		if resolved.Valid {
			t := resolved.Time.UTC()
			sig.ResolvedAt = &t
		}
		signals = append(signals, &sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	return signals, nil
}

// HasUnresolvedCriticalSignals reports whether any signal on the claim is open.
func (s *DoltStore) HasUnresolvedCriticalSignals(ctx context.Context, claimID string) (bool, error) {
	var n int
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		return row.Scan(&n)
	}, "SELECT COUNT(*) FROM critical_signals WHERE claim_id = ? AND resolved_at IS NULL", claimID)
	if err != nil {
		return false, fmt.Errorf("failed to count signals: %w", err)
	}
	return n > 0, nil
}
