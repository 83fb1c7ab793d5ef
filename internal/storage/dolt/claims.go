//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/types"
)

// dbTime normalizes to what DATETIME(6) stores, so a version read back
// compares equal to the one written.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// landed reports whether current already is the result of moving to next at
// enteredAt. enteredAt must be in dbTime precision.
func landed(current *types.Claim, next types.ClaimState, enteredAt time.Time) bool {
	return current.State == next && dbTime(current.StateEnteredAt).Equal(enteredAt)
}

// isDuplicateKey recognizes primary-key violations from both drivers.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate")
}

// isSerializationFailure recognizes Dolt rejecting a commit that raced
// another writer on the same row.
func isSerializationFailure(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1213 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "serialization failure") || strings.Contains(msg, "transaction conflicts")
}

const claimColumns = "id, title, state, priority, state_entered_at, created_at, updated_at"

func scanClaim(scan func(dest ...any) error) (*types.Claim, error) {
	var c types.Claim
	var state, priority string
	if err := scan(&c.ID, &c.Title, &state, &priority, &c.StateEnteredAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.State = types.ClaimState(state)
	c.Priority = types.Priority(priority)
	c.StateEnteredAt = c.StateEnteredAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// CreateClaim inserts claim, assigning an ID and timestamps when empty.
func (s *DoltStore) CreateClaim(ctx context.Context, claim *types.Claim) error {
	if claim.ID == "" {
		claim.ID = storage.NewClaimID()
	}
	now := dbTime(s.now())
	if claim.CreatedAt.IsZero() {
		claim.CreatedAt = now
	}
	if claim.StateEnteredAt.IsZero() {
		claim.StateEnteredAt = claim.CreatedAt
	}
	if claim.UpdatedAt.IsZero() {
		claim.UpdatedAt = claim.CreatedAt
	}
	claim.CreatedAt = dbTime(claim.CreatedAt)
	claim.StateEnteredAt = dbTime(claim.StateEnteredAt)
	claim.UpdatedAt = dbTime(claim.UpdatedAt)
	if err := claim.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	_, err := s.execContext(ctx,
		"INSERT INTO claims ("+claimColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		claim.ID, claim.Title, string(claim.State), string(claim.Priority),
		claim.StateEnteredAt, claim.CreatedAt, claim.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("claim %s: %w", claim.ID, storage.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

// GetClaim loads one claim.
func (s *DoltStore) GetClaim(ctx context.Context, id string) (*types.Claim, error) {
	var claim *types.Claim
	err := s.queryRowContext(ctx, func(row *sql.Row) error {
		c, err := scanClaim(row.Scan)
		claim = c
		return err
	}, "SELECT "+claimColumns+" FROM claims WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim %s: %w", id, err)
	}
	return claim, nil
}

// ListClaims returns matching claims ordered by id.
func (s *DoltStore) ListClaims(ctx context.Context, filter storage.ClaimFilter) ([]*types.Claim, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, st := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(placeholders, ", ")+")")
	} else if !filter.IncludeClosed {
		where = append(where, "state <> ?")
		args = append(args, string(types.StateClosed))
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(filter.Priority))
	}

	query := "SELECT " + claimColumns + " FROM claims"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	claims := []*types.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	return claims, nil
}

// ApplyTransition is a conditional UPDATE guarded on the expected version.
// Zero matched rows means the claim is gone, has moved on, or already holds
// this very write: server-mode retry can resend an UPDATE whose first
// attempt committed before the connection dropped.
func (s *DoltStore) ApplyTransition(ctx context.Context, id string, expected types.StateVersion, next types.ClaimState, enteredAt time.Time) (*types.Claim, error) {
	enteredAt = dbTime(enteredAt)
	res, err := s.execContext(ctx,
		`UPDATE claims SET state = ?, state_entered_at = ?, updated_at = ?
		 WHERE id = ? AND state = ? AND state_entered_at = ?`,
		string(next), enteredAt, enteredAt,
		id, string(expected.State), dbTime(expected.EnteredAt))
	if err != nil {
		if isSerializationFailure(err) {
			return nil, fmt.Errorf("claim %s: %v: %w", id, err, storage.ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("failed to apply transition to %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition to %s: %w", id, err)
	}
	if n == 0 {
		current, err := s.GetClaim(ctx, id)
		if err != nil {
			return nil, err
		}
		if landed(current, next, enteredAt) {
			return current, nil
		}
		return nil, fmt.Errorf("claim %s is %s since %s, expected %s since %s: %w",
			id, current.State, current.StateEnteredAt.Format(time.RFC3339), expected.State, expected.EnteredAt.Format(time.RFC3339),
			storage.ErrConcurrencyConflict)
	}
	return s.GetClaim(ctx, id)
}
