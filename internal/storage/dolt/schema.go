//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schemaStatements are idempotent; they run on every open.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS claims (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    title VARCHAR(500) NOT NULL DEFAULT '',
    state VARCHAR(32) NOT NULL,
    priority VARCHAR(16) NOT NULL,
    state_entered_at DATETIME(6) NOT NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    INDEX idx_claims_state (state),
    INDEX idx_claims_priority (priority)
)`,
	`CREATE TABLE IF NOT EXISTS critical_signals (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    claim_id VARCHAR(64) NOT NULL,
    summary TEXT NOT NULL,
    raised_at DATETIME(6) NOT NULL,
    resolved_at DATETIME(6) NULL,
    INDEX idx_signals_claim (claim_id),
    CONSTRAINT fk_signals_claim FOREIGN KEY (claim_id) REFERENCES claims(id)
)`,
}

func initSchemaOnDB(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w\nStatement: %s", err, truncateForError(stmt))
		}
	}
	return nil
}

// truncateForError truncates a string for use in error messages
func truncateForError(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}
