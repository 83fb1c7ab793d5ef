package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/steveyegge/grievance/internal/lifecycle"
	"github.com/steveyegge/grievance/internal/policy"
	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/types"
)

// deniedError signals that the decision was printed and the command should
// exit 2 without further output.
type deniedError struct {
	code types.DenyCode
}

func (e *deniedError) Error() string {
	return fmt.Sprintf("transition denied: %s", e.code)
}

// errorCode classifies err for JSON consumers.
func errorCode(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, storage.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, lifecycle.ErrNoSuchRule):
		return "no_such_rule"
	case errors.Is(err, policy.ErrInvalidPolicy):
		return "invalid_policy"
	default:
		return ""
	}
}

// reportError writes err as "Error: ..." or, in JSON mode, as an error object.
func reportError(w io.Writer, err error) {
	if !jsonOutput {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	errObj := map[string]string{"error": err.Error()}
	if code := errorCode(err); code != "" {
		errObj["code"] = code
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj)
}
