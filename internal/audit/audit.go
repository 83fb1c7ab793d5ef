// Package audit keeps an append-only JSONL record of every transition
// decision. Entries are never rewritten or deleted; Archive rotates the
// current file aside and the next Append starts a fresh one.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/grievance/internal/types"
)

// FileName is the default audit log name inside the project directory.
const FileName = "audit.jsonl"

// ErrNoLog is returned by Archive when there is nothing to rotate.
var ErrNoLog = errors.New("no audit log to archive")

// Entry kinds.
const (
	KindValidation = "validation"
	KindConflict   = "conflict"
)

// Outcomes.
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeConflict = "conflict"
)

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Kind      string    `json:"kind"`
	Outcome   string    `json:"outcome"`
	Attempt   int       `json:"attempt,omitempty"`

	ClaimID  string           `json:"claim_id"`
	Actor    string           `json:"actor,omitempty"`
	Role     types.Role       `json:"role,omitempty"`
	From     types.ClaimState `json:"from,omitempty"`
	To       types.ClaimState `json:"to,omitempty"`
	Priority types.Priority   `json:"priority,omitempty"`

	Allowed         bool                      `json:"allowed"`
	Code            types.DenyCode            `json:"code,omitempty"`
	Reason          string                    `json:"reason,omitempty"`
	RequiredActions []string                  `json:"required_actions,omitempty"`
	Warnings        []string                  `json:"warnings,omitempty"`
	Metadata        *types.TransitionMetadata `json:"metadata,omitempty"`

	Notes                        string `json:"notes,omitempty"`
	HasDocumentation             bool   `json:"has_documentation"`
	HasUnresolvedCriticalSignals bool   `json:"has_unresolved_critical_signals"`
	PolicySource                 string `json:"policy_source,omitempty"`
}

// Recorder accepts audit entries. *Log implements it.
type Recorder interface {
	Append(e *Entry) (string, error)
}

// Log is a JSONL audit file. It is safe for concurrent use within a process;
// O_APPEND keeps whole lines intact across processes.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewLog returns a log writing to path. The file and its directory are
// created on first Append.
func NewLog(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the file the log appends to.
func (l *Log) Path() string { return l.path }

// Append writes e as one JSON line and returns its id. A missing ID or
// CreatedAt is filled in.
func (l *Log) Append(e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil audit entry")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if strings.TrimSpace(e.Kind) == "" {
		return "", fmt.Errorf("audit entry kind is required")
	}

	line, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return "", fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 - path from config
	if err != nil {
		return "", fmt.Errorf("failed to open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close audit log: %w", err)
	}
	return e.ID, nil
}

// Filter narrows Read results. Zero values match everything.
type Filter struct {
	ClaimID string
	Kind    string
	// Limit keeps only the most recent N entries.
	Limit int
}

func (f Filter) matches(e *Entry) bool {
	if f.ClaimID != "" && e.ClaimID != f.ClaimID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}

// Read returns entries in append order. A missing file reads as empty.
func (l *Log) Read(filter Filter) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readFile(l.path, filter)
}

func readFile(path string, filter Filter) ([]*Entry, error) {
	f, err := os.Open(path) // #nosec G304 - path from config
	if err != nil {
		if os.IsNotExist(err) {
			return []*Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Lines are unbounded: notes are free text and every entry must stay
	// readable no matter how long one of them got.
	entries := []*Entry{}
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("failed to read audit log: %w", readErr)
		}
		if len(strings.TrimSpace(string(line))) > 0 {
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				return nil, fmt.Errorf("%s:%d: malformed audit entry: %w", path, lineNo, err)
			}
			if filter.matches(&e) {
				entries = append(entries, &e)
			}
		}
		if readErr != nil {
			break
		}
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[len(entries)-filter.Limit:]
	}
	return entries, nil
}

// Archive moves the current log into dir under a timestamped name and
// returns the new path. Entries are preserved; only the live file changes.
func (l *Log) Archive(dir string, now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoLog
		}
		return "", fmt.Errorf("failed to stat audit log: %w", err)
	}
	if info.Size() == 0 {
		return "", ErrNoLog
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(l.path), filepath.Ext(l.path))
	stamp := now.UTC().Format("20060102T150405Z")
	dest := filepath.Join(dir, fmt.Sprintf("%s-%s.jsonl", base, stamp))
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(dir, fmt.Sprintf("%s-%s-%d.jsonl", base, stamp, i))
	}

	if err := os.Rename(l.path, dest); err != nil {
		return "", fmt.Errorf("failed to archive audit log: %w", err)
	}
	return dest, nil
}

// ReadArchive reads a rotated file with the same filtering as Read.
func ReadArchive(path string, filter Filter) ([]*Entry, error) {
	return readFile(path, filter)
}
