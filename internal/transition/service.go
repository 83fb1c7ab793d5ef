// Package transition is the caller the lifecycle validator expects: it
// fetches a claim, validates the proposed change against the current policy,
// audits the decision, and persists admitted changes under a
// compare-and-swap guard.
package transition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/grievance/internal/audit"
	"github.com/steveyegge/grievance/internal/clock"
	"github.com/steveyegge/grievance/internal/debug"
	"github.com/steveyegge/grievance/internal/policy"
	"github.com/steveyegge/grievance/internal/sla"
	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/telemetry"
	"github.com/steveyegge/grievance/internal/types"
)

const scopeName = "github.com/steveyegge/grievance/transition"

// DefaultMaxAttempts bounds validate-and-apply rounds after conflicts.
const DefaultMaxAttempts = 3

// DefaultReportConcurrency bounds concurrent signal lookups in SLAReport.
const DefaultReportConcurrency = 8

// Command is a request to move one claim to a new state.
type Command struct {
	ClaimID          string
	Target           types.ClaimState
	Actor            string
	Role             types.Role
	HasDocumentation bool
	Notes            string
}

// Outcome reports what Apply or Preview decided.
type Outcome struct {
	// Claim is the stored claim after the change when Applied, otherwise the
	// claim as last read.
	Claim    *types.Claim            `json:"claim"`
	Request  types.TransitionRequest `json:"request"`
	Result   types.TransitionResult  `json:"result"`
	Applied  bool                    `json:"applied"`
	Attempts int                     `json:"attempts"`
	AuditID  string                  `json:"audit_id,omitempty"`
}

// PolicySource returns the policy in force for one call. Reloads take effect
// on the next call; a call never observes a mix of two policies.
type PolicySource func() *policy.Policy

// Service applies transitions. It is safe for concurrent use.
type Service struct {
	claims      storage.ClaimStore
	signals     storage.SignalStore
	recorder    audit.Recorder
	policies    PolicySource
	clock       clock.Clock
	maxAttempts int
	concurrency int
	newBackOff  func() backoff.BackOff

	instOnce  sync.Once
	tracer    trace.Tracer
	decisions metric.Int64Counter
	conflicts metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the source of "now".
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMaxAttempts bounds validate-and-apply rounds. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithReportConcurrency bounds concurrent lookups in SLAReport.
func WithReportConcurrency(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.concurrency = n
		}
	}
}

// WithBackOff sets the pause policy between conflict retries.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackOff = fn }
}

// New returns a Service. policies is consulted once per attempt.
func New(claims storage.ClaimStore, signals storage.SignalStore, recorder audit.Recorder, policies PolicySource, opts ...Option) *Service {
	s := &Service{
		claims:      claims,
		signals:     signals,
		recorder:    recorder,
		policies:    policies,
		clock:       clock.Real(),
		maxAttempts: DefaultMaxAttempts,
		concurrency: DefaultReportConcurrency,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

func (s *Service) instruments() {
	s.instOnce.Do(func() {
		s.tracer = telemetry.Tracer(scopeName)
		m := telemetry.Meter(scopeName)
		s.decisions, _ = m.Int64Counter("gv.transition.decisions",
			metric.WithDescription("Transition validation decisions"),
		)
		s.conflicts, _ = m.Int64Counter("gv.transition.conflicts",
			metric.WithDescription("Transitions that lost a compare-and-swap race"),
		)
	})
}

func (c Command) validate() error {
	if strings.TrimSpace(c.ClaimID) == "" {
		return fmt.Errorf("claim id is required")
	}
	if !c.Target.IsValid() {
		return fmt.Errorf("invalid target state: %q", c.Target)
	}
	return nil
}

// evaluate reads the claim and its signals and validates cmd at now.
func (s *Service) evaluate(ctx context.Context, cmd Command, p *policy.Policy, now time.Time) (*Outcome, error) {
	claim, err := s.claims.GetClaim(ctx, cmd.ClaimID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.signals.HasUnresolvedCriticalSignals(ctx, cmd.ClaimID)
	if err != nil {
		return nil, fmt.Errorf("failed to read critical signals for %s: %w", cmd.ClaimID, err)
	}
	req := types.TransitionRequest{
		ClaimID:                      claim.ID,
		CurrentState:                 claim.State,
		TargetState:                  cmd.Target,
		ActorID:                      cmd.Actor,
		ActorRole:                    cmd.Role,
		Priority:                     claim.Priority,
		StateEnteredAt:               claim.StateEnteredAt,
		HasUnresolvedCriticalSignals: blocked,
		HasRequiredDocumentation:     cmd.HasDocumentation,
		Notes:                        cmd.Notes,
	}
	return &Outcome{
		Claim:   claim,
		Request: req,
		Result:  p.Validator().Validate(req, now),
	}, nil
}

// Preview validates cmd against the stored claim without auditing or applying.
func (s *Service) Preview(ctx context.Context, cmd Command) (*Outcome, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	out, err := s.evaluate(ctx, cmd, s.policies(), s.clock.Now())
	if err != nil {
		return nil, err
	}
	out.Attempts = 1
	return out, nil
}

// Apply validates cmd, records the decision, and persists an admitted change.
// A denial is returned as an Outcome, not an error. When the claim changes
// between validation and apply, the conflict is audited and the command is
// re-validated against the fresh claim, up to the attempt limit; exhausting
// it returns an error wrapping storage.ErrConcurrencyConflict.
func (s *Service) Apply(ctx context.Context, cmd Command) (*Outcome, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	s.instruments()
	ctx, span := s.tracer.Start(ctx, "transition.Apply",
		trace.WithAttributes(
			attribute.String("gv.claim.id", cmd.ClaimID),
			attribute.String("gv.transition.to", string(cmd.Target)),
			attribute.String("gv.actor.role", string(cmd.Role)),
		),
	)
	defer span.End()

	var (
		out     *Outcome
		attempt int
	)
	op := func() error {
		attempt++
		o, err := s.attempt(ctx, cmd, attempt)
		if err != nil {
			if errors.Is(err, storage.ErrConcurrencyConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = o
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, storage.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("claim %s: gave up after %d attempt(s): %w", cmd.ClaimID, attempt, err)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("gv.transition.allowed", out.Result.Allowed),
		attribute.Bool("gv.transition.applied", out.Applied),
		attribute.Int("gv.transition.attempts", out.Attempts),
	)
	return out, nil
}

// attempt runs one validate-audit-apply round.
func (s *Service) attempt(ctx context.Context, cmd Command, n int) (*Outcome, error) {
	p := s.policies()
	now := s.clock.Now()

	out, err := s.evaluate(ctx, cmd, p, now)
	if err != nil {
		return nil, err
	}
	out.Attempts = n

	entry := newEntry(audit.KindValidation, n, out, p.Source)
	id, err := s.recorder.Append(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to audit transition of %s: %w", cmd.ClaimID, err)
	}
	out.AuditID = id

	s.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(out.Request.CurrentState)),
		attribute.String("to", string(out.Request.TargetState)),
		attribute.Bool("allowed", out.Result.Allowed),
		attribute.String("code", string(out.Result.Code)),
	))

	if !out.Result.Allowed {
		debug.Logf("transition %s %s -> %s denied: %s", cmd.ClaimID, out.Request.CurrentState, cmd.Target, out.Result.Code)
		return out, nil
	}

	updated, err := s.claims.ApplyTransition(ctx, cmd.ClaimID, out.Claim.Version(), cmd.Target, now)
	if errors.Is(err, storage.ErrConcurrencyConflict) {
		s.conflicts.Add(ctx, 1)
		debug.Logf("transition %s attempt %d lost a race: %v", cmd.ClaimID, n, err)
		conflict := newEntry(audit.KindConflict, n, out, p.Source)
		conflict.Outcome = audit.OutcomeConflict
		conflict.Reason = err.Error()
		if _, aerr := s.recorder.Append(conflict); aerr != nil {
			return nil, fmt.Errorf("failed to audit conflict on %s: %w", cmd.ClaimID, aerr)
		}
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition to %s: %w", cmd.ClaimID, err)
	}

	out.Claim = updated
	out.Applied = true
	return out, nil
}

func newEntry(kind string, attempt int, out *Outcome, source string) *audit.Entry {
	req, res := out.Request, out.Result
	outcome := audit.OutcomeDenied
	if res.Allowed {
		outcome = audit.OutcomeAllowed
	}
	return &audit.Entry{
		Kind:                         kind,
		Outcome:                      outcome,
		Attempt:                      attempt,
		ClaimID:                      req.ClaimID,
		Actor:                        req.ActorID,
		Role:                         req.ActorRole,
		From:                         req.CurrentState,
		To:                           req.TargetState,
		Priority:                     req.Priority,
		Allowed:                      res.Allowed,
		Code:                         res.Code,
		Reason:                       res.Reason,
		RequiredActions:              res.RequiredActions,
		Warnings:                     res.Warnings,
		Metadata:                     res.Metadata,
		Notes:                        req.Notes,
		HasDocumentation:             req.HasRequiredDocumentation,
		HasUnresolvedCriticalSignals: req.HasUnresolvedCriticalSignals,
		PolicySource:                 source,
	}
}

// SLAReport evaluates every open claim at now, most urgent first.
func (s *Service) SLAReport(ctx context.Context, now time.Time) ([]sla.Status, error) {
	claims, err := s.claims.ListClaims(ctx, storage.ClaimFilter{})
	if err != nil {
		return nil, err
	}
	p := s.policies()
	warn := p.Options.SLAWarnWithinDays

	statuses := make([]sla.Status, len(claims))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range claims {
		g.Go(func() error {
			blocked, err := s.signals.HasUnresolvedCriticalSignals(gctx, c.ID)
			if err != nil {
				return fmt.Errorf("failed to read critical signals for %s: %w", c.ID, err)
			}
			st := p.SLA.Evaluate(c, now, warn)
			st.CriticalSignals = blocked
			statuses[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sla.SortByUrgency(statuses)
	return statuses, nil
}
