package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/types"
)

const storageScopeName = "github.com/steveyegge/grievance/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in gv.storage.* metrics.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s)
}

func newInstrumentedStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("gv.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("gv.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("gv.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error) {
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1)
	}
	span.End()
}

func claimAttr(id string) attribute.KeyValue {
	return attribute.String("gv.claim.id", id)
}

// CreateClaim implements storage.ClaimStore.
func (s *InstrumentedStore) CreateClaim(ctx context.Context, claim *types.Claim) error {
	ctx, span, t := s.op(ctx, "CreateClaim", attribute.String("gv.claim.priority", string(claim.Priority)))
	err := s.inner.CreateClaim(ctx, claim)
	s.done(ctx, span, t, err)
	return err
}

// GetClaim implements storage.ClaimStore.
func (s *InstrumentedStore) GetClaim(ctx context.Context, id string) (*types.Claim, error) {
	ctx, span, t := s.op(ctx, "GetClaim", claimAttr(id))
	c, err := s.inner.GetClaim(ctx, id)
	s.done(ctx, span, t, err)
	return c, err
}

// ListClaims implements storage.ClaimStore.
func (s *InstrumentedStore) ListClaims(ctx context.Context, filter storage.ClaimFilter) ([]*types.Claim, error) {
	ctx, span, t := s.op(ctx, "ListClaims")
	claims, err := s.inner.ListClaims(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("gv.result.count", len(claims)))
	}
	s.done(ctx, span, t, err)
	return claims, err
}

// ApplyTransition implements storage.ClaimStore.
func (s *InstrumentedStore) ApplyTransition(ctx context.Context, id string, expected types.StateVersion, next types.ClaimState, enteredAt time.Time) (*types.Claim, error) {
	ctx, span, t := s.op(ctx, "ApplyTransition", claimAttr(id),
		attribute.String("gv.transition.from", string(expected.State)),
		attribute.String("gv.transition.to", string(next)),
	)
	c, err := s.inner.ApplyTransition(ctx, id, expected, next, enteredAt)
	s.done(ctx, span, t, err)
	return c, err
}

// RaiseSignal implements storage.SignalStore.
func (s *InstrumentedStore) RaiseSignal(ctx context.Context, signal *types.CriticalSignal) error {
	ctx, span, t := s.op(ctx, "RaiseSignal", claimAttr(signal.ClaimID))
	err := s.inner.RaiseSignal(ctx, signal)
	s.done(ctx, span, t, err)
	return err
}

// ResolveSignal implements storage.SignalStore.
func (s *InstrumentedStore) ResolveSignal(ctx context.Context, id string, resolvedAt time.Time) error {
	ctx, span, t := s.op(ctx, "ResolveSignal", attribute.String("gv.signal.id", id))
	err := s.inner.ResolveSignal(ctx, id, resolvedAt)
	s.done(ctx, span, t, err)
	return err
}

// ListSignals implements storage.SignalStore.
func (s *InstrumentedStore) ListSignals(ctx context.Context, claimID string) ([]*types.CriticalSignal, error) {
	ctx, span, t := s.op(ctx, "ListSignals", claimAttr(claimID))
	sigs, err := s.inner.ListSignals(ctx, claimID)
	s.done(ctx, span, t, err)
	return sigs, err
}

// HasUnresolvedCriticalSignals implements storage.SignalStore.
func (s *InstrumentedStore) HasUnresolvedCriticalSignals(ctx context.Context, claimID string) (bool, error) {
	ctx, span, t := s.op(ctx, "HasUnresolvedCriticalSignals", claimAttr(claimID))
	ok, err := s.inner.HasUnresolvedCriticalSignals(ctx, claimID)
	s.done(ctx, span, t, err)
	return ok, err
}

// Close implements storage.Store.
func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
