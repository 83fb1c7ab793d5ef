package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/storage/memory"
	"github.com/steveyegge/grievance/internal/storage/storagetest"
	"github.com/steveyegge/grievance/internal/types"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("GV_OTEL_ENABLED", "")
	s := SettingsFromEnv("gv", "test")
	assert.False(t, s.Enabled)

	shutdown, err := Init(context.Background(), s)
	require.NoError(t, err)

	_, span := Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("GV_OTEL_ENABLED", "true")
	t.Setenv("GV_OTEL_STDOUT", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_SERVICE_NAME", "grievance-prod")

	s := SettingsFromEnv("gv", "1.2.3")
	assert.True(t, s.Enabled)
	assert.True(t, s.Stdout)
	assert.Equal(t, "grievance-prod", s.ServiceName)
	assert.Equal(t, "1.2.3", s.ServiceVersion)
	// Metrics follow the shared endpoint unless overridden.
	assert.Equal(t, "localhost:4318", s.MetricsEndpoint)

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "http://metrics:4318")
	assert.Equal(t, "http://metrics:4318", SettingsFromEnv("gv", "").MetricsEndpoint)
}

func TestInitEnabledStdoutTracesSpans(t *testing.T) {
	shutdown, err := Init(context.Background(), Settings{Enabled: true, ServiceName: "gv-test"})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = Init(context.Background(), Settings{})
	})

	_, span := Tracer("").Start(context.Background(), "apply")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestWrapStoreDisabledReturnsInner(t *testing.T) {
	t.Setenv("GV_OTEL_ENABLED", "")
	inner := memory.New()
	assert.Same(t, storage.Store(inner), WrapStore(inner))
}

func TestWrapStoreEnabledWraps(t *testing.T) {
	t.Setenv("GV_OTEL_ENABLED", "true")
	inner := memory.New()
	_, ok := WrapStore(inner).(*InstrumentedStore)
	assert.True(t, ok)
}

func TestInstrumentedStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newInstrumentedStore(memory.New())
	})
}

func TestInstrumentedStorePassesErrorsThrough(t *testing.T) {
	s := newInstrumentedStore(memory.New())
	ctx := context.Background()

	_, err := s.GetClaim(ctx, "gv-missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	c := storagetest.NewClaim("gv-1", types.StateSubmitted, types.PriorityHigh)
	require.NoError(t, s.CreateClaim(ctx, c))
	_, err = s.ApplyTransition(ctx, "gv-1", types.StateVersion{State: types.StateAssigned, EnteredAt: c.StateEnteredAt}, types.StateInvestigation, c.StateEnteredAt.Add(time.Hour))
	assert.True(t, errors.Is(err, storage.ErrConcurrencyConflict))
}
