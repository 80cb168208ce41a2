package tracer

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTracer(t *testing.T) *Tracer {
	t.Helper()
	tr, err := New(storage.NewMemory(0), testLogger(), DefaultConfig())
	require.NoError(t, err)
	return tr
}

func span(id uuid.UUID, parent *uuid.UUID, op string, start time.Time, dur time.Duration) model.SpanInput {
	return model.SpanInput{SpanID: &id, ParentSpanID: parent, Operation: op, StartTime: start, Duration: dur}
}

func TestTraceLifecycle(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tr, err := tracer.StartTrace(ctx, "svc-a", "checkout")
	require.NoError(t, err)
	assert.Equal(t, model.TraceStarted, tr.Status)
	assert.Equal(t, 1, tracer.ActiveCount())

	root := uuid.New()
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(root, nil, "handler", base, 100*time.Millisecond))
	require.NoError(t, err)
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(uuid.New(), &root, "db_query", base.Add(10*time.Millisecond), 60*time.Millisecond))
	require.NoError(t, err)

	analysis, err := tracer.Complete(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Equal(t, model.TraceCompleted, analysis.Status)
	assert.Equal(t, 2, analysis.SpanCount)
	assert.Zero(t, tracer.ActiveCount())

	got, err := tracer.GetAnalysis(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Equal(t, analysis.TraceID, got.TraceID)
}

func TestAddSpanRejections(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tr, err := tracer.StartTrace(ctx, "svc-a", "checkout")
	require.NoError(t, err)

	t.Run("dangling parent", func(t *testing.T) {
		missing := uuid.New()
		_, err := tracer.AddSpan(ctx, tr.TraceID, span(uuid.New(), &missing, "orphan", base, time.Millisecond))
		assert.ErrorIs(t, err, model.ErrDanglingParent)
	})

	t.Run("duplicate span id", func(t *testing.T) {
		id := uuid.New()
		_, err := tracer.AddSpan(ctx, tr.TraceID, span(id, nil, "first", base, time.Millisecond))
		require.NoError(t, err)
		_, err = tracer.AddSpan(ctx, tr.TraceID, span(id, nil, "second", base, time.Millisecond))
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("empty operation", func(t *testing.T) {
		_, err := tracer.AddSpan(ctx, tr.TraceID, model.SpanInput{StartTime: base, Duration: time.Millisecond})
		assert.ErrorIs(t, err, model.ErrValidation)
	})

	t.Run("unknown trace", func(t *testing.T) {
		_, err := tracer.AddSpan(ctx, uuid.New(), span(uuid.New(), nil, "op", base, time.Millisecond))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("sealed trace", func(t *testing.T) {
		_, err := tracer.Complete(ctx, tr.TraceID)
		require.NoError(t, err)
		_, err = tracer.AddSpan(ctx, tr.TraceID, span(uuid.New(), nil, "late", base, time.Millisecond))
		assert.ErrorIs(t, err, model.ErrInvalidState)
		_, err = tracer.Complete(ctx, tr.TraceID)
		assert.ErrorIs(t, err, model.ErrInvalidState)
	})
}

func TestAnalysisCriticalPath(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tr, err := tracer.StartTrace(ctx, "svc-a", "checkout")
	require.NoError(t, err)

	// root(100ms) -> slow(70ms) and fast(20ms): critical path root->slow.
	root, slow, fast := uuid.New(), uuid.New(), uuid.New()
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(root, nil, "handler", base, 100*time.Millisecond))
	require.NoError(t, err)
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(slow, &root, "db_query", base.Add(5*time.Millisecond), 70*time.Millisecond))
	require.NoError(t, err)
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(fast, &root, "cache_get", base.Add(5*time.Millisecond), 20*time.Millisecond))
	require.NoError(t, err)

	analysis, err := tracer.Complete(ctx, tr.TraceID)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{root, slow}, analysis.CriticalPath)
	assert.Equal(t, 170*time.Millisecond, analysis.CriticalPathDuration)
	assert.Equal(t, 100*time.Millisecond, analysis.TotalDuration)
}

func TestAnalysisCriticalPathTieBreaksOnEarlierStart(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tr, err := tracer.StartTrace(ctx, "svc-a", "checkout")
	require.NoError(t, err)

	root, early, late := uuid.New(), uuid.New(), uuid.New()
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(root, nil, "handler", base, 100*time.Millisecond))
	require.NoError(t, err)
	// Children are added late-starter first; equal durations must still
	// resolve to the earlier start.
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(late, &root, "late", base.Add(50*time.Millisecond), 40*time.Millisecond))
	require.NoError(t, err)
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(early, &root, "early", base.Add(10*time.Millisecond), 40*time.Millisecond))
	require.NoError(t, err)

	analysis, err := tracer.Complete(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{root, early}, analysis.CriticalPath)
}

func TestAnalysisSingleSpanIsItsOwnBottleneck(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tr, err := tracer.StartTrace(ctx, "svc-a", "checkout")
	require.NoError(t, err)
	only := uuid.New()
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(only, nil, "everything", base, 50*time.Millisecond))
	require.NoError(t, err)

	analysis, err := tracer.Complete(ctx, tr.TraceID)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{only}, analysis.CriticalPath)
	assert.Equal(t, 50*time.Millisecond, analysis.TotalDuration)
	require.Len(t, analysis.Bottlenecks, 1)
	assert.Equal(t, only, analysis.Bottlenecks[0].SpanID)
	assert.Equal(t, 1.0, analysis.Bottlenecks[0].ShareOfTotal)
	assert.Equal(t, model.SeverityCritical, analysis.Bottlenecks[0].Severity)
}

func TestAnalysisBottleneckShareAndSelfTime(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tr, err := tracer.StartTrace(ctx, "svc-a", "checkout")
	require.NoError(t, err)

	// Total 100ms. root self time = 100-90 = 10ms (no bottleneck);
	// child self time = 90-30 = 60ms (bottleneck, severe at 60%).
	root, child, grandchild := uuid.New(), uuid.New(), uuid.New()
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(root, nil, "handler", base, 100*time.Millisecond))
	require.NoError(t, err)
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(child, &root, "render", base.Add(5*time.Millisecond), 90*time.Millisecond))
	require.NoError(t, err)
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(grandchild, &child, "fetch", base.Add(10*time.Millisecond), 30*time.Millisecond))
	require.NoError(t, err)

	analysis, err := tracer.Complete(ctx, tr.TraceID)
	require.NoError(t, err)
	require.Len(t, analysis.Bottlenecks, 1)
	assert.Equal(t, child, analysis.Bottlenecks[0].SpanID)
	assert.Equal(t, 60*time.Millisecond, analysis.Bottlenecks[0].SelfTime)
	assert.Equal(t, model.SeveritySevere, analysis.Bottlenecks[0].Severity)
}

func TestAnalysisConcurrentSiblingsUseWallClock(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tr, err := tracer.StartTrace(ctx, "svc-a", "fanout")
	require.NoError(t, err)

	// Two parallel roots overlapping in time: total is wall clock, not sum.
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(uuid.New(), nil, "left", base, 80*time.Millisecond))
	require.NoError(t, err)
	_, err = tracer.AddSpan(ctx, tr.TraceID, span(uuid.New(), nil, "right", base.Add(20*time.Millisecond), 80*time.Millisecond))
	require.NoError(t, err)

	analysis, err := tracer.Complete(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, analysis.TotalDuration)
}

func TestAnalysisErrorCount(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tr, err := tracer.StartTrace(ctx, "svc-a", "checkout")
	require.NoError(t, err)

	in := span(uuid.New(), nil, "handler", base, 10*time.Millisecond)
	in.Failed = true
	_, err = tracer.AddSpan(ctx, tr.TraceID, in)
	require.NoError(t, err)

	analysis, err := tracer.Complete(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.ErrorCount)
}

func TestTimeoutSweepAbortsStaleTraces(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)

	tr, err := tracer.StartTrace(ctx, "svc-a", "stuck")
	require.NoError(t, err)

	// Move the clock past the trace deadline and sweep.
	tracer.now = func() time.Time { return time.Now().UTC().Add(tracer.cfg.TraceTimeout + time.Minute) }
	tracer.sweepExpired(ctx)

	assert.Zero(t, tracer.ActiveCount())
	analysis, err := tracer.GetAnalysis(ctx, tr.TraceID)
	require.NoError(t, err)
	assert.Equal(t, model.TraceAborted, analysis.Status)
	assert.Zero(t, analysis.SpanCount)
}

func TestCompareTraces(t *testing.T) {
	ctx := context.Background()
	tracer := newTracer(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	run := func(dur time.Duration) uuid.UUID {
		tr, err := tracer.StartTrace(ctx, "svc-a", "checkout")
		require.NoError(t, err)
		_, err = tracer.AddSpan(ctx, tr.TraceID, span(uuid.New(), nil, "handler", base, dur))
		require.NoError(t, err)
		_, err = tracer.Complete(ctx, tr.TraceID)
		require.NoError(t, err)
		return tr.TraceID
	}

	baseline := run(100 * time.Millisecond)
	candidate := run(150 * time.Millisecond)

	cmp, err := tracer.CompareTraces(ctx, baseline, candidate)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, cmp.DeltaPercent, 1e-9)
	assert.Equal(t, 100*time.Millisecond, cmp.BaselineDuration)
	assert.Equal(t, 150*time.Millisecond, cmp.CurrentDuration)

	_, err = tracer.CompareTraces(ctx, uuid.New(), candidate)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
