package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
	"github.com/strellerminds/pulse/internal/storage/postgres"
	"github.com/strellerminds/pulse/internal/testutil"
)

// testStore holds a shared test database connection for all tests in
// this package.
var testStore *postgres.Store

func TestMain(m *testing.M) {
	ctx := context.Background()

	if !testutil.DockerAvailable() {
		fmt.Fprintln(os.Stderr, "docker not available, skipping postgres integration tests")
		os.Exit(0)
	}

	tc := testutil.MustStartPostgres()

	var err error
	testStore, err = tc.NewTestStore(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create store: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testStore.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func TestAppendAndQuerySamples(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	samples := []model.MetricSample{
		{Subject: "svc-a", Metric: "latency_ms", Value: 120, Timestamp: base},
		{Subject: "svc-a", Metric: "latency_ms", Value: 130, Timestamp: base.Add(time.Minute)},
		{Subject: "svc-a", Metric: "latency_ms", Value: 140, Timestamp: base.Add(2 * time.Minute)},
		{Subject: "svc-a", Metric: "error_rate", Value: 0.01, Timestamp: base},
	}
	require.NoError(t, testStore.AppendSamples(ctx, samples))

	got, err := testStore.QuerySamples(ctx, "svc-a", "latency_ms", model.Window{Start: base})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 120.0, got[0].Value)
	assert.Equal(t, 140.0, got[2].Value)

	// Window end is exclusive.
	got, err = testStore.QuerySamples(ctx, "svc-a", "latency_ms", model.Window{
		Start: base,
		End:   base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 130.0, got[1].Value)
}

func TestListMetricsFirstSeenOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, testStore.AppendSamples(ctx, []model.MetricSample{
		{Subject: "svc-order", Metric: "cpu_used", Value: 1, Timestamp: base},
	}))
	require.NoError(t, testStore.AppendSamples(ctx, []model.MetricSample{
		{Subject: "svc-order", Metric: "memory_used", Value: 2, Timestamp: base},
		{Subject: "svc-order", Metric: "cpu_used", Value: 3, Timestamp: base.Add(time.Second)},
	}))

	metrics, err := testStore.ListMetrics(ctx, "svc-order")
	require.NoError(t, err)
	assert.Equal(t, []string{"cpu_used", "memory_used"}, metrics)
}

func TestPruneSamples(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, testStore.AppendSamples(ctx, []model.MetricSample{
		{Subject: "svc-prune", Metric: "qps", Value: 10, Timestamp: base},
		{Subject: "svc-prune", Metric: "qps", Value: 20, Timestamp: base.Add(time.Hour)},
	}))

	pruned, err := testStore.PruneSamples(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pruned, int64(1))

	got, err := testStore.QuerySamples(ctx, "svc-prune", "qps", model.Window{Start: base})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 20.0, got[0].Value)
}

func TestSaveAndGetTraceAnalysis(t *testing.T) {
	ctx := context.Background()
	completedAt := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	traceID := uuid.New()
	spanID := uuid.New()
	tr := model.Trace{
		TraceID:   traceID,
		Subject:   "checkout",
		Operation: "checkout.place_order",
		StartedAt: completedAt.Add(-time.Second),
		Status:    model.TraceCompleted,
		Spans: []model.TraceSpan{{
			SpanID:    spanID,
			Operation: "db.query",
			StartTime: completedAt.Add(-time.Second),
			Duration:  800 * time.Millisecond,
		}},
	}
	analysis := model.TraceAnalysis{
		TraceID:              traceID,
		Subject:              "checkout",
		Status:               model.TraceCompleted,
		SpanCount:            1,
		TotalDuration:        800 * time.Millisecond,
		CriticalPath:         []uuid.UUID{spanID},
		CriticalPathDuration: 800 * time.Millisecond,
		CompletedAt:          completedAt,
	}
	require.NoError(t, testStore.SaveTraceAnalysis(ctx, tr, analysis))

	got, err := testStore.GetTraceAnalysis(ctx, traceID)
	require.NoError(t, err)
	assert.Equal(t, analysis.CriticalPath, got.CriticalPath)
	assert.Equal(t, model.TraceCompleted, got.Status)
	assert.True(t, got.CompletedAt.Equal(completedAt))

	_, err = testStore.GetTraceAnalysis(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBenchmarkResultHistory(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)

	_, err := testStore.LatestBenchmarkResult(ctx, "cold-start")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first := model.BenchmarkResult{
		ID:            uuid.New(),
		BenchmarkName: "cold-start",
		Iterations:    100,
		Percentiles:   model.Percentiles{P50: 10 * time.Millisecond},
		RecordedAt:    base,
	}
	second := first
	second.ID = uuid.New()
	second.Percentiles.P50 = 12 * time.Millisecond
	second.RecordedAt = base.Add(time.Hour)

	require.NoError(t, testStore.SaveBenchmarkResult(ctx, first))
	require.NoError(t, testStore.SaveBenchmarkResult(ctx, second))

	latest, err := testStore.LatestBenchmarkResult(ctx, "cold-start")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	history, err := testStore.ListBenchmarkResults(ctx, "cold-start", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	one, err := testStore.ListBenchmarkResults(ctx, "cold-start", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, second.ID, one[0].ID)
}

func TestAnomalyWindowQuery(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 6, 14, 0, 0, 0, time.UTC)

	records := []model.AnomalyRecord{
		{
			ID:                 uuid.New(),
			Subject:            "svc-anom",
			Type:               model.AnomalyDeviation,
			Severity:           model.SeverityWarning,
			AffectedMetrics:    []string{"latency_ms"},
			ContributingFactor: "latency_ms",
			DetectedAt:         base,
		},
		{
			ID:                 uuid.New(),
			Subject:            "svc-anom",
			Type:               model.AnomalyDeviation,
			Severity:           model.SeverityCritical,
			AffectedMetrics:    []string{"error_rate"},
			ContributingFactor: "error_rate",
			DetectedAt:         base.Add(2 * time.Hour),
		},
	}
	require.NoError(t, testStore.SaveAnomalies(ctx, records))

	got, err := testStore.ListAnomalies(ctx, "svc-anom", model.Window{
		Start: base,
		End:   base.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, records[0].ID, got[0].ID)

	got, err = testStore.ListAnomalies(ctx, "svc-anom", model.Window{Start: base})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRegressionVerdictWindowQuery(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 7, 6, 0, 0, 0, time.UTC)

	verdicts := []model.RegressionVerdict{
		{
			ID:             uuid.New(),
			TestName:       "api-read-path",
			OverallVerdict: model.VerdictPass,
			Severity:       model.SeverityInfo,
			RecordedAt:     base,
		},
		{
			ID:                  uuid.New(),
			TestName:            "api-write-path",
			RegressionDetected:  true,
			OverallVerdict:      model.VerdictFail,
			Severity:            model.SeveritySevere,
			RollbackRecommended: true,
			RecordedAt:          base.Add(time.Minute),
		},
	}
	require.NoError(t, testStore.SaveRegressionVerdicts(ctx, verdicts))

	got, err := testStore.ListRegressionVerdicts(ctx, model.Window{Start: base})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "api-read-path", got[0].TestName)
	assert.True(t, got[1].RollbackRecommended)
}
