package optimizer

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seed(t *testing.T, store *storage.Memory, subject, metric string, base time.Time, values ...float64) {
	t.Helper()
	samples := make([]model.MetricSample, 0, len(values))
	for i, v := range values {
		samples = append(samples, model.MetricSample{
			Subject:   subject,
			Metric:    metric,
			Value:     v,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	require.NoError(t, store.AppendSamples(context.Background(), samples))
}

func newOptimizer(t *testing.T, store *storage.Memory) *Optimizer {
	t.Helper()
	o, err := New(store, testLogger(), DefaultConfig())
	require.NoError(t, err)
	o.now = func() time.Time { return time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC) }
	return o
}

func TestAnalyzeUtilizationScoresAndClamps(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	o := newOptimizer(t, store)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// cpu: 40/100 = 40. memory: overcommitted, 150/100 clamps to 100.
	seed(t, store, "svc-a", "cpu_used", base, 40, 40, 40, 40)
	seed(t, store, "svc-a", "cpu_allocated", base, 100, 100, 100, 100)
	seed(t, store, "svc-a", "memory_used", base, 150, 150, 150, 150)
	seed(t, store, "svc-a", "memory_allocated", base, 100, 100, 100, 100)

	report, err := o.AnalyzeUtilization(ctx, "svc-a")
	require.NoError(t, err)
	require.Len(t, report.Dimensions, 2)

	cpu, mem := report.Dimensions[0], report.Dimensions[1]
	assert.Equal(t, model.DimensionCPU, cpu.Dimension)
	assert.InDelta(t, 40.0, cpu.EfficiencyScore, 1e-9)
	assert.InDelta(t, 40.0, cpu.AvgConsumption, 1e-9)
	assert.Equal(t, model.DimensionMemory, mem.Dimension)
	assert.InDelta(t, 100.0, mem.EfficiencyScore, 1e-9)
	assert.InDelta(t, 70.0, report.OverallEfficiencyScore, 1e-9)
}

func TestAnalyzeUtilizationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	o := newOptimizer(t, store)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	seed(t, store, "svc-a", "cpu_used", base, 30, 35, 40, 45)
	seed(t, store, "svc-a", "cpu_allocated", base, 100, 100, 100, 100)

	first, err := o.AnalyzeUtilization(ctx, "svc-a")
	require.NoError(t, err)
	second, err := o.AnalyzeUtilization(ctx, "svc-a")
	require.NoError(t, err)
	assert.Equal(t, first.Dimensions, second.Dimensions)
	assert.Equal(t, first.OverallEfficiencyScore, second.OverallEfficiencyScore)
}

func TestAnalyzeUtilizationTrend(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	o := newOptimizer(t, store)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	seed(t, store, "svc-a", "cpu_used", base, 10, 10, 20, 20)
	seed(t, store, "svc-a", "memory_used", base, 20, 20, 10, 10)
	seed(t, store, "svc-a", "storage_used", base, 15, 15, 15, 15)

	report, err := o.AnalyzeUtilization(ctx, "svc-a")
	require.NoError(t, err)

	byDim := map[model.Dimension]model.UtilizationTrend{}
	for _, d := range report.Dimensions {
		byDim[d.Dimension] = d.Trend
	}
	assert.Equal(t, model.TrendIncreasing, byDim[model.DimensionCPU])
	assert.Equal(t, model.TrendDecreasing, byDim[model.DimensionMemory])
	assert.Equal(t, model.TrendStable, byDim[model.DimensionStorage])
}

func TestAnalyzeUtilizationUnknownSubject(t *testing.T) {
	o := newOptimizer(t, storage.NewMemory(0))
	_, err := o.AnalyzeUtilization(context.Background(), "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGenerateRecommendationsOrderingAndFloor(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	o := newOptimizer(t, store)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// cpu 20% (gap 50, critical), memory 80% (above floor, no rec),
	// storage 55% (gap 15, medium), network 50% (gap 20, medium).
	alloc := []float64{100, 100, 100, 100}
	seed(t, store, "svc-a", "cpu_used", base, 20, 20, 20, 20)
	seed(t, store, "svc-a", "cpu_allocated", base, alloc...)
	seed(t, store, "svc-a", "memory_used", base, 80, 80, 80, 80)
	seed(t, store, "svc-a", "memory_allocated", base, alloc...)
	seed(t, store, "svc-a", "storage_used", base, 55, 55, 55, 55)
	seed(t, store, "svc-a", "storage_allocated", base, alloc...)
	seed(t, store, "svc-a", "network_used", base, 50, 50, 50, 50)
	seed(t, store, "svc-a", "network_allocated", base, alloc...)

	recs, err := o.GenerateRecommendations(ctx, "svc-a")
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, model.DimensionCPU, recs[0].Category)
	assert.Equal(t, model.PriorityCritical, recs[0].Priority)
	// Equal priority: fixed dimension order decides (storage before network).
	assert.Equal(t, model.DimensionStorage, recs[1].Category)
	assert.Equal(t, model.DimensionNetwork, recs[2].Category)
	assert.Equal(t, model.PriorityMedium, recs[1].Priority)

	for _, r := range recs {
		assert.NotEmpty(t, r.Description)
		assert.NotEmpty(t, r.ImplementationSteps)
		assert.Greater(t, r.EstimatedImpact, 0.0)
		require.NotNil(t, r.CostBenefit.ROIPercent)
		require.NotNil(t, r.CostBenefit.PaybackDays)
	}
}

func TestCostBenefitNilWhenNoSavings(t *testing.T) {
	o := newOptimizer(t, storage.NewMemory(0))
	cb := o.costBenefit(0)
	assert.Zero(t, cb.EstimatedSavings)
	assert.Nil(t, cb.ROIPercent, "no savings renders as N/A")
	assert.Nil(t, cb.PaybackDays)

	cb = o.costBenefit(50)
	assert.InDelta(t, 1250.0, cb.EstimatedSavings, 1e-9)
	require.NotNil(t, cb.ROIPercent)
	assert.InDelta(t, 150.0, *cb.ROIPercent, 1e-9)
	require.NotNil(t, cb.PaybackDays)
	assert.InDelta(t, 12.0, *cb.PaybackDays, 1e-9)
}
