package anomaly

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

func newDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := New(storage.NewMemory(0), testLogger(), cfg)
	require.NoError(t, err)
	return d
}

func series(metric string, base time.Time, values ...float64) []model.MetricSample {
	out := make([]model.MetricSample, 0, len(values))
	for i, v := range values {
		out = append(out, model.MetricSample{
			Subject:   "svc-a",
			Metric:    metric,
			Value:     v,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero k", func(c *Config) { c.KDefault = 0 }, false},
		{"negative per-metric k", func(c *Config) { c.KPerMetric = map[string]float64{"latency": -1} }, false},
		{"baseline below two", func(c *Config) { c.MinBaselineSamples = 1 }, false},
		{"zero baseline span", func(c *Config) { c.BaselineSpan = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, model.ErrConfig)
			}
		})
	}
}

func TestDetectNormalRangeIsQuiet(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	baseline := series("latency_ms", base, 100, 102, 98, 101, 99, 100, 103, 97, 100, 101)
	recent := series("latency_ms", base.Add(time.Hour), 100, 104, 96)

	records, err := d.Detect("svc-a", recent, baseline)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDetectSeverityBands(t *testing.T) {
	// Baseline mean 100, population stddev 10.
	baselineVals := []float64{90, 110, 90, 110, 90, 110, 90, 110, 90, 110}

	tests := []struct {
		name  string
		value float64
		want  model.Severity
	}{
		{"just past three sigma", 135, model.SeverityWarning},
		{"past four sigma", 145, model.SeveritySevere},
		{"past six sigma", 165, model.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetector(t, DefaultConfig())
			base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

			records, err := d.Detect("svc-a",
				series("latency_ms", base.Add(time.Hour), tt.value),
				series("latency_ms", base, baselineVals...))
			require.NoError(t, err)
			require.Len(t, records, 1)

			assert.Equal(t, model.AnomalyDeviation, records[0].Type)
			assert.Equal(t, tt.want, records[0].Severity)
			assert.Equal(t, []string{"latency_ms"}, records[0].AffectedMetrics)
			assert.Equal(t, "latency_ms", records[0].ContributingFactor)
			assert.Greater(t, records[0].ConfidenceScore, 0.0)
			assert.LessOrEqual(t, records[0].ConfidenceScore, 1.0)
		})
	}
}

func TestDetectPerMetricKOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KPerMetric = map[string]float64{"latency_ms": 2}
	d := newDetector(t, cfg)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	baseline := series("latency_ms", base, 90, 110, 90, 110, 90, 110, 90, 110, 90, 110)

	// 2.5 sigma: flagged only under the overridden k, reported as info.
	records, err := d.Detect("svc-a", series("latency_ms", base.Add(time.Hour), 125), baseline)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.SeverityInfo, records[0].Severity)
}

func TestDetectZeroVarianceBaseline(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	flat := series("queue_depth", base, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5)

	t.Run("equal value is never anomalous", func(t *testing.T) {
		records, err := d.Detect("svc-a", series("queue_depth", base.Add(time.Hour), 5), flat)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("any differing value is critical", func(t *testing.T) {
		records, err := d.Detect("svc-a", series("queue_depth", base.Add(time.Hour), 5.01), flat)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, model.SeverityCritical, records[0].Severity)
	})
}

func TestDetectInsufficientBaseline(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	_, err := d.Detect("svc-a",
		series("latency_ms", base.Add(time.Hour), 500),
		series("latency_ms", base, 100, 101, 102))
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestDetectRootCauseAttribution(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	baseline := append(
		series("latency_ms", base, 90, 110, 90, 110, 90, 110, 90, 110, 90, 110),
		series("error_rate", base, 0.9, 1.1, 0.9, 1.1, 0.9, 1.1, 0.9, 1.1, 0.9, 1.1)...)
	// latency deviates by 4 sigma, error_rate by 8: error_rate is the cause.
	recent := append(
		series("latency_ms", base.Add(time.Hour), 140),
		series("error_rate", base.Add(time.Hour), 1.8)...)

	records, err := d.Detect("svc-a", recent, baseline)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "error_rate", r.ContributingFactor)
	}
}

func TestDetectRootCauseTieBreaksOnFirstSeen(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	baseline := append(
		series("cpu_percent", base, 40, 60, 40, 60, 40, 60, 40, 60, 40, 60),
		series("memory_mb", base, 400, 600, 400, 600, 400, 600, 400, 600, 400, 600)...)
	// Both deviate by exactly 5 sigma.
	recent := append(
		series("cpu_percent", base.Add(time.Hour), 100),
		series("memory_mb", base.Add(time.Hour), 1000)...)

	records, err := d.Detect("svc-a", recent, baseline)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "cpu_percent", r.ContributingFactor)
	}
}

func TestDetectConfidenceGrowsWithBaseline(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	small := make([]float64, 0, 10)
	large := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		v := 90.0
		if i%2 == 1 {
			v = 110
		}
		if i < 10 {
			small = append(small, v)
		}
		large = append(large, v)
	}
	recent := series("latency_ms", base.Add(2*time.Hour), 160)

	smallRecords, err := d.Detect("svc-a", recent, series("latency_ms", base, small...))
	require.NoError(t, err)
	largeRecords, err := d.Detect("svc-a", recent, series("latency_ms", base, large...))
	require.NoError(t, err)

	require.Len(t, smallRecords, 1)
	require.Len(t, largeRecords, 1)
	assert.Greater(t, largeRecords[0].ConfidenceScore, smallRecords[0].ConfidenceScore)
}

func TestDetectResourceLeak(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	baseline := series("heap_mb", base, 100, 101, 99, 100, 102, 98, 100, 101, 99, 100)
	recent := series("heap_mb", base.Add(time.Hour), 100, 101, 102, 103, 104)

	records, err := d.Detect("svc-a", recent, baseline)
	require.NoError(t, err)

	var leak *model.AnomalyRecord
	for i := range records {
		if records[i].Type == model.AnomalyResourceLeak {
			leak = &records[i]
		}
	}
	require.NotNil(t, leak, "monotonic growth should flag a leak")
	assert.Equal(t, model.SeveritySevere, leak.Severity)
	assert.Equal(t, []string{"heap_mb"}, leak.AffectedMetrics)
}

func TestDetectWindowPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	d, err := New(store, testLogger(), DefaultConfig())
	require.NoError(t, err)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	baseline := series("latency_ms", base, 90, 110, 90, 110, 90, 110, 90, 110, 90, 110)
	recent := series("latency_ms", base.Add(12*time.Hour), 170)
	require.NoError(t, store.AppendSamples(ctx, append(baseline, recent...)))

	w := model.Window{Start: base.Add(11 * time.Hour), End: base.Add(13 * time.Hour)}
	records, err := d.DetectWindow(ctx, "svc-a", w)
	require.NoError(t, err)
	require.Len(t, records, 1)

	stored, err := store.ListAnomalies(ctx, "svc-a", model.Window{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	_, err = d.DetectWindow(ctx, "no-such-subject", w)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
