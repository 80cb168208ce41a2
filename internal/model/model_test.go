package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricSampleValidate(t *testing.T) {
	now := time.Now().UTC()
	valid := MetricSample{Subject: "contract-a", Metric: "exec_time_ms", Value: 12.5, Timestamp: now}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*MetricSample)
	}{
		{"empty subject", func(s *MetricSample) { s.Subject = "" }},
		{"whitespace subject", func(s *MetricSample) { s.Subject = "   " }},
		{"empty metric", func(s *MetricSample) { s.Metric = "" }},
		{"negative value", func(s *MetricSample) { s.Value = -1 }},
		{"zero timestamp", func(s *MetricSample) { s.Timestamp = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), "want ErrValidation, got %v", err)
		})
	}
}

func TestValidateIdentifiersLimits(t *testing.T) {
	require.NoError(t, ValidateIdentifiers("s", "m"))

	err := ValidateIdentifiers(strings.Repeat("x", MaxSubjectLen+1), "m")
	require.ErrorIs(t, err, ErrValidation)

	err = ValidateIdentifiers("s", strings.Repeat("x", MaxMetricLen+1))
	require.ErrorIs(t, err, ErrValidation)
}

func TestSeverityRankOrdering(t *testing.T) {
	assert.Less(t, SeverityInfo.Rank(), SeverityWarning.Rank())
	assert.Less(t, SeverityWarning.Rank(), SeveritySevere.Rank())
	assert.Less(t, SeveritySevere.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestWindowContains(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	w := Window{Start: start, End: end}
	assert.True(t, w.Contains(start))
	assert.True(t, w.Contains(end.Add(-time.Second)))
	assert.False(t, w.Contains(end), "end is exclusive")
	assert.False(t, w.Contains(start.Add(-time.Second)))

	open := Window{Start: start}
	assert.True(t, open.Contains(end.Add(1000*time.Hour)))
	assert.Zero(t, open.Duration())
}

func TestTraceStatusTerminal(t *testing.T) {
	assert.False(t, TraceStarted.Terminal())
	assert.True(t, TraceCompleted.Terminal())
	assert.True(t, TraceAborted.Terminal())
}

func TestSpanInputValidate(t *testing.T) {
	now := time.Now().UTC()
	ok := SpanInput{Operation: "load_state", StartTime: now, Duration: 5 * time.Millisecond}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Operation = " "
	require.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = ok
	bad.StartTime = time.Time{}
	require.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = ok
	bad.Duration = -time.Millisecond
	require.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestBenchmarkConfigValidate(t *testing.T) {
	require.NoError(t, BenchmarkConfig{Iterations: 10}.Validate())
	require.ErrorIs(t, BenchmarkConfig{Iterations: 0}.Validate(), ErrConfig)
	require.ErrorIs(t, BenchmarkConfig{Iterations: 5, Timeout: -time.Second}.Validate(), ErrConfig)
}

func TestRegressionScenarioValidate(t *testing.T) {
	ok := RegressionScenario{Name: "mint_flow", Benchmark: BenchmarkConfig{Iterations: 20}}
	require.NoError(t, ok.Validate())

	require.ErrorIs(t, RegressionScenario{Name: "", Benchmark: BenchmarkConfig{Iterations: 1}}.Validate(), ErrValidation)
	require.ErrorIs(t, RegressionScenario{Name: "x", Benchmark: BenchmarkConfig{}}.Validate(), ErrConfig)
}
