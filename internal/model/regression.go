package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verdict is the per-scenario or aggregate outcome of a regression run.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictWarning Verdict = "warning"
	VerdictFail    Verdict = "fail"
)

// RegressionScenario names one benchmark workload checked during a
// regression run. Critical metrics are held to the hard threshold; the rest
// only ever produce warnings.
type RegressionScenario struct {
	Name            string          `json:"name"`
	Benchmark       BenchmarkConfig `json:"benchmark"`
	CriticalMetrics []string        `json:"critical_metrics,omitempty"` // default: p95, p99
}

// Validate rejects malformed scenarios before any benchmark runs.
func (s RegressionScenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("scenario name must not be empty: %w", ErrValidation)
	}
	if err := s.Benchmark.Validate(); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return nil
}

// PerformanceChange is one metric's movement between baseline and current.
type PerformanceChange struct {
	Metric            string  `json:"metric"`
	BaselineValue     float64 `json:"baseline_value"`
	CurrentValue      float64 `json:"current_value"`
	ChangePercent     float64 `json:"change_percent"` // positive = worse
	ThresholdExceeded bool    `json:"threshold_exceeded"`
}

// RegressionVerdict is the classified outcome of one scenario in one run.
type RegressionVerdict struct {
	ID                  uuid.UUID           `json:"id"`
	TestName            string              `json:"test_name"`
	RegressionDetected  bool                `json:"regression_detected"`
	PerformanceChanges  []PerformanceChange `json:"performance_changes"`
	Severity            Severity            `json:"severity"`
	OverallVerdict      Verdict             `json:"overall_verdict"`
	RollbackRecommended bool                `json:"rollback_recommended"`
	RecordedAt          time.Time           `json:"recorded_at"`
}

// TrendDirection summarizes how aggregate pass rate moved over a report
// window.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendFlat      TrendDirection = "flat"
	TrendDegrading TrendDirection = "degrading"
)

// RegressionReport aggregates all verdicts inside a time window.
type RegressionReport struct {
	WindowStart         time.Time      `json:"window_start"`
	WindowEnd           time.Time      `json:"window_end"`
	TotalRuns           int            `json:"total_runs"`
	Passed              int            `json:"passed"`
	Warnings            int            `json:"warnings"`
	Failed              int            `json:"failed"`
	CriticalRegressions int            `json:"critical_regressions"`
	PassRate            float64        `json:"pass_rate"` // 0..1
	Trend               TrendDirection `json:"trend"`
	GeneratedAt         time.Time      `json:"generated_at"`
}
