package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Percentiles are exact order statistics over a benchmark's sorted latency
// samples.
type Percentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// ResourceStats aggregates per-iteration resource consumption reported by
// the workload, keyed by resource dimension (e.g. "memory", "compute").
type ResourceStats struct {
	Mean map[string]float64 `json:"mean,omitempty"`
	Peak map[string]float64 `json:"peak,omitempty"`
}

// BenchmarkResult is one benchmark run. The most recent result for a name
// becomes the comparison baseline for the next run; full history is kept.
type BenchmarkResult struct {
	ID            uuid.UUID     `json:"id"`
	BenchmarkName string        `json:"benchmark_name"`
	Iterations    int           `json:"iterations"`
	Failures      int           `json:"failures"`
	Percentiles   Percentiles   `json:"percentiles"`
	ResourceStats ResourceStats `json:"resource_stats"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// BenchmarkConfig controls one benchmark run.
type BenchmarkConfig struct {
	Iterations int           `json:"iterations"`
	Timeout    time.Duration `json:"timeout,omitempty"` // per-iteration; zero = none
}

// Validate rejects nonsensical benchmark configuration.
func (c BenchmarkConfig) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("benchmark iterations must be positive, got %d: %w", c.Iterations, ErrConfig)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("benchmark timeout must be non-negative: %w", ErrConfig)
	}
	return nil
}

// PercentileDelta is the relative change of one tracked percentile between a
// baseline run and a new run. Positive percentages mean the new run is
// slower.
type PercentileDelta struct {
	Percentile   string        `json:"percentile"` // "p50", "p95", "p99"
	Baseline     time.Duration `json:"baseline"`
	Current      time.Duration `json:"current"`
	DeltaPercent float64       `json:"delta_percent"`
	Regressed    bool          `json:"regressed"`
}

// ComparisonReport compares a benchmark run against the most recent stored
// result for the same name.
type ComparisonReport struct {
	BenchmarkName      string            `json:"benchmark_name"`
	BaselineID         uuid.UUID         `json:"baseline_id"`
	CurrentID          uuid.UUID         `json:"current_id"`
	Deltas             []PercentileDelta `json:"deltas"`
	TolerancePercent   float64           `json:"tolerance_percent"`
	RegressionDetected bool              `json:"regression_detected"`
}

// ValidateBenchmarkName rejects empty workload names before a run is
// scheduled.
func ValidateBenchmarkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("benchmark name must not be empty: %w", ErrValidation)
	}
	return nil
}
