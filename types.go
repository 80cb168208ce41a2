package pulse

import "time"

// Alert is the public representation of a threshold alert. It is a curated
// view of the internal alert record for use in extension interfaces; no
// internal package imports, safe to use from outside the module.
type Alert struct {
	Subject   string
	Metric    string
	Value     float64
	Threshold float64
	// Severity is one of "info", "warning", "severe", "critical".
	Severity string
	RaisedAt time.Time
}

// Scenario is a named benchmark configuration for regression testing.
// Scenarios registered via WithScenarios are re-run on the continuous
// monitoring interval.
type Scenario struct {
	Name string

	// Iterations is how many times the workload runs per benchmark.
	Iterations int

	// Timeout bounds a single iteration; zero means no per-iteration bound.
	Timeout time.Duration

	// CriticalMetrics are the percentiles whose hard-threshold breach fails
	// the scenario outright. Defaults to p95 and p99 when empty.
	CriticalMetrics []string
}
