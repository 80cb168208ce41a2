// Package model defines the data model for the diagnostics engine: metric
// samples, anomalies, traces, benchmark results, forecasts, and regression
// verdicts. Entities are plain structs owned by the engine instance that
// produced them; none are shared-mutable across components.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies how unusual or damaging a finding is. The taxonomy is
// shared between anomaly detection, threshold alerts, and trace analysis.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering of a severity, higher meaning worse.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeveritySevere:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MetricSample is one observation in a time-ordered series keyed by
// (subject, metric). Immutable once recorded.
type MetricSample struct {
	Subject   string    `json:"subject"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`

	// OutOfOrder is set by the monitor when the sample arrived with a
	// timestamp earlier than the newest sample already seen for its series.
	// Such samples are accepted but flagged.
	OutOfOrder bool `json:"out_of_order,omitempty"`
}

// Validate checks the ingestion invariants: non-empty subject and metric
// name, a non-negative value, and a set timestamp.
func (s MetricSample) Validate() error {
	if strings.TrimSpace(s.Subject) == "" {
		return fmt.Errorf("subject must not be empty: %w", ErrValidation)
	}
	if strings.TrimSpace(s.Metric) == "" {
		return fmt.Errorf("metric name must not be empty: %w", ErrValidation)
	}
	if s.Value < 0 {
		return fmt.Errorf("metric %q value %v must be non-negative: %w", s.Metric, s.Value, ErrValidation)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("metric %q timestamp must be set: %w", s.Metric, ErrValidation)
	}
	return nil
}

// SeriesKey identifies one metric series.
type SeriesKey struct {
	Subject string
	Metric  string
}

func (k SeriesKey) String() string {
	return k.Subject + "/" + k.Metric
}

// Window bounds a query over a series. End is exclusive; a zero End means
// "until now".
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || t.Before(w.End)
}

// Duration returns the window length, or zero when the window is open-ended.
func (w Window) Duration() time.Duration {
	if w.End.IsZero() {
		return 0
	}
	return w.End.Sub(w.Start)
}

// ThresholdAlert describes a sample that crossed a configured alert
// threshold. Threshold checks are pure: the alert is returned to the caller
// and fanned out on the alert stream, nothing else happens.
type ThresholdAlert struct {
	Subject   string    `json:"subject"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Session is a monitoring session scoped to one subject. Sessions count the
// samples and alerts recorded between start and end.
type Session struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Samples   int64      `json:"samples"`
	Alerts    int64      `json:"alerts"`
}
