package model

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyType categorizes what kind of deviation was observed.
type AnomalyType string

const (
	// AnomalyDeviation is a statistical outlier against the rolling baseline.
	AnomalyDeviation AnomalyType = "statistical_deviation"

	// AnomalyResourceLeak is a sustained monotonic growth pattern in a
	// resource gauge, suggesting the resource is never released.
	AnomalyResourceLeak AnomalyType = "resource_leak"
)

// AnomalyRecord is one detected anomaly. Read-only after creation; later
// detections supersede earlier records rather than mutating them.
type AnomalyRecord struct {
	ID              uuid.UUID   `json:"id"`
	Subject         string      `json:"subject"`
	Type            AnomalyType `json:"type"`
	Severity        Severity    `json:"severity"`
	ConfidenceScore float64     `json:"confidence_score"` // 0..1
	AffectedMetrics []string    `json:"affected_metrics"`
	DetectedAt      time.Time   `json:"detected_at"`

	// ContributingFactor names the metric with the largest normalized
	// deviation among all metrics flagged in the same window; probable
	// root cause of the anomaly.
	ContributingFactor string `json:"contributing_factor"`

	// Deviation is the normalized deviation |value-mean|/stddev of the worst
	// offending sample. Infinite deviations (zero-variance baseline) are
	// reported as 0 with severity critical.
	Deviation float64 `json:"deviation"`
}
