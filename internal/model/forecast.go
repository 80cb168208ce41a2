package model

import "time"

// CapacityForecast extrapolates a metric's linear trend to a future horizon.
// Recomputed on each call; never persisted as mutable state.
type CapacityForecast struct {
	Subject    string  `json:"subject"`
	Metric     string  `json:"metric"`
	GrowthRate float64 `json:"growth_rate"` // units per day, least-squares slope

	// PredictedCapacity is the last observed value plus growth over the
	// horizon.
	PredictedCapacity float64 `json:"predicted_capacity"`

	// EstimatedExhaustion is the first time the trend crosses the configured
	// ceiling. Nil means "never": the series is flat or shrinking.
	EstimatedExhaustion *time.Time `json:"estimated_exhaustion,omitempty"`

	Ceiling     float64   `json:"ceiling"`
	HorizonDays int       `json:"horizon_days"`
	SampleCount int       `json:"sample_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// DegradationRisk classifies the short-term trend of one metric.
type DegradationRisk struct {
	Metric      string   `json:"metric"`
	SlopePerDay float64  `json:"slope_per_day"`
	Risk        Severity `json:"risk"`
}
