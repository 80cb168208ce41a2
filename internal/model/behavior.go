package model

import "time"

// ActivityPattern is the coarse usage classification of a subject.
type ActivityPattern string

const (
	ActivityRegular ActivityPattern = "regular"
	ActivityBursty  ActivityPattern = "bursty"
	ActivitySparse  ActivityPattern = "sparse"
	ActivityDormant ActivityPattern = "dormant"
)

// EngagementLevel is the static-tier classification of how actively a
// subject is being used.
type EngagementLevel string

const (
	EngagementHigh     EngagementLevel = "high"
	EngagementModerate EngagementLevel = "moderate"
	EngagementLow      EngagementLevel = "low"
)

// Pacing classifies session cadence relative to the subject's own history.
type Pacing string

const (
	PacingAccelerating Pacing = "accelerating"
	PacingSteady       Pacing = "steady"
	PacingSlowing      Pacing = "slowing"
)

// AnalysisReport is the per-subject usage classification computed from
// session-level samples over a window.
type AnalysisReport struct {
	Subject         string          `json:"subject"`
	Window          Window          `json:"window"`
	ActivityPattern ActivityPattern `json:"activity_pattern"`
	Engagement      EngagementLevel `json:"engagement_level"`
	Pacing          Pacing          `json:"pacing"`

	SessionsPerDay     float64 `json:"sessions_per_day"`
	AvgSessionDuration float64 `json:"avg_session_duration"` // seconds
	ActiveDayRatio     float64 `json:"active_day_ratio"`     // 0..1 of window days with activity

	// ContentPreferenceHints are the most frequent session tags observed in
	// the window, most frequent first.
	ContentPreferenceHints []string `json:"content_preference_hints,omitempty"`

	// DropoutRisk is 0-100; callers choose their own action threshold.
	DropoutRisk float64 `json:"dropout_risk"`

	GeneratedAt time.Time `json:"generated_at"`
}
