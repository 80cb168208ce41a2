// Package behavior classifies how a subject is being used: activity pattern,
// engagement tier, pacing, and a dropout risk score. Sessions are derived
// from the subject's sample stream by gap-based splitting, so no separate
// session instrumentation is required.
package behavior

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

// Config holds the analyzer's tunables.
type Config struct {
	// SessionGap is the idle interval that splits two sessions. Default 30m.
	SessionGap time.Duration

	// MaxHints bounds ContentPreferenceHints. Default 3.
	MaxHints int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{SessionGap: 30 * time.Minute, MaxHints: 3}
}

// Validate rejects nonsensical tunables at construction time.
func (c Config) Validate() error {
	if c.SessionGap <= 0 {
		return fmt.Errorf("behavior: session gap must be positive: %w", model.ErrConfig)
	}
	if c.MaxHints < 0 {
		return fmt.Errorf("behavior: max hints must be non-negative: %w", model.ErrConfig)
	}
	return nil
}

// Session is one contiguous burst of subject activity.
type Session struct {
	Start    time.Time
	Duration time.Duration
	Tags     []string // metric names observed during the session
}

// Analyzer is the behavior analysis service.
type Analyzer struct {
	store  storage.MetricStore
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// New creates an analyzer. Returns ErrConfig for invalid tunables.
func New(store storage.MetricStore, logger *slog.Logger, cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analyzer{store: store, logger: logger, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Analyze loads the subject's samples in the window, sessionizes them, and
// classifies usage. The window must be closed.
func (a *Analyzer) Analyze(ctx context.Context, subject string, w model.Window) (*model.AnalysisReport, error) {
	if w.End.IsZero() || !w.End.After(w.Start) {
		return nil, fmt.Errorf("behavior: window must be closed and non-empty: %w", model.ErrValidation)
	}

	metrics, err := a.store.ListMetrics(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("behavior: list metrics for %s: %w", subject, err)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("behavior: no series recorded for subject %s: %w", subject, model.ErrNotFound)
	}

	var samples []model.MetricSample
	for _, metric := range metrics {
		part, err := a.store.QuerySamples(ctx, subject, metric, w)
		if err != nil {
			return nil, fmt.Errorf("behavior: query %s/%s: %w", subject, metric, err)
		}
		samples = append(samples, part...)
	}

	sessions := a.Sessionize(samples)
	return a.AnalyzeSessions(subject, w, sessions)
}

// Sessionize splits a subject's samples into sessions wherever the gap
// between consecutive samples exceeds the configured idle interval.
func (a *Analyzer) Sessionize(samples []model.MetricSample) []Session {
	if len(samples) == 0 {
		return nil
	}
	sorted := append([]model.MetricSample(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var sessions []Session
	cur := Session{Start: sorted[0].Timestamp, Tags: []string{sorted[0].Metric}}
	last := sorted[0].Timestamp
	for _, s := range sorted[1:] {
		if s.Timestamp.Sub(last) > a.cfg.SessionGap {
			cur.Duration = last.Sub(cur.Start)
			sessions = append(sessions, cur)
			cur = Session{Start: s.Timestamp}
		}
		cur.Tags = append(cur.Tags, s.Metric)
		last = s.Timestamp
	}
	cur.Duration = last.Sub(cur.Start)
	return append(sessions, cur)
}

// AnalyzeSessions classifies pre-sessionized activity. Deterministic: the
// same sessions and window always produce the same report.
func (a *Analyzer) AnalyzeSessions(subject string, w model.Window, sessions []Session) (*model.AnalysisReport, error) {
	if subject == "" {
		return nil, fmt.Errorf("behavior: subject must not be empty: %w", model.ErrValidation)
	}
	if w.End.IsZero() || !w.End.After(w.Start) {
		return nil, fmt.Errorf("behavior: window must be closed and non-empty: %w", model.ErrValidation)
	}

	now := a.now()
	days := w.Duration().Hours() / 24
	if days < 1 {
		days = 1
	}

	report := &model.AnalysisReport{
		Subject:     subject,
		Window:      w,
		GeneratedAt: now,
	}

	if len(sessions) == 0 {
		report.ActivityPattern = model.ActivityDormant
		report.Engagement = model.EngagementLow
		report.Pacing = model.PacingSlowing
		report.DropoutRisk = 100
		return report, nil
	}

	var totalDur time.Duration
	activeDays := make(map[string]int)
	for _, s := range sessions {
		totalDur += s.Duration
		activeDays[s.Start.UTC().Format("2006-01-02")]++
	}

	report.SessionsPerDay = float64(len(sessions)) / days
	report.AvgSessionDuration = totalDur.Seconds() / float64(len(sessions))
	report.ActiveDayRatio = math.Min(1, float64(len(activeDays))/math.Ceil(days))
	report.ActivityPattern = classifyPattern(report.ActiveDayRatio, activeDays)
	report.Engagement = classifyEngagement(report.SessionsPerDay, report.ActiveDayRatio)
	report.Pacing = classifyPacing(sessions, w)
	report.ContentPreferenceHints = topTags(sessions, a.cfg.MaxHints)
	report.DropoutRisk = dropoutRisk(sessions, w, report.ActiveDayRatio)
	return report, nil
}

func classifyPattern(activeRatio float64, activeDays map[string]int) model.ActivityPattern {
	// Bursty: activity concentrated into few days with several sessions on
	// the busiest one. Sparse: thin and spread out.
	peak := 0
	for _, n := range activeDays {
		if n > peak {
			peak = n
		}
	}
	switch {
	case activeRatio >= 0.5:
		return model.ActivityRegular
	case peak >= 3:
		return model.ActivityBursty
	default:
		return model.ActivitySparse
	}
}

func classifyEngagement(perDay, activeRatio float64) model.EngagementLevel {
	switch {
	case perDay >= 1 && activeRatio >= 0.5:
		return model.EngagementHigh
	case perDay < 0.2 || activeRatio < 0.15:
		return model.EngagementLow
	default:
		return model.EngagementModerate
	}
}

// classifyPacing compares session counts in the two halves of the window.
func classifyPacing(sessions []Session, w model.Window) model.Pacing {
	mid := w.Start.Add(w.Duration() / 2)
	var first, second float64
	for _, s := range sessions {
		if s.Start.Before(mid) {
			first++
		} else {
			second++
		}
	}
	switch {
	case second >= 1.25*first && second > first:
		return model.PacingAccelerating
	case first >= 1.25*second && first > second:
		return model.PacingSlowing
	default:
		return model.PacingSteady
	}
}

func topTags(sessions []Session, max int) []string {
	if max == 0 {
		return nil
	}
	counts := make(map[string]int)
	var order []string
	for _, s := range sessions {
		for _, tag := range s.Tags {
			if counts[tag] == 0 {
				order = append(order, tag)
			}
			counts[tag]++
		}
	}
	// Most frequent first; first-seen breaks ties for determinism.
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > max {
		order = order[:max]
	}
	return order
}

// dropoutRisk scores 0-100 and is monotonic in both time since the last
// session and the decline between window halves: more idle time or a steeper
// decline never lowers the score.
func dropoutRisk(sessions []Session, w model.Window, activeRatio float64) float64 {
	last := sessions[0].Start
	mid := w.Start.Add(w.Duration() / 2)
	var first, second float64
	for _, s := range sessions {
		if s.Start.After(last) {
			last = s.Start
		}
		if s.Start.Before(mid) {
			first++
		} else {
			second++
		}
	}

	idleDays := w.End.Sub(last).Hours() / 24
	idle := math.Min(1, idleDays/7)

	decline := 0.0
	if first > 0 && second < first {
		decline = (first - second) / first
	}

	risk := 45*idle + 30*decline + 25*(1-activeRatio)
	return math.Min(100, math.Max(0, risk))
}
