package behavior

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

func newAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(storage.NewMemory(0), testLogger(), DefaultConfig())
	require.NoError(t, err)
	return a
}

func window(start time.Time, days int) model.Window {
	return model.Window{Start: start, End: start.AddDate(0, 0, days)}
}

func sessionAt(start time.Time, dur time.Duration, tags ...string) Session {
	return Session{Start: start, Duration: dur, Tags: tags}
}

func TestSessionizeSplitsOnGaps(t *testing.T) {
	a := newAnalyzer(t)
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	sample := func(at time.Time, metric string) model.MetricSample {
		return model.MetricSample{Subject: "u1", Metric: metric, Value: 1, Timestamp: at}
	}
	sessions := a.Sessionize([]model.MetricSample{
		// Out of order on purpose; sessionization sorts first.
		sample(base.Add(2*time.Hour), "lesson_view"),
		sample(base, "lesson_view"),
		sample(base.Add(10*time.Minute), "quiz_attempt"),
		sample(base.Add(2*time.Hour+5*time.Minute), "quiz_attempt"),
	})

	require.Len(t, sessions, 2)
	assert.Equal(t, base, sessions[0].Start)
	assert.Equal(t, 10*time.Minute, sessions[0].Duration)
	assert.Equal(t, []string{"lesson_view", "quiz_attempt"}, sessions[0].Tags)
	assert.Equal(t, 5*time.Minute, sessions[1].Duration)
}

func TestAnalyzeSessionsDormant(t *testing.T) {
	a := newAnalyzer(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	report, err := a.AnalyzeSessions("u1", window(start, 14), nil)
	require.NoError(t, err)

	assert.Equal(t, model.ActivityDormant, report.ActivityPattern)
	assert.Equal(t, model.EngagementLow, report.Engagement)
	assert.Equal(t, 100.0, report.DropoutRisk)
}

func TestAnalyzeSessionsRegularHighEngagement(t *testing.T) {
	a := newAnalyzer(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Two sessions every day across the whole window.
	var sessions []Session
	for d := 0; d < 14; d++ {
		day := start.AddDate(0, 0, d)
		sessions = append(sessions,
			sessionAt(day.Add(9*time.Hour), 20*time.Minute, "lesson_view"),
			sessionAt(day.Add(18*time.Hour), 10*time.Minute, "quiz_attempt"))
	}

	report, err := a.AnalyzeSessions("u1", window(start, 14), sessions)
	require.NoError(t, err)

	assert.Equal(t, model.ActivityRegular, report.ActivityPattern)
	assert.Equal(t, model.EngagementHigh, report.Engagement)
	assert.Equal(t, model.PacingSteady, report.Pacing)
	assert.InDelta(t, 2.0, report.SessionsPerDay, 1e-9)
	assert.InDelta(t, 1.0, report.ActiveDayRatio, 1e-9)
	assert.Equal(t, []string{"lesson_view", "quiz_attempt"}, report.ContentPreferenceHints)
	assert.Less(t, report.DropoutRisk, 20.0)
}

func TestAnalyzeSessionsBursty(t *testing.T) {
	a := newAnalyzer(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// All activity crammed into one day of a two-week window.
	day := start.AddDate(0, 0, 3)
	sessions := []Session{
		sessionAt(day.Add(9*time.Hour), 30*time.Minute, "lesson_view"),
		sessionAt(day.Add(11*time.Hour), 30*time.Minute, "lesson_view"),
		sessionAt(day.Add(14*time.Hour), 30*time.Minute, "lesson_view"),
		sessionAt(day.Add(17*time.Hour), 30*time.Minute, "lesson_view"),
	}

	report, err := a.AnalyzeSessions("u1", window(start, 14), sessions)
	require.NoError(t, err)
	assert.Equal(t, model.ActivityBursty, report.ActivityPattern)
}

func TestAnalyzeSessionsSparse(t *testing.T) {
	a := newAnalyzer(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	sessions := []Session{
		sessionAt(start.AddDate(0, 0, 2).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
		sessionAt(start.AddDate(0, 0, 9).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
	}

	report, err := a.AnalyzeSessions("u1", window(start, 14), sessions)
	require.NoError(t, err)
	assert.Equal(t, model.ActivitySparse, report.ActivityPattern)
	assert.Equal(t, model.EngagementLow, report.Engagement)
}

func TestAnalyzeSessionsPacing(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	w := window(start, 14)

	build := func(firstHalf, secondHalf int) []Session {
		var sessions []Session
		for i := 0; i < firstHalf; i++ {
			sessions = append(sessions, sessionAt(start.AddDate(0, 0, i%7).Add(9*time.Hour), 10*time.Minute, "lesson_view"))
		}
		for i := 0; i < secondHalf; i++ {
			sessions = append(sessions, sessionAt(start.AddDate(0, 0, 7+i%7).Add(9*time.Hour), 10*time.Minute, "lesson_view"))
		}
		return sessions
	}

	tests := []struct {
		name          string
		first, second int
		want          model.Pacing
	}{
		{"accelerating", 4, 10, model.PacingAccelerating},
		{"slowing", 10, 4, model.PacingSlowing},
		{"steady", 7, 7, model.PacingSteady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAnalyzer(t)
			report, err := a.AnalyzeSessions("u1", w, build(tt.first, tt.second))
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Pacing)
		})
	}
}

func TestDropoutRiskMonotonicInIdleTime(t *testing.T) {
	a := newAnalyzer(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	w := window(start, 14)

	riskWithLastSession := func(daysBeforeEnd int) float64 {
		sessions := []Session{
			sessionAt(start.Add(9*time.Hour), 10*time.Minute, "lesson_view"),
			sessionAt(w.End.AddDate(0, 0, -daysBeforeEnd).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
		}
		report, err := a.AnalyzeSessions("u1", w, sessions)
		require.NoError(t, err)
		return report.DropoutRisk
	}

	recent := riskWithLastSession(1)
	stale := riskWithLastSession(5)
	assert.Greater(t, stale, recent, "longer idle time must not lower dropout risk")
}

func TestDropoutRiskMonotonicInDecline(t *testing.T) {
	a := newAnalyzer(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	w := window(start, 14)

	// Same last-session time and active days, different first-half decline.
	mild := []Session{
		sessionAt(start.AddDate(0, 0, 1).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
		sessionAt(start.AddDate(0, 0, 2).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
		sessionAt(start.AddDate(0, 0, 12).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
	}
	steep := []Session{
		sessionAt(start.AddDate(0, 0, 1).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
		sessionAt(start.AddDate(0, 0, 1).Add(15*time.Hour), 10*time.Minute, "lesson_view"),
		sessionAt(start.AddDate(0, 0, 2).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
		sessionAt(start.AddDate(0, 0, 2).Add(15*time.Hour), 10*time.Minute, "lesson_view"),
		sessionAt(start.AddDate(0, 0, 12).Add(9*time.Hour), 10*time.Minute, "lesson_view"),
	}

	mildReport, err := a.AnalyzeSessions("u1", w, mild)
	require.NoError(t, err)
	steepReport, err := a.AnalyzeSessions("u1", w, steep)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, steepReport.DropoutRisk, mildReport.DropoutRisk)
}

func TestAnalyzeFromStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	a, err := New(store, testLogger(), DefaultConfig())
	require.NoError(t, err)

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var samples []model.MetricSample
	for d := 0; d < 14; d++ {
		at := start.AddDate(0, 0, d).Add(9 * time.Hour)
		samples = append(samples,
			model.MetricSample{Subject: "u1", Metric: "lesson_view", Value: 1, Timestamp: at},
			model.MetricSample{Subject: "u1", Metric: "lesson_view", Value: 1, Timestamp: at.Add(5 * time.Minute)})
	}
	require.NoError(t, store.AppendSamples(ctx, samples))

	report, err := a.Analyze(ctx, "u1", window(start, 14))
	require.NoError(t, err)
	assert.Equal(t, model.ActivityRegular, report.ActivityPattern)
	assert.InDelta(t, 1.0, report.ActiveDayRatio, 1e-9)

	_, err = a.Analyze(ctx, "nobody", window(start, 14))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = a.Analyze(ctx, "u1", model.Window{Start: start})
	assert.ErrorIs(t, err, model.ErrValidation)
}
