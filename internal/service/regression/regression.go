// Package regression turns benchmark comparisons into pass/warning/fail
// verdicts, recommends rollbacks for severe failures, and aggregates verdict
// history into trend reports. A continuous monitor re-runs the configured
// scenarios on an interval, skipping ticks while a run is still in flight.
package regression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

// BenchmarkRunner is the slice of the benchmarking service the tester
// needs: run a workload and compare it against its stored history.
type BenchmarkRunner interface {
	Run(ctx context.Context, name string, cfg model.BenchmarkConfig) (*model.BenchmarkResult, error)
	CompareWithHistorical(ctx context.Context, current *model.BenchmarkResult) (*model.ComparisonReport, error)
}

// defaultCriticalMetrics are held to the hard threshold when a scenario
// names none.
var defaultCriticalMetrics = []string{"p95", "p99"}

// Config holds the tester's tunables.
type Config struct {
	// SoftThresholdPercent is the slowdown past which a metric warns;
	// HardThresholdPercent the slowdown past which a critical metric fails.
	// Defaults 10 and 25.
	SoftThresholdPercent float64
	HardThresholdPercent float64

	// RollbackSeverity is the minimum verdict severity that turns a failure
	// into a rollback recommendation. Default severe.
	RollbackSeverity model.Severity

	// CheckInterval paces the continuous monitor. Default 1h.
	CheckInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SoftThresholdPercent: 10,
		HardThresholdPercent: 25,
		RollbackSeverity:     model.SeveritySevere,
		CheckInterval:        time.Hour,
	}
}

// Validate rejects nonsensical tunables at construction time.
func (c Config) Validate() error {
	if c.SoftThresholdPercent < 0 {
		return fmt.Errorf("regression: soft threshold must be non-negative, got %v: %w", c.SoftThresholdPercent, model.ErrConfig)
	}
	if c.HardThresholdPercent <= c.SoftThresholdPercent {
		return fmt.Errorf("regression: hard threshold %v must exceed soft threshold %v: %w",
			c.HardThresholdPercent, c.SoftThresholdPercent, model.ErrConfig)
	}
	if c.RollbackSeverity.Rank() == 0 {
		return fmt.Errorf("regression: unknown rollback severity %q: %w", c.RollbackSeverity, model.ErrConfig)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("regression: check interval must be positive: %w", model.ErrConfig)
	}
	return nil
}

// Tester is the regression verification service.
type Tester struct {
	store  storage.ResultStore
	runner BenchmarkRunner
	logger *slog.Logger
	cfg    Config

	mu        sync.Mutex
	scenarios []model.RegressionScenario

	inFlight atomic.Bool

	now func() time.Time
}

// New creates a tester. Returns ErrConfig for invalid tunables.
func New(store storage.ResultStore, runner BenchmarkRunner, logger *slog.Logger, cfg Config) (*Tester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tester{
		store:  store,
		runner: runner,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetScenarios replaces the scenario set the continuous monitor runs.
func (t *Tester) SetScenarios(scenarios []model.RegressionScenario) error {
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("regression: %w", err)
		}
	}
	t.mu.Lock()
	t.scenarios = append([]model.RegressionScenario(nil), scenarios...)
	t.mu.Unlock()
	return nil
}

// RunRegressionTests executes every scenario and classifies the outcome.
// All scenarios are validated before any benchmark runs, so a malformed
// scenario never leaves a partial run behind. A scenario with no stored
// history passes and establishes the baseline for the next run.
func (t *Tester) RunRegressionTests(ctx context.Context, scenarios []model.RegressionScenario) ([]model.RegressionVerdict, error) {
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("regression: no scenarios given: %w", model.ErrValidation)
	}
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("regression: %w", err)
		}
	}

	verdicts := make([]model.RegressionVerdict, 0, len(scenarios))
	for _, s := range scenarios {
		verdict, err := t.runScenario(ctx, s)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, *verdict)
	}

	if err := t.store.SaveRegressionVerdicts(ctx, verdicts); err != nil {
		return nil, fmt.Errorf("regression: persist verdicts: %w", err)
	}
	return verdicts, nil
}

func (t *Tester) runScenario(ctx context.Context, s model.RegressionScenario) (*model.RegressionVerdict, error) {
	result, err := t.runner.Run(ctx, s.Name, s.Benchmark)
	if err != nil {
		return nil, fmt.Errorf("regression: scenario %q: %w", s.Name, err)
	}

	verdict := &model.RegressionVerdict{
		ID:             uuid.New(),
		TestName:       s.Name,
		OverallVerdict: model.VerdictPass,
		Severity:       model.SeverityInfo,
		RecordedAt:     t.now(),
	}

	report, err := t.runner.CompareWithHistorical(ctx, result)
	if errors.Is(err, model.ErrInsufficientData) {
		// First run: nothing to compare against, this run becomes the
		// baseline.
		t.logger.Info("regression: baseline established", "scenario", s.Name)
		return verdict, nil
	}
	if err != nil {
		return nil, fmt.Errorf("regression: scenario %q: %w", s.Name, err)
	}

	critical := make(map[string]bool)
	names := s.CriticalMetrics
	if len(names) == 0 {
		names = defaultCriticalMetrics
	}
	for _, name := range names {
		critical[name] = true
	}

	for _, d := range report.Deltas {
		change := model.PerformanceChange{
			Metric:        d.Percentile,
			BaselineValue: float64(d.Baseline),
			CurrentValue:  float64(d.Current),
			ChangePercent: d.DeltaPercent,
		}
		switch {
		case d.DeltaPercent > t.cfg.HardThresholdPercent && critical[d.Percentile]:
			change.ThresholdExceeded = true
			verdict.RegressionDetected = true
			verdict.OverallVerdict = model.VerdictFail
			sev := model.SeveritySevere
			if d.DeltaPercent > 2*t.cfg.HardThresholdPercent {
				sev = model.SeverityCritical
			}
			if sev.Rank() > verdict.Severity.Rank() {
				verdict.Severity = sev
			}
		case d.DeltaPercent > t.cfg.SoftThresholdPercent:
			// Non-critical metrics only ever warn, however far they move.
			change.ThresholdExceeded = d.DeltaPercent > t.cfg.HardThresholdPercent
			verdict.RegressionDetected = true
			if verdict.OverallVerdict != model.VerdictFail {
				verdict.OverallVerdict = model.VerdictWarning
			}
			if verdict.Severity.Rank() < model.SeverityWarning.Rank() {
				verdict.Severity = model.SeverityWarning
			}
		}
		verdict.PerformanceChanges = append(verdict.PerformanceChanges, change)
	}

	verdict.RollbackRecommended = verdict.OverallVerdict == model.VerdictFail &&
		verdict.Severity.Rank() >= t.cfg.RollbackSeverity.Rank()

	t.logger.Info("regression: scenario checked",
		"scenario", s.Name,
		"verdict", verdict.OverallVerdict,
		"severity", verdict.Severity,
		"rollback", verdict.RollbackRecommended)
	return verdict, nil
}

// GenerateRegressionReport aggregates the verdicts recorded inside a window.
func (t *Tester) GenerateRegressionReport(ctx context.Context, w model.Window) (*model.RegressionReport, error) {
	verdicts, err := t.store.ListRegressionVerdicts(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("regression: list verdicts: %w", err)
	}
	if len(verdicts) == 0 {
		return nil, fmt.Errorf("regression: no verdicts recorded in window: %w", model.ErrInsufficientData)
	}

	end := w.End
	if end.IsZero() {
		end = t.now()
	}
	report := &model.RegressionReport{
		WindowStart: w.Start,
		WindowEnd:   end,
		TotalRuns:   len(verdicts),
		GeneratedAt: t.now(),
	}
	for _, v := range verdicts {
		switch v.OverallVerdict {
		case model.VerdictPass:
			report.Passed++
		case model.VerdictWarning:
			report.Warnings++
		case model.VerdictFail:
			report.Failed++
			// Any hard-threshold failure counts, whichever severity
			// band it landed in.
			report.CriticalRegressions++
		}
	}
	report.PassRate = float64(report.Passed) / float64(report.TotalRuns)
	report.Trend = passRateTrend(verdicts)
	return report, nil
}

// passRateTrend compares the pass rate between the chronological halves of
// the verdict history; a move of more than ten points either way leaves
// "flat".
func passRateTrend(verdicts []model.RegressionVerdict) model.TrendDirection {
	if len(verdicts) < 4 {
		return model.TrendFlat
	}
	sorted := append([]model.RegressionVerdict(nil), verdicts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RecordedAt.Before(sorted[j].RecordedAt) })

	rate := func(part []model.RegressionVerdict) float64 {
		passed := 0
		for _, v := range part {
			if v.OverallVerdict == model.VerdictPass {
				passed++
			}
		}
		return float64(passed) / float64(len(part))
	}
	mid := len(sorted) / 2
	delta := rate(sorted[mid:]) - rate(sorted[:mid])
	switch {
	case delta > 0.1:
		return model.TrendImproving
	case delta < -0.1:
		return model.TrendDegrading
	default:
		return model.TrendFlat
	}
}

// RunContinuous re-runs the configured scenarios on the check interval until
// ctx is cancelled. A tick that arrives while the previous run is still in
// flight is skipped, never queued.
func (t *Tester) RunContinuous(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Tester) tick(ctx context.Context) {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.logger.Warn("regression: previous run still in flight, skipping tick")
		return
	}
	defer t.inFlight.Store(false)

	t.mu.Lock()
	scenarios := append([]model.RegressionScenario(nil), t.scenarios...)
	t.mu.Unlock()
	if len(scenarios) == 0 {
		return
	}

	verdicts, err := t.RunRegressionTests(ctx, scenarios)
	if err != nil {
		t.logger.Error("regression: continuous run failed", "error", err)
		return
	}
	for _, v := range verdicts {
		if v.RollbackRecommended {
			t.logger.Error("regression: rollback recommended",
				"scenario", v.TestName, "severity", v.Severity)
		}
	}
}
