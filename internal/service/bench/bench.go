// Package bench runs registered workloads for a fixed number of iterations,
// aggregates exact latency percentiles and resource statistics, and compares
// runs against the most recent stored result for the same name.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

// Workload is a benchmarkable unit of work. Run is called once per
// iteration and may report per-iteration resource consumption keyed by
// dimension. A failed iteration returns an error; its latency still counts.
type Workload interface {
	Run(ctx context.Context) (resources map[string]float64, err error)
}

// WorkloadFunc adapts a plain function to the Workload interface.
type WorkloadFunc func(ctx context.Context) (map[string]float64, error)

func (f WorkloadFunc) Run(ctx context.Context) (map[string]float64, error) { return f(ctx) }

// Config holds the runner's tunables.
type Config struct {
	// TolerancePercent is the percentile slowdown treated as noise when
	// comparing runs. Default 15.
	TolerancePercent float64

	// MaxIterations bounds a single run. Default 100000.
	MaxIterations int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{TolerancePercent: 15, MaxIterations: 100_000}
}

// Validate rejects nonsensical tunables at construction time.
func (c Config) Validate() error {
	if c.TolerancePercent < 0 {
		return fmt.Errorf("bench: tolerance must be non-negative, got %v: %w", c.TolerancePercent, model.ErrConfig)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("bench: max iterations must be positive, got %d: %w", c.MaxIterations, model.ErrConfig)
	}
	return nil
}

// Runner is the benchmarking service. Workloads register by name; runs are
// serialized per workload so two runs never interleave their measurements.
type Runner struct {
	store  storage.ResultStore
	logger *slog.Logger
	cfg    Config

	mu        sync.Mutex
	workloads map[string]Workload
	running   map[string]*sync.Mutex

	now func() time.Time
}

// New creates a runner. Returns ErrConfig for invalid tunables.
func New(store storage.ResultStore, logger *slog.Logger, cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		store:     store,
		logger:    logger,
		cfg:       cfg,
		workloads: make(map[string]Workload),
		running:   make(map[string]*sync.Mutex),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register binds a workload to a name. Re-registering a name replaces the
// previous workload.
func (r *Runner) Register(name string, w Workload) error {
	if err := model.ValidateBenchmarkName(name); err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	if w == nil {
		return fmt.Errorf("bench: workload must not be nil: %w", model.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workloads[name] = w
	if _, ok := r.running[name]; !ok {
		r.running[name] = &sync.Mutex{}
	}
	return nil
}

// Run executes a registered workload and persists the result. Iterations run
// sequentially; a per-iteration timeout, when set, cancels only that
// iteration's context.
func (r *Runner) Run(ctx context.Context, name string, cfg model.BenchmarkConfig) (*model.BenchmarkResult, error) {
	if err := model.ValidateBenchmarkName(name); err != nil {
		return nil, fmt.Errorf("bench: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bench: %w", err)
	}
	if cfg.Iterations > r.cfg.MaxIterations {
		return nil, fmt.Errorf("bench: %d iterations exceeds limit of %d: %w", cfg.Iterations, r.cfg.MaxIterations, model.ErrConfig)
	}

	r.mu.Lock()
	w, ok := r.workloads[name]
	gate := r.running[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("bench: workload %q not registered: %w", name, model.ErrNotFound)
	}

	gate.Lock()
	defer gate.Unlock()

	latencies := make([]time.Duration, 0, cfg.Iterations)
	resourceSums := make(map[string]float64)
	resourcePeaks := make(map[string]float64)
	resourceCounts := make(map[string]int)
	failures := 0

	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		iterCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			iterCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}

		start := time.Now()
		resources, err := w.Run(iterCtx)
		latency := time.Since(start)
		if cancel != nil {
			cancel()
		}

		latencies = append(latencies, latency)
		if err != nil {
			failures++
		}
		for dim, v := range resources {
			resourceSums[dim] += v
			resourceCounts[dim]++
			if v > resourcePeaks[dim] {
				resourcePeaks[dim] = v
			}
		}
	}

	result := model.BenchmarkResult{
		ID:            uuid.New(),
		BenchmarkName: name,
		Iterations:    cfg.Iterations,
		Failures:      failures,
		Percentiles: model.Percentiles{
			P50: Percentile(latencies, 0.50),
			P95: Percentile(latencies, 0.95),
			P99: Percentile(latencies, 0.99),
		},
		RecordedAt: r.now(),
	}
	if len(resourceSums) > 0 {
		result.ResourceStats.Mean = make(map[string]float64, len(resourceSums))
		result.ResourceStats.Peak = resourcePeaks
		for dim, sum := range resourceSums {
			result.ResourceStats.Mean[dim] = sum / float64(resourceCounts[dim])
		}
	}

	if err := r.store.SaveBenchmarkResult(ctx, result); err != nil {
		return nil, fmt.Errorf("bench: persist result for %q: %w", name, err)
	}

	r.logger.Info("bench: run complete",
		"benchmark", name, "iterations", cfg.Iterations, "failures", failures,
		"p50_us", result.Percentiles.P50.Microseconds(),
		"p99_us", result.Percentiles.P99.Microseconds())
	return &result, nil
}

// Percentile returns the exact order statistic for q in (0, 1]: the element
// at index ceil(q*n)-1 of the sorted samples. No interpolation.
func Percentile(samples []time.Duration, q float64) time.Duration {
	if len(samples) == 0 || q <= 0 || q > 1 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// CompareWithHistorical compares a run against the most recent stored result
// for the same name. A percentile regresses when it slowed by more than the
// tolerance; speedups never regress.
func (r *Runner) CompareWithHistorical(ctx context.Context, current *model.BenchmarkResult) (*model.ComparisonReport, error) {
	if current == nil {
		return nil, fmt.Errorf("bench: current result must not be nil: %w", model.ErrValidation)
	}

	// The newest stored result is usually the current run itself; the
	// baseline is the newest run that is not.
	history, err := r.store.ListBenchmarkResults(ctx, current.BenchmarkName, 2)
	if err != nil {
		return nil, fmt.Errorf("bench: load history for %q: %w", current.BenchmarkName, err)
	}
	var baseline *model.BenchmarkResult
	for i := range history {
		if history[i].ID != current.ID {
			baseline = &history[i]
			break
		}
	}
	if baseline == nil {
		return nil, fmt.Errorf("bench: no run before %s for %q to compare against: %w",
			current.ID, current.BenchmarkName, model.ErrInsufficientData)
	}

	report := &model.ComparisonReport{
		BenchmarkName:    current.BenchmarkName,
		BaselineID:       baseline.ID,
		CurrentID:        current.ID,
		TolerancePercent: r.cfg.TolerancePercent,
	}
	pairs := []struct {
		name      string
		base, cur time.Duration
	}{
		{"p50", baseline.Percentiles.P50, current.Percentiles.P50},
		{"p95", baseline.Percentiles.P95, current.Percentiles.P95},
		{"p99", baseline.Percentiles.P99, current.Percentiles.P99},
	}
	for _, p := range pairs {
		delta := model.PercentileDelta{Percentile: p.name, Baseline: p.base, Current: p.cur}
		if p.base > 0 {
			delta.DeltaPercent = float64(p.cur-p.base) / float64(p.base) * 100
			delta.Regressed = delta.DeltaPercent > r.cfg.TolerancePercent
		} else if p.cur > 0 {
			// A baseline of zero means any measurable latency is new.
			delta.DeltaPercent = 100
			delta.Regressed = true
		}
		if delta.Regressed {
			report.RegressionDetected = true
		}
		report.Deltas = append(report.Deltas, delta)
	}
	return report, nil
}
