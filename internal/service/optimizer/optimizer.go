// Package optimizer scores how efficiently a subject uses its allocated
// resources and turns low-scoring dimensions into prioritized, costed
// recommendations.
//
// Dimensions are observed through paired series named by convention:
// "<dimension>_used" and "<dimension>_allocated" (e.g. cpu_used,
// cpu_allocated). A dimension with no samples in the lookback is skipped.
package optimizer

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

// Config holds the optimizer's tunables.
type Config struct {
	// Lookback bounds how much history a report considers. Default 7 days.
	Lookback time.Duration

	// EfficiencyFloor is the score below which a dimension earns a
	// recommendation. Default 70.
	EfficiencyFloor float64

	// SavingsPerPoint converts recoverable efficiency points into estimated
	// monthly savings; ImplementationCost is the flat cost assumed per
	// recommendation. Defaults 25 and 500.
	SavingsPerPoint    float64
	ImplementationCost float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Lookback:           7 * 24 * time.Hour,
		EfficiencyFloor:    70,
		SavingsPerPoint:    25,
		ImplementationCost: 500,
	}
}

// Validate rejects nonsensical tunables at construction time.
func (c Config) Validate() error {
	if c.Lookback <= 0 {
		return fmt.Errorf("optimizer: lookback must be positive: %w", model.ErrConfig)
	}
	if c.EfficiencyFloor < 0 || c.EfficiencyFloor > 100 {
		return fmt.Errorf("optimizer: efficiency floor must be in [0, 100], got %v: %w", c.EfficiencyFloor, model.ErrConfig)
	}
	if c.SavingsPerPoint < 0 || c.ImplementationCost < 0 {
		return fmt.Errorf("optimizer: cost model values must be non-negative: %w", model.ErrConfig)
	}
	return nil
}

// Optimizer is the resource efficiency service.
type Optimizer struct {
	store  storage.MetricStore
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// New creates an optimizer. Returns ErrConfig for invalid tunables.
func New(store storage.MetricStore, logger *slog.Logger, cfg Config) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Optimizer{store: store, logger: logger, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// AnalyzeUtilization scores every observed dimension of a subject.
// Idempotent: identical metric histories yield identical reports.
func (o *Optimizer) AnalyzeUtilization(ctx context.Context, subject string) (*model.UtilizationReport, error) {
	if subject == "" {
		return nil, fmt.Errorf("optimizer: subject must not be empty: %w", model.ErrValidation)
	}

	now := o.now()
	w := model.Window{Start: now.Add(-o.cfg.Lookback), End: now.Add(time.Second)}

	report := &model.UtilizationReport{Subject: subject, GeneratedAt: now}
	var scoreSum float64
	for _, dim := range model.Dimensions {
		used, err := o.store.QuerySamples(ctx, subject, string(dim)+"_used", w)
		if err != nil {
			return nil, fmt.Errorf("optimizer: query %s usage: %w", dim, err)
		}
		if len(used) == 0 {
			continue
		}
		allocated, err := o.store.QuerySamples(ctx, subject, string(dim)+"_allocated", w)
		if err != nil {
			return nil, fmt.Errorf("optimizer: query %s allocation: %w", dim, err)
		}

		du := scoreDimension(dim, used, allocated)
		report.Dimensions = append(report.Dimensions, du)
		scoreSum += du.EfficiencyScore
	}

	if len(report.Dimensions) == 0 {
		return nil, fmt.Errorf("optimizer: no resource series recorded for subject %s: %w", subject, model.ErrNotFound)
	}
	report.OverallEfficiencyScore = scoreSum / float64(len(report.Dimensions))
	return report, nil
}

// scoreDimension computes one dimension's efficiency: mean useful consumption
// over mean allocation, clamped to [0, 100]. With no allocation series the
// dimension is assumed fully allocated at its own peak.
func scoreDimension(dim model.Dimension, used, allocated []model.MetricSample) model.DimensionUtilization {
	var usedSum, usedPeak float64
	for _, s := range used {
		usedSum += s.Value
		if s.Value > usedPeak {
			usedPeak = s.Value
		}
	}
	usedMean := usedSum / float64(len(used))

	allocMean := usedPeak
	if len(allocated) > 0 {
		var allocSum float64
		for _, s := range allocated {
			allocSum += s.Value
		}
		allocMean = allocSum / float64(len(allocated))
	}

	score := 100.0
	if allocMean > 0 {
		score = math.Min(100, math.Max(0, usedMean/allocMean*100))
	}

	return model.DimensionUtilization{
		Dimension:       dim,
		EfficiencyScore: score,
		AvgConsumption:  usedMean,
		PeakConsumption: usedPeak,
		Trend:           usageTrend(used),
		SampleCount:     len(used),
	}
}

// usageTrend compares mean consumption between the halves of the history;
// a move of more than 10% either way leaves "stable".
func usageTrend(used []model.MetricSample) model.UtilizationTrend {
	if len(used) < 4 {
		return model.TrendStable
	}
	mid := len(used) / 2
	var first, second float64
	for _, s := range used[:mid] {
		first += s.Value
	}
	for _, s := range used[mid:] {
		second += s.Value
	}
	first /= float64(mid)
	second /= float64(len(used) - mid)

	switch {
	case first == 0 && second > 0:
		return model.TrendIncreasing
	case first == 0:
		return model.TrendStable
	case second/first > 1.1:
		return model.TrendIncreasing
	case second/first < 0.9:
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}

// GenerateRecommendations turns dimensions scoring below the efficiency
// floor into costed suggestions, ordered by priority and then by the fixed
// dimension order so identical inputs always produce identical output.
func (o *Optimizer) GenerateRecommendations(ctx context.Context, subject string) ([]model.Recommendation, error) {
	report, err := o.AnalyzeUtilization(ctx, subject)
	if err != nil {
		return nil, err
	}

	dimOrder := make(map[model.Dimension]int, len(model.Dimensions))
	for i, d := range model.Dimensions {
		dimOrder[d] = i
	}

	var recs []model.Recommendation
	for _, du := range report.Dimensions {
		if du.EfficiencyScore >= o.cfg.EfficiencyFloor {
			continue
		}
		gap := o.cfg.EfficiencyFloor - du.EfficiencyScore
		recs = append(recs, model.Recommendation{
			Category:            du.Dimension,
			Priority:            priorityForGap(gap),
			EstimatedImpact:     gap,
			Description:         describe(du),
			ImplementationSteps: steps(du.Dimension),
			CostBenefit:         o.costBenefit(gap),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority.Rank() != recs[j].Priority.Rank() {
			return recs[i].Priority.Rank() > recs[j].Priority.Rank()
		}
		return dimOrder[recs[i].Category] < dimOrder[recs[j].Category]
	})

	o.logger.Info("optimizer: recommendations generated",
		"subject", subject, "count", len(recs),
		"overall_score", report.OverallEfficiencyScore)
	return recs, nil
}

// priorityForGap grades by how far below the floor a dimension sits.
func priorityForGap(gap float64) model.Priority {
	switch {
	case gap >= 40:
		return model.PriorityCritical
	case gap >= 25:
		return model.PriorityHigh
	case gap >= 10:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// costBenefit converts recoverable points into monthly savings against the
// flat implementation cost. ROI and payback stay nil when there is nothing
// to save; callers render that as "N/A".
func (o *Optimizer) costBenefit(gap float64) model.CostBenefit {
	cb := model.CostBenefit{
		EstimatedSavings:   gap * o.cfg.SavingsPerPoint,
		ImplementationCost: o.cfg.ImplementationCost,
	}
	if cb.EstimatedSavings <= 0 {
		return cb
	}
	if cb.ImplementationCost > 0 {
		roi := (cb.EstimatedSavings - cb.ImplementationCost) / cb.ImplementationCost * 100
		payback := cb.ImplementationCost / (cb.EstimatedSavings / 30)
		cb.ROIPercent = &roi
		cb.PaybackDays = &payback
	} else {
		roi := 100.0
		payback := 0.0
		cb.ROIPercent = &roi
		cb.PaybackDays = &payback
	}
	return cb
}

func describe(du model.DimensionUtilization) string {
	return fmt.Sprintf("%s efficiency is %.0f%% with %s consumption; reclaim unused allocation",
		du.Dimension, du.EfficiencyScore, du.Trend)
}

func steps(dim model.Dimension) []string {
	switch dim {
	case model.DimensionCPU:
		return []string{"profile hot paths", "right-size CPU requests to observed p95 usage"}
	case model.DimensionMemory:
		return []string{"capture heap profiles", "lower memory limits toward observed peak plus headroom"}
	case model.DimensionCompute:
		return []string{"batch small operations", "reduce per-call compute budget to match observed cost"}
	case model.DimensionStorage:
		return []string{"expire cold data", "compress or tier rarely read objects"}
	case model.DimensionNetwork:
		return []string{"enable response compression", "coalesce chatty request patterns"}
	default:
		return []string{"review allocation against observed usage"}
	}
}
