// Package forecast projects metric growth with ordinary least squares and
// estimates when a series will exhaust its configured capacity ceiling.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

const day = 24 * time.Hour

// minDistinctTimestamps is the smallest history a trend can be fitted to.
// Two points always fit a line exactly; three is the first sample count
// where the fit says anything.
const minDistinctTimestamps = 3

// Config holds the engine's tunables.
type Config struct {
	// HorizonDays is how far ahead PredictedCapacity projects. Default 30.
	HorizonDays int

	// Lookback bounds how much history a forecast considers. Default 30 days.
	Lookback time.Duration

	// Ceilings maps metric name to its capacity ceiling for store-backed
	// forecasts. Metrics without an entry cannot be forecast by name.
	Ceilings map[string]float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{HorizonDays: 30, Lookback: 30 * day}
}

// Validate rejects nonsensical tunables at construction time.
func (c Config) Validate() error {
	if c.HorizonDays <= 0 {
		return fmt.Errorf("forecast: horizon must be positive, got %d: %w", c.HorizonDays, model.ErrConfig)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("forecast: lookback must be positive: %w", model.ErrConfig)
	}
	for metric, ceiling := range c.Ceilings {
		if ceiling <= 0 {
			return fmt.Errorf("forecast: ceiling for %q must be positive, got %v: %w", metric, ceiling, model.ErrConfig)
		}
	}
	return nil
}

// Engine fits linear trends to stored series.
type Engine struct {
	store  storage.MetricStore
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// New creates an engine. Returns ErrConfig for invalid tunables.
func New(store storage.MetricStore, logger *slog.Logger, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{store: store, logger: logger, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// trend is a least-squares line over a series, in value units per day.
type trend struct {
	slopePerDay float64
	meanValue   float64
	samples     int
}

// fit runs ordinary least squares on value over time. Requires at least
// minDistinctTimestamps distinct timestamps; with fewer, or with all samples
// at one instant, the slope is undefined.
func fit(samples []model.MetricSample) (trend, error) {
	distinct := make(map[time.Time]struct{}, len(samples))
	for _, s := range samples {
		distinct[s.Timestamp] = struct{}{}
	}
	if len(distinct) < minDistinctTimestamps {
		return trend{}, fmt.Errorf("forecast: need %d distinct timestamps, have %d: %w",
			minDistinctTimestamps, len(distinct), model.ErrInsufficientData)
	}

	origin := samples[0].Timestamp
	for _, s := range samples[1:] {
		if s.Timestamp.Before(origin) {
			origin = s.Timestamp
		}
	}

	n := float64(len(samples))
	var sumX, sumY float64
	for _, s := range samples {
		sumX += s.Timestamp.Sub(origin).Hours() / 24
		sumY += s.Value
	}
	meanX, meanY := sumX/n, sumY/n

	var num, den float64
	for _, s := range samples {
		dx := s.Timestamp.Sub(origin).Hours()/24 - meanX
		num += dx * (s.Value - meanY)
		den += dx * dx
	}
	if den == 0 {
		return trend{}, fmt.Errorf("forecast: timestamps carry no spread: %w", model.ErrInsufficientData)
	}

	return trend{
		slopePerDay: num / den,
		meanValue:   meanY,
		samples:     len(samples),
	}, nil
}

// ForecastSamples fits a trend to the given samples and projects it against
// the ceiling. EstimatedExhaustion is nil when the trend is flat or
// shrinking; a non-growing series never exhausts capacity.
func (e *Engine) ForecastSamples(subject, metric string, samples []model.MetricSample, ceiling float64) (*model.CapacityForecast, error) {
	if err := model.ValidateIdentifiers(subject, metric); err != nil {
		return nil, err
	}
	if ceiling <= 0 {
		return nil, fmt.Errorf("forecast: ceiling must be positive, got %v: %w", ceiling, model.ErrValidation)
	}

	tr, err := fit(samples)
	if err != nil {
		return nil, err
	}

	// Projections anchor on the last observation, not the fitted line: the
	// trend supplies the growth rate only, so a last value sitting off the
	// line shifts the whole projection with it.
	last := samples[0]
	for _, s := range samples[1:] {
		if !s.Timestamp.Before(last.Timestamp) {
			last = s
		}
	}

	now := e.now()
	out := &model.CapacityForecast{
		Subject:           subject,
		Metric:            metric,
		GrowthRate:        tr.slopePerDay,
		PredictedCapacity: last.Value + tr.slopePerDay*float64(e.cfg.HorizonDays),
		Ceiling:           ceiling,
		HorizonDays:       e.cfg.HorizonDays,
		SampleCount:       tr.samples,
		GeneratedAt:       now,
	}

	if tr.slopePerDay > 0 {
		daysToCeiling := (ceiling - last.Value) / tr.slopePerDay
		when := last.Timestamp.Add(time.Duration(daysToCeiling * float64(day)))
		if when.Before(now) {
			// Already at or past the ceiling.
			when = now
		}
		out.EstimatedExhaustion = &when
	}
	return out, nil
}

// Forecast loads the configured lookback of history for subject/metric and
// projects it against the metric's configured ceiling.
func (e *Engine) Forecast(ctx context.Context, subject, metric string) (*model.CapacityForecast, error) {
	ceiling, ok := e.cfg.Ceilings[metric]
	if !ok {
		return nil, fmt.Errorf("forecast: no capacity ceiling configured for metric %q: %w", metric, model.ErrNotFound)
	}

	now := e.now()
	samples, err := e.store.QuerySamples(ctx, subject, metric, model.Window{Start: now.Add(-e.cfg.Lookback), End: now.Add(time.Second)})
	if err != nil {
		return nil, fmt.Errorf("forecast: query %s/%s: %w", subject, metric, err)
	}
	fc, err := e.ForecastSamples(subject, metric, samples, ceiling)
	if err != nil {
		return nil, err
	}
	if fc.EstimatedExhaustion != nil {
		e.logger.Info("forecast: exhaustion projected",
			"subject", subject, "metric", metric,
			"exhaustion", fc.EstimatedExhaustion.Format(time.RFC3339),
			"growth_per_day", fc.GrowthRate)
	}
	return fc, nil
}

// DegradationRisks classifies the trend of every series a subject reports.
// Series too thin to fit are skipped rather than failing the sweep.
func (e *Engine) DegradationRisks(ctx context.Context, subject string) ([]model.DegradationRisk, error) {
	metrics, err := e.store.ListMetrics(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("forecast: list metrics for %s: %w", subject, err)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("forecast: no series recorded for subject %s: %w", subject, model.ErrNotFound)
	}

	now := e.now()
	w := model.Window{Start: now.Add(-e.cfg.Lookback), End: now.Add(time.Second)}

	var risks []model.DegradationRisk
	for _, metric := range metrics {
		samples, err := e.store.QuerySamples(ctx, subject, metric, w)
		if err != nil {
			return nil, fmt.Errorf("forecast: query %s/%s: %w", subject, metric, err)
		}
		tr, err := fit(samples)
		if err != nil {
			continue
		}
		risks = append(risks, model.DegradationRisk{
			Metric:      metric,
			SlopePerDay: tr.slopePerDay,
			Risk:        riskFor(tr, e.cfg.HorizonDays),
		})
	}
	return risks, nil
}

// riskFor grades a trend by its projected relative growth over the horizon.
func riskFor(tr trend, horizonDays int) model.Severity {
	if tr.slopePerDay <= 0 {
		return model.SeverityInfo
	}
	scale := math.Abs(tr.meanValue)
	if scale == 0 {
		return model.SeverityCritical
	}
	growth := tr.slopePerDay * float64(horizonDays) / scale
	switch {
	case growth >= 0.5:
		return model.SeverityCritical
	case growth >= 0.25:
		return model.SeveritySevere
	case growth >= 0.05:
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}
