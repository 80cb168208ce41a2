// Package anomaly flags statistically unusual samples against a rolling
// baseline, classifies their severity, and attributes a probable root cause.
//
// Detection is z-score based: a recent sample is anomalous when its distance
// from the baseline mean exceeds k standard deviations. Anomalies are never
// reported from baselines smaller than the configured minimum.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

// Config holds the detector's tunables. The severity bands (3/4/6) and the
// default k factor are documented defaults, not protocol constants — they
// are operator-tunable per deployment and k per metric.
type Config struct {
	// KDefault is the deviation multiplier above which a sample is
	// anomalous. Default 3.
	KDefault float64

	// KPerMetric overrides KDefault for individual metrics.
	KPerMetric map[string]float64

	// MinBaselineSamples is the smallest baseline that supports detection.
	// Default 10.
	MinBaselineSamples int

	// BaselineSpan is how far before the detection window the rolling
	// baseline reaches. Default 24h.
	BaselineSpan time.Duration

	// LeakMinSamples and LeakConsecutiveIncreases control the resource-leak
	// heuristic: a metric with at least LeakMinSamples recent samples and
	// LeakConsecutiveIncreases strictly increasing values in a row is
	// flagged as a probable leak. Defaults 5 and 4.
	LeakMinSamples           int
	LeakConsecutiveIncreases int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		KDefault:                 3,
		MinBaselineSamples:       10,
		BaselineSpan:             24 * time.Hour,
		LeakMinSamples:           5,
		LeakConsecutiveIncreases: 4,
	}
}

// Validate rejects nonsensical tunables at construction time.
func (c Config) Validate() error {
	if c.KDefault <= 0 {
		return fmt.Errorf("anomaly: k factor must be positive, got %v: %w", c.KDefault, model.ErrConfig)
	}
	for metric, k := range c.KPerMetric {
		if k <= 0 {
			return fmt.Errorf("anomaly: k factor for %q must be positive, got %v: %w", metric, k, model.ErrConfig)
		}
	}
	if c.MinBaselineSamples < 2 {
		return fmt.Errorf("anomaly: min baseline samples must be at least 2, got %d: %w", c.MinBaselineSamples, model.ErrConfig)
	}
	if c.BaselineSpan <= 0 {
		return fmt.Errorf("anomaly: baseline span must be positive: %w", model.ErrConfig)
	}
	if c.LeakMinSamples < 2 || c.LeakConsecutiveIncreases < 1 {
		return fmt.Errorf("anomaly: leak heuristic thresholds out of range: %w", model.ErrConfig)
	}
	return nil
}

func (c Config) kFor(metric string) float64 {
	if k, ok := c.KPerMetric[metric]; ok {
		return k
	}
	return c.KDefault
}

// Detector is the anomaly detection service.
type Detector struct {
	store  storage.Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// New creates a detector. Returns ErrConfig for invalid tunables.
func New(store storage.Store, logger *slog.Logger, cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{store: store, logger: logger, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

// baselineStats is the statistical reference for one metric, recomputed
// lazily on each detection call.
type baselineStats struct {
	count  int
	mean   float64
	stddev float64
}

func computeStats(samples []model.MetricSample) baselineStats {
	n := len(samples)
	if n == 0 {
		return baselineStats{}
	}
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	mean := sum / float64(n)

	var sq float64
	for _, s := range samples {
		d := s.Value - mean
		sq += d * d
	}
	return baselineStats{count: n, mean: mean, stddev: math.Sqrt(sq / float64(n))}
}

// severityFor maps a normalized deviation onto the shared severity taxonomy.
// Deviations below the default bands can still be flagged by a per-metric k
// below 3; those report as info.
func severityFor(d float64) model.Severity {
	switch {
	case d >= 6:
		return model.SeverityCritical
	case d >= 4:
		return model.SeveritySevere
	case d >= 3:
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

// confidence grows with baseline size and shrinks with baseline dispersion:
// more history and a tighter baseline mean a more trustworthy signal.
func (d *Detector) confidence(st baselineStats) float64 {
	size := float64(st.count) / float64(st.count+d.cfg.MinBaselineSamples)
	dispersion := 0.0
	if st.mean != 0 {
		dispersion = st.stddev / math.Abs(st.mean)
	}
	conf := size / (1 + dispersion)
	return math.Min(1, math.Max(0, conf))
}

type metricFinding struct {
	metric    string
	deviation float64 // +Inf for zero-variance baselines with differing values
	severity  model.Severity
	conf      float64
}

// Detect classifies recent samples against baseline samples. Pure with
// respect to failure: on error no partial results are returned.
//
// Metrics are processed in order of first appearance in the recent slice;
// root-cause ties resolve to the earlier metric, so identical inputs always
// attribute identically.
func (d *Detector) Detect(subject string, recent, baseline []model.MetricSample) ([]model.AnomalyRecord, error) {
	if subject == "" {
		return nil, fmt.Errorf("anomaly: subject must not be empty: %w", model.ErrValidation)
	}

	baseByMetric := make(map[string][]model.MetricSample)
	for _, s := range baseline {
		baseByMetric[s.Metric] = append(baseByMetric[s.Metric], s)
	}

	recentByMetric := make(map[string][]model.MetricSample)
	var order []string
	for _, s := range recent {
		if _, seen := recentByMetric[s.Metric]; !seen {
			order = append(order, s.Metric)
		}
		recentByMetric[s.Metric] = append(recentByMetric[s.Metric], s)
	}

	var findings []metricFinding
	evaluated := 0
	for _, metric := range order {
		base := baseByMetric[metric]
		if len(base) < d.cfg.MinBaselineSamples {
			// A thin baseline cannot support detection for this metric, but
			// must not fail the rest of the sweep.
			continue
		}
		evaluated++

		st := computeStats(base)
		k := d.cfg.kFor(metric)

		worst := math.Inf(-1)
		flagged := false
		for _, s := range recentByMetric[metric] {
			var dev float64
			if st.stddev == 0 {
				// Degenerate baseline: equal values are never anomalous,
				// any differing value is maximally anomalous.
				if s.Value == st.mean {
					continue
				}
				dev = math.Inf(1)
			} else {
				dev = math.Abs(s.Value-st.mean) / st.stddev
				if dev <= k {
					continue
				}
			}
			flagged = true
			if dev > worst {
				worst = dev
			}
		}
		if !flagged {
			continue
		}

		sev := model.SeverityCritical
		if !math.IsInf(worst, 1) {
			sev = severityFor(worst)
		}
		findings = append(findings, metricFinding{
			metric:    metric,
			deviation: worst,
			severity:  sev,
			conf:      d.confidence(st),
		})
	}

	if evaluated == 0 && len(recent) > 0 {
		return nil, fmt.Errorf("anomaly: no metric for %s has the %d baseline samples required: %w",
			subject, d.cfg.MinBaselineSamples, model.ErrInsufficientData)
	}

	now := d.now()
	var records []model.AnomalyRecord

	if len(findings) > 0 {
		// Root cause: the metric with the largest normalized deviation in
		// the window. Strict greater-than keeps ties on the earlier metric.
		cause := findings[0]
		for _, f := range findings[1:] {
			if f.deviation > cause.deviation {
				cause = f
			}
		}
		for _, f := range findings {
			dev := f.deviation
			if math.IsInf(dev, 1) {
				dev = 0 // zero-variance baseline; severity already critical
			}
			records = append(records, model.AnomalyRecord{
				ID:                 uuid.New(),
				Subject:            subject,
				Type:               model.AnomalyDeviation,
				Severity:           f.severity,
				ConfidenceScore:    f.conf,
				AffectedMetrics:    []string{f.metric},
				DetectedAt:         now,
				ContributingFactor: cause.metric,
				Deviation:          dev,
			})
		}
	}

	records = append(records, d.detectLeaks(subject, order, recentByMetric, now)...)
	return records, nil
}

// detectLeaks applies the monotonic-growth heuristic: a long run of strictly
// increasing values in a resource gauge suggests the resource is never
// released.
func (d *Detector) detectLeaks(subject string, order []string, byMetric map[string][]model.MetricSample, now time.Time) []model.AnomalyRecord {
	var records []model.AnomalyRecord
	for _, metric := range order {
		samples := byMetric[metric]
		if len(samples) < d.cfg.LeakMinSamples {
			continue
		}
		run, longest := 0, 0
		for i := 1; i < len(samples); i++ {
			if samples[i].Value > samples[i-1].Value {
				run++
				if run > longest {
					longest = run
				}
			} else {
				run = 0
			}
		}
		if longest < d.cfg.LeakConsecutiveIncreases {
			continue
		}
		records = append(records, model.AnomalyRecord{
			ID:                 uuid.New(),
			Subject:            subject,
			Type:               model.AnomalyResourceLeak,
			Severity:           model.SeveritySevere,
			ConfidenceScore:    float64(longest) / float64(len(samples)-1),
			AffectedMetrics:    []string{metric},
			DetectedAt:         now,
			ContributingFactor: metric,
		})
	}
	return records
}

// DetectWindow runs detection for a subject over a time window, using the
// samples immediately preceding the window as the baseline, and persists any
// resulting records.
func (d *Detector) DetectWindow(ctx context.Context, subject string, w model.Window) ([]model.AnomalyRecord, error) {
	metrics, err := d.store.ListMetrics(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("anomaly: list metrics for %s: %w", subject, err)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("anomaly: no series recorded for subject %s: %w", subject, model.ErrNotFound)
	}

	baselineWindow := model.Window{Start: w.Start.Add(-d.cfg.BaselineSpan), End: w.Start}

	var recent, baseline []model.MetricSample
	for _, metric := range metrics {
		r, err := d.store.QuerySamples(ctx, subject, metric, w)
		if err != nil {
			return nil, fmt.Errorf("anomaly: query recent %s/%s: %w", subject, metric, err)
		}
		b, err := d.store.QuerySamples(ctx, subject, metric, baselineWindow)
		if err != nil {
			return nil, fmt.Errorf("anomaly: query baseline %s/%s: %w", subject, metric, err)
		}
		recent = append(recent, r...)
		baseline = append(baseline, b...)
	}

	records, err := d.Detect(subject, recent, baseline)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		if err := d.store.SaveAnomalies(ctx, records); err != nil {
			return nil, fmt.Errorf("anomaly: persist records: %w", err)
		}
		d.logger.Info("anomaly: detection complete",
			"subject", subject, "records", len(records), "cause", records[0].ContributingFactor)
	}
	return records, nil
}
