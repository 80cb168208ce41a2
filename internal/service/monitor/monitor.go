// Package monitor is the ingestion front door: it validates and samples
// incoming metrics, flags out-of-order arrivals, checks alert thresholds,
// tracks monitoring sessions, and writes accepted samples through a buffered
// batch pipeline.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

// AlertFunc receives threshold alerts as they are raised. Implementations
// must not block; the recorder calls them inline on the ingest path.
type AlertFunc func(model.ThresholdAlert)

// Config holds the recorder's tunables.
type Config struct {
	// SamplingRate is the fraction of incoming samples kept, in (0, 1].
	// Default 1 (keep everything).
	SamplingRate float64

	// AlertThresholds maps metric name to the value above which an alert is
	// raised. Metrics without an entry are never alerted on.
	AlertThresholds map[string]float64

	// BufferSize and FlushInterval control the write pipeline: a flush is
	// triggered by whichever is reached first. Defaults 500 and 2s.
	BufferSize    int
	FlushInterval time.Duration

	// RetentionPeriod is how long samples are kept; RetentionSweepInterval
	// is how often the prune loop runs. Defaults 7 days and 1h.
	RetentionPeriod        time.Duration
	RetentionSweepInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SamplingRate:           1,
		BufferSize:             500,
		FlushInterval:          2 * time.Second,
		RetentionPeriod:        7 * 24 * time.Hour,
		RetentionSweepInterval: time.Hour,
	}
}

// Validate rejects nonsensical tunables at construction time.
func (c Config) Validate() error {
	if c.SamplingRate <= 0 || c.SamplingRate > 1 {
		return fmt.Errorf("monitor: sampling rate must be in (0, 1], got %v: %w", c.SamplingRate, model.ErrConfig)
	}
	if c.BufferSize <= 0 || c.BufferSize > maxBufferCapacity {
		return fmt.Errorf("monitor: buffer size must be in [1, %d], got %d: %w", maxBufferCapacity, c.BufferSize, model.ErrConfig)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("monitor: flush interval must be positive: %w", model.ErrConfig)
	}
	if c.RetentionPeriod <= 0 || c.RetentionSweepInterval <= 0 {
		return fmt.Errorf("monitor: retention settings must be positive: %w", model.ErrConfig)
	}
	for metric, threshold := range c.AlertThresholds {
		if threshold < 0 {
			return fmt.Errorf("monitor: alert threshold for %q must be non-negative, got %v: %w", metric, threshold, model.ErrConfig)
		}
	}
	return nil
}

// Recorder is the metric ingestion service.
type Recorder struct {
	store   storage.MetricStore
	logger  *slog.Logger
	cfg     Config
	buf     *buffer
	alertFn AlertFunc

	mu       sync.Mutex
	lastSeen map[model.SeriesKey]time.Time

	sessMu   sync.Mutex
	sessions map[string]*model.Session

	now       func() time.Time
	randFloat func() float64
}

// New creates a recorder. alertFn may be nil when no alert fan-out is wired.
func New(store storage.MetricStore, logger *slog.Logger, cfg Config, alertFn AlertFunc) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Recorder{
		store:     store,
		logger:    logger,
		cfg:       cfg,
		buf:       newBuffer(store, logger, cfg.BufferSize, cfg.FlushInterval),
		alertFn:   alertFn,
		lastSeen:  make(map[model.SeriesKey]time.Time),
		sessions:  make(map[string]*model.Session),
		now:       func() time.Time { return time.Now().UTC() },
		randFloat: rand.Float64,
	}, nil
}

// Start launches the flush loop. Call Drain on shutdown.
func (r *Recorder) Start(ctx context.Context) {
	r.buf.Start(ctx)
}

// Drain stops the flush loop after a final flush bounded by ctx.
func (r *Recorder) Drain(ctx context.Context) {
	r.buf.Drain(ctx)
}

// Flush forces buffered samples to the store, for callers that need
// read-your-writes before the next interval flush.
func (r *Recorder) Flush(ctx context.Context) {
	r.buf.FlushNow(ctx)
}

// BufferDepth reports the number of samples awaiting flush.
func (r *Recorder) BufferDepth() int {
	return r.buf.Len()
}

// Record validates and ingests a batch of samples for one subject. Any
// invalid sample rejects the whole batch so callers never partially ingest.
// Returns how many samples were accepted after sampling, plus any threshold
// alerts the batch raised. Alerts fire even for samples dropped by the
// sampling rate; alerting must not degrade when ingestion is downsampled.
func (r *Recorder) Record(ctx context.Context, subject string, inputs []model.SampleInput) (int, []model.ThresholdAlert, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if len(inputs) == 0 {
		return 0, nil, fmt.Errorf("monitor: empty sample batch: %w", model.ErrValidation)
	}

	now := r.now()
	samples := make([]model.MetricSample, len(inputs))
	for i, in := range inputs {
		ts := now
		if in.Timestamp != nil {
			ts = in.Timestamp.UTC()
		}
		s := model.MetricSample{Subject: subject, Metric: in.Metric, Value: in.Value, Timestamp: ts}
		if err := s.Validate(); err != nil {
			return 0, nil, fmt.Errorf("monitor: sample %d: %w", i, err)
		}
		if err := model.ValidateIdentifiers(subject, in.Metric); err != nil {
			return 0, nil, fmt.Errorf("monitor: sample %d: %w", i, err)
		}
		samples[i] = s
	}

	var alerts []model.ThresholdAlert
	kept := samples[:0]

	r.mu.Lock()
	for _, s := range samples {
		if threshold, ok := r.cfg.AlertThresholds[s.Metric]; ok {
			if alert := ThresholdCheck(s, threshold); alert != nil {
				alerts = append(alerts, *alert)
			}
		}
		if r.cfg.SamplingRate < 1 && r.randFloat() >= r.cfg.SamplingRate {
			continue
		}
		key := model.SeriesKey{Subject: s.Subject, Metric: s.Metric}
		if last, ok := r.lastSeen[key]; ok && s.Timestamp.Before(last) {
			s.OutOfOrder = true
		} else {
			r.lastSeen[key] = s.Timestamp
		}
		kept = append(kept, s)
	}
	r.mu.Unlock()

	if len(kept) > 0 {
		if err := r.buf.enqueue(kept); err != nil {
			return 0, nil, err
		}
	}

	r.bumpSessions(subject, int64(len(kept)), int64(len(alerts)))

	if r.alertFn != nil {
		for _, a := range alerts {
			r.alertFn(a)
		}
	}
	if len(alerts) > 0 {
		r.logger.Warn("monitor: thresholds crossed",
			"subject", subject, "alerts", len(alerts), "metric", alerts[0].Metric)
	}
	return len(kept), alerts, nil
}

// ThresholdCheck compares a sample against an alert threshold. Returns nil
// when the value is at or below the threshold. Severity grades by overshoot:
// past double the threshold is critical, past one and a half severe,
// anything above warning.
func ThresholdCheck(s model.MetricSample, threshold float64) *model.ThresholdAlert {
	if s.Value <= threshold {
		return nil
	}
	severity := model.SeverityWarning
	switch {
	case threshold > 0 && s.Value >= 2*threshold:
		severity = model.SeverityCritical
	case threshold > 0 && s.Value >= 1.5*threshold:
		severity = model.SeveritySevere
	case threshold == 0:
		// Any value above a zero threshold is treated as maximal overshoot.
		severity = model.SeverityCritical
	}
	return &model.ThresholdAlert{
		Subject:   s.Subject,
		Metric:    s.Metric,
		Value:     s.Value,
		Threshold: threshold,
		Severity:  severity,
		RaisedAt:  s.Timestamp,
	}
}

// StartSession opens a monitoring session for a subject. Sample and alert
// counts accumulate on every open session for that subject until EndSession.
func (r *Recorder) StartSession(subject string) (*model.Session, error) {
	if err := model.ValidateIdentifiers(subject, ""); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, fmt.Errorf("monitor: subject must not be empty: %w", model.ErrValidation)
	}
	sess := &model.Session{ID: uuid.NewString(), Subject: subject, StartedAt: r.now()}

	r.sessMu.Lock()
	r.sessions[sess.ID] = sess
	r.sessMu.Unlock()

	r.logger.Info("monitor: session started", "session_id", sess.ID, "subject", subject)
	out := *sess
	return &out, nil
}

// EndSession closes a session and returns its final counts. The session is
// evicted on close so the live map only ever holds open sessions; ending an
// unknown or already-ended session is a not-found error.
func (r *Recorder) EndSession(id string) (*model.Session, error) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("monitor: session %s: %w", id, model.ErrNotFound)
	}
	ended := r.now()
	sess.EndedAt = &ended

	out := *sess
	delete(r.sessions, id)
	return &out, nil
}

func (r *Recorder) bumpSessions(subject string, samples, alerts int64) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	for _, sess := range r.sessions {
		if sess.Subject == subject && sess.EndedAt == nil {
			sess.Samples += samples
			sess.Alerts += alerts
		}
	}
}

// RunRetention prunes samples older than the retention period on a fixed
// interval until ctx is cancelled. Intended to run under the application's
// errgroup.
func (r *Recorder) RunRetention(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.RetentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := r.now().Add(-r.cfg.RetentionPeriod)
			pruned, err := r.store.PruneSamples(ctx, cutoff)
			if err != nil {
				r.logger.Error("monitor: retention sweep failed", "error", err)
				continue
			}
			if pruned > 0 {
				r.logger.Info("monitor: retention sweep", "pruned", pruned, "cutoff", cutoff.Format(time.RFC3339))
			}
		}
	}
}
