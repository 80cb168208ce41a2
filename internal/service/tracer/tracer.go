// Package tracer records distributed traces as span trees, seals them into
// critical-path and bottleneck analyses, and aborts traces that outlive
// their deadline.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

// Config holds the tracer's tunables.
type Config struct {
	// MaxSpansPerTrace bounds the span tree. Default 10000.
	MaxSpansPerTrace int

	// TraceTimeout is how long a trace may stay open before the sweep
	// aborts it. Default 10m.
	TraceTimeout time.Duration

	// SweepInterval is how often the timeout sweep runs. Default 30s.
	SweepInterval time.Duration

	// BottleneckShare is the fraction of total trace time a span's self
	// time must reach to be reported as a bottleneck. Default 0.4.
	BottleneckShare float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSpansPerTrace: 10_000,
		TraceTimeout:     10 * time.Minute,
		SweepInterval:    30 * time.Second,
		BottleneckShare:  0.4,
	}
}

// Validate rejects nonsensical tunables at construction time.
func (c Config) Validate() error {
	if c.MaxSpansPerTrace <= 0 {
		return fmt.Errorf("tracer: max spans must be positive, got %d: %w", c.MaxSpansPerTrace, model.ErrConfig)
	}
	if c.TraceTimeout <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("tracer: timeout settings must be positive: %w", model.ErrConfig)
	}
	if c.BottleneckShare <= 0 || c.BottleneckShare > 1 {
		return fmt.Errorf("tracer: bottleneck share must be in (0, 1], got %v: %w", c.BottleneckShare, model.ErrConfig)
	}
	return nil
}

// Tracer is the trace lifecycle service. Active traces live in memory;
// sealed analyses are persisted to the store.
type Tracer struct {
	store  storage.TraceStore
	logger *slog.Logger
	cfg    Config

	mu     sync.RWMutex
	active map[uuid.UUID]*model.Trace

	now func() time.Time
}

// New creates a tracer. Returns ErrConfig for invalid tunables.
func New(store storage.TraceStore, logger *slog.Logger, cfg Config) (*Tracer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracer{
		store:  store,
		logger: logger,
		cfg:    cfg,
		active: make(map[uuid.UUID]*model.Trace),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// StartTrace opens a trace for one top-level operation of a subject.
func (t *Tracer) StartTrace(ctx context.Context, subject, operation string) (*model.Trace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if subject == "" || operation == "" {
		return nil, fmt.Errorf("tracer: subject and operation must not be empty: %w", model.ErrValidation)
	}
	if err := model.ValidateIdentifiers(subject, ""); err != nil {
		return nil, err
	}
	if len(operation) > model.MaxOperationLen {
		return nil, fmt.Errorf("tracer: operation exceeds maximum length of %d characters: %w", model.MaxOperationLen, model.ErrValidation)
	}

	tr := &model.Trace{
		TraceID:   uuid.New(),
		Subject:   subject,
		Operation: operation,
		StartedAt: t.now(),
		Status:    model.TraceStarted,
	}

	t.mu.Lock()
	t.active[tr.TraceID] = tr
	t.mu.Unlock()

	t.logger.Info("tracer: trace started", "trace_id", tr.TraceID, "subject", subject, "operation", operation)
	snapshot := *tr
	return &snapshot, nil
}

// AddSpan appends a span to an open trace. The parent, when given, must
// already exist in the same trace.
func (t *Tracer) AddSpan(ctx context.Context, traceID uuid.UUID, in model.SpanInput) (*model.TraceSpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	if len(in.Operation) > model.MaxOperationLen {
		return nil, fmt.Errorf("tracer: span operation exceeds maximum length of %d characters: %w", model.MaxOperationLen, model.ErrValidation)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.active[traceID]
	if !ok {
		return nil, t.missingTraceErr(ctx, traceID)
	}
	if len(tr.Spans) >= t.cfg.MaxSpansPerTrace {
		return nil, fmt.Errorf("tracer: trace %s at span limit (%d): %w", traceID, t.cfg.MaxSpansPerTrace, model.ErrInvalidState)
	}

	spanID := uuid.New()
	if in.SpanID != nil {
		spanID = *in.SpanID
	}
	for _, s := range tr.Spans {
		if s.SpanID == spanID {
			return nil, fmt.Errorf("tracer: span %s already exists in trace %s: %w", spanID, traceID, model.ErrValidation)
		}
	}
	if in.ParentSpanID != nil {
		found := false
		for _, s := range tr.Spans {
			if s.SpanID == *in.ParentSpanID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("tracer: span %s references parent %s: %w", spanID, *in.ParentSpanID, model.ErrDanglingParent)
		}
	}

	span := model.TraceSpan{
		SpanID:       spanID,
		ParentSpanID: in.ParentSpanID,
		Operation:    in.Operation,
		StartTime:    in.StartTime.UTC(),
		Duration:     in.Duration,
		Tags:         in.Tags,
		Metadata:     in.Metadata,
		Failed:       in.Failed,
	}
	tr.Spans = append(tr.Spans, span)
	return &span, nil
}

// Complete seals an open trace, computes its analysis, persists it, and
// releases the in-memory trace.
func (t *Tracer) Complete(ctx context.Context, traceID uuid.UUID) (*model.TraceAnalysis, error) {
	return t.seal(ctx, traceID, model.TraceCompleted)
}

// Abort seals an open trace as aborted, keeping a partial analysis over
// whatever spans were recorded.
func (t *Tracer) Abort(ctx context.Context, traceID uuid.UUID) (*model.TraceAnalysis, error) {
	return t.seal(ctx, traceID, model.TraceAborted)
}

func (t *Tracer) seal(ctx context.Context, traceID uuid.UUID, status model.TraceStatus) (*model.TraceAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	tr, ok := t.active[traceID]
	if !ok {
		t.mu.Unlock()
		return nil, t.missingTraceErr(ctx, traceID)
	}
	tr.Status = status
	snapshot := *tr
	snapshot.Spans = append([]model.TraceSpan(nil), tr.Spans...)
	delete(t.active, traceID)
	t.mu.Unlock()

	analysis := analyze(&snapshot, status, t.cfg.BottleneckShare, t.now())
	if err := t.store.SaveTraceAnalysis(ctx, snapshot, *analysis); err != nil {
		return nil, fmt.Errorf("tracer: persist analysis for %s: %w", traceID, err)
	}

	t.logger.Info("tracer: trace sealed",
		"trace_id", traceID, "status", status,
		"spans", analysis.SpanCount,
		"critical_path_ms", analysis.CriticalPathDuration.Milliseconds(),
		"bottlenecks", len(analysis.Bottlenecks))
	return analysis, nil
}

// missingTraceErr distinguishes a trace that was sealed (invalid state for
// further mutation) from one that never existed.
func (t *Tracer) missingTraceErr(ctx context.Context, traceID uuid.UUID) error {
	if analysis, err := t.store.GetTraceAnalysis(ctx, traceID); err == nil {
		return fmt.Errorf("tracer: trace %s already %s: %w", traceID, analysis.Status, model.ErrInvalidState)
	}
	return fmt.Errorf("tracer: trace %s: %w", traceID, model.ErrNotFound)
}

// GetAnalysis returns the sealed analysis of a trace.
func (t *Tracer) GetAnalysis(ctx context.Context, traceID uuid.UUID) (*model.TraceAnalysis, error) {
	analysis, err := t.store.GetTraceAnalysis(ctx, traceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("tracer: analysis for trace %s: %w", traceID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tracer: load analysis for %s: %w", traceID, err)
	}
	return &analysis, nil
}

// ActiveCount reports how many traces are currently open.
func (t *Tracer) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// CompareTraces reports the timing delta between two sealed traces of the
// same operation, positive meaning the candidate is slower.
func (t *Tracer) CompareTraces(ctx context.Context, baselineID, candidateID uuid.UUID) (*model.TraceComparison, error) {
	baseline, err := t.GetAnalysis(ctx, baselineID)
	if err != nil {
		return nil, err
	}
	candidate, err := t.GetAnalysis(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if baseline.TotalDuration <= 0 {
		return nil, fmt.Errorf("tracer: baseline trace %s has no measurable duration: %w", baselineID, model.ErrInsufficientData)
	}
	delta := float64(candidate.TotalDuration-baseline.TotalDuration) / float64(baseline.TotalDuration) * 100
	return &model.TraceComparison{
		BaselineTraceID:  baselineID,
		CandidateTraceID: candidateID,
		BaselineDuration: baseline.TotalDuration,
		CurrentDuration:  candidate.TotalDuration,
		DeltaPercent:     delta,
	}, nil
}

// RunTimeouts aborts traces that outlive the configured deadline, sweeping
// on a fixed interval until ctx is cancelled.
func (t *Tracer) RunTimeouts(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.sweepExpired(ctx)
		}
	}
}

func (t *Tracer) sweepExpired(ctx context.Context) {
	cutoff := t.now().Add(-t.cfg.TraceTimeout)

	t.mu.RLock()
	var expired []uuid.UUID
	for id, tr := range t.active {
		if tr.StartedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	t.mu.RUnlock()

	for _, id := range expired {
		if _, err := t.Abort(ctx, id); err != nil {
			// Raced with a concurrent Complete; nothing to do.
			if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidState) {
				continue
			}
			t.logger.Error("tracer: timeout abort failed", "trace_id", id, "error", err)
			continue
		}
		t.logger.Warn("tracer: trace timed out", "trace_id", id, "timeout", t.cfg.TraceTimeout)
	}
}
