package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TraceStatus is the lifecycle state of a trace.
type TraceStatus string

const (
	TraceStarted   TraceStatus = "started"
	TraceCompleted TraceStatus = "completed"
	TraceAborted   TraceStatus = "aborted"
)

// Terminal reports whether the trace is sealed. Sealed traces accept no
// further spans.
func (s TraceStatus) Terminal() bool {
	return s == TraceCompleted || s == TraceAborted
}

// TraceSpan is one timed operation inside a trace. Spans form a tree: a
// span's parent must already exist in the same trace or be absent. Owned
// exclusively by its parent trace.
type TraceSpan struct {
	SpanID       uuid.UUID         `json:"span_id"`
	ParentSpanID *uuid.UUID        `json:"parent_span_id,omitempty"`
	Operation    string            `json:"operation"`
	StartTime    time.Time         `json:"start_time"`
	Duration     time.Duration     `json:"duration"`
	Tags         map[string]string `json:"tags,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Failed       bool              `json:"failed,omitempty"`
}

// SpanInput is the caller-supplied part of a span; the tracer assigns the
// span ID when it is not set.
type SpanInput struct {
	SpanID       *uuid.UUID        `json:"span_id,omitempty"`
	ParentSpanID *uuid.UUID        `json:"parent_span_id,omitempty"`
	Operation    string            `json:"operation"`
	StartTime    time.Time         `json:"start_time"`
	Duration     time.Duration     `json:"duration"`
	Tags         map[string]string `json:"tags,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Failed       bool              `json:"failed,omitempty"`
}

// Validate checks span invariants at ingestion.
func (in SpanInput) Validate() error {
	if strings.TrimSpace(in.Operation) == "" {
		return fmt.Errorf("span operation must not be empty: %w", ErrValidation)
	}
	if in.StartTime.IsZero() {
		return fmt.Errorf("span start_time must be set: %w", ErrValidation)
	}
	if in.Duration < 0 {
		return fmt.Errorf("span duration must be non-negative: %w", ErrValidation)
	}
	return nil
}

// Trace is a call tree built from spans reported by instrumented
// operations. Created on start, mutated only while started, sealed on
// completion or timeout.
type Trace struct {
	TraceID   uuid.UUID   `json:"trace_id"`
	Subject   string      `json:"subject"`
	Operation string      `json:"operation"`
	StartedAt time.Time   `json:"started_at"`
	Status    TraceStatus `json:"status"`
	Spans     []TraceSpan `json:"spans"`
}

// Bottleneck is a span whose self time (duration minus the sum of its direct
// children's durations) consumed an outsized share of the whole trace.
type Bottleneck struct {
	SpanID       uuid.UUID     `json:"span_id"`
	Operation    string        `json:"operation"`
	SelfTime     time.Duration `json:"self_time"`
	ShareOfTotal float64       `json:"share_of_total"` // 0..1
	Severity     Severity      `json:"severity"`
}

// TraceAnalysis is the result of sealing a trace. Aborted traces carry a
// partial analysis over whatever spans were recorded.
type TraceAnalysis struct {
	TraceID              uuid.UUID     `json:"trace_id"`
	Subject              string        `json:"subject"`
	Status               TraceStatus   `json:"status"`
	SpanCount            int           `json:"span_count"`
	TotalDuration        time.Duration `json:"total_duration"`
	CriticalPath         []uuid.UUID   `json:"critical_path"`
	CriticalPathDuration time.Duration `json:"critical_path_duration"`
	Bottlenecks          []Bottleneck  `json:"bottlenecks"`
	ErrorCount           int           `json:"error_count"`
	CompletedAt          time.Time     `json:"completed_at"`
}

// TraceComparison reports how one trace's timing changed relative to another,
// typically the same operation before and after a deploy.
type TraceComparison struct {
	BaselineTraceID  uuid.UUID     `json:"baseline_trace_id"`
	CandidateTraceID uuid.UUID     `json:"candidate_trace_id"`
	BaselineDuration time.Duration `json:"baseline_duration"`
	CurrentDuration  time.Duration `json:"current_duration"`
	DeltaPercent     float64       `json:"delta_percent"` // positive = slower
}
