// Package storage defines the repository abstraction the engine depends on:
// an append-only, time-ordered sample store plus stores for sealed trace
// analyses, benchmark results, anomalies, and regression verdicts.
//
// The engine never depends on a physical store. The in-memory implementation
// here backs tests and single-process embedding; the postgres and sqlite
// subpackages back production deployments.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/model"
)

// MetricStore is the time-ordered sample repository. Samples are append-only
// and immutable; queries return copies ordered by timestamp.
type MetricStore interface {
	// AppendSamples appends a batch of validated samples. Safe for
	// concurrent writers on distinct series.
	AppendSamples(ctx context.Context, samples []model.MetricSample) error

	// QuerySamples returns the samples of one series inside the window,
	// ordered by timestamp ascending.
	QuerySamples(ctx context.Context, subject, metric string, w model.Window) ([]model.MetricSample, error)

	// ListMetrics returns the metric names recorded for a subject in
	// first-seen order. The order is stable and used for deterministic
	// tie-breaking in root-cause attribution.
	ListMetrics(ctx context.Context, subject string) ([]string, error)

	// PruneSamples drops samples older than the cutoff and returns the
	// number removed. Retention enforcement only; never called from
	// analytical paths.
	PruneSamples(ctx context.Context, before time.Time) (int64, error)
}

// TraceStore persists sealed traces and their analyses.
type TraceStore interface {
	SaveTraceAnalysis(ctx context.Context, trace model.Trace, analysis model.TraceAnalysis) error
	GetTraceAnalysis(ctx context.Context, traceID uuid.UUID) (model.TraceAnalysis, error)
}

// ResultStore persists analytical outputs: benchmark history, anomaly
// records, and regression verdicts.
type ResultStore interface {
	SaveBenchmarkResult(ctx context.Context, result model.BenchmarkResult) error

	// LatestBenchmarkResult returns the most recent result recorded for a
	// benchmark name, or ErrNotFound.
	LatestBenchmarkResult(ctx context.Context, name string) (model.BenchmarkResult, error)

	// ListBenchmarkResults returns up to limit results for a name, newest
	// first. A non-positive limit means no limit.
	ListBenchmarkResults(ctx context.Context, name string, limit int) ([]model.BenchmarkResult, error)

	SaveAnomalies(ctx context.Context, records []model.AnomalyRecord) error
	ListAnomalies(ctx context.Context, subject string, w model.Window) ([]model.AnomalyRecord, error)

	SaveRegressionVerdicts(ctx context.Context, verdicts []model.RegressionVerdict) error
	ListRegressionVerdicts(ctx context.Context, w model.Window) ([]model.RegressionVerdict, error)
}

// Store is the full repository surface the engine is constructed with.
type Store interface {
	MetricStore
	TraceStore
	ResultStore

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
