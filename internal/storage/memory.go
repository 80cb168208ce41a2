package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/model"
)

// defaultMaxSamplesPerSeries bounds each in-memory series so long-running
// processes do not grow without limit. Oldest samples are dropped first.
const defaultMaxSamplesPerSeries = 10_000

// Memory is an in-process Store. Writers contend only on their own series:
// the top-level map is guarded by a read-write mutex, each series by its own
// mutex, so ingestion on distinct (subject, metric) keys proceeds in
// parallel while analytical reads take a snapshot copy.
type Memory struct {
	maxPerSeries int

	mu        sync.RWMutex
	series    map[model.SeriesKey]*memSeries
	bySubject map[string][]string // metric names in first-seen order

	traceMu  sync.RWMutex
	analyses map[uuid.UUID]model.TraceAnalysis

	resultMu   sync.RWMutex
	benchmarks map[string][]model.BenchmarkResult
	anomalies  map[string][]model.AnomalyRecord
	verdicts   []model.RegressionVerdict
}

type memSeries struct {
	mu      sync.Mutex
	samples []model.MetricSample // sorted by timestamp ascending
}

// NewMemory creates an empty in-memory store. maxSamplesPerSeries bounds
// each series; zero applies the default.
func NewMemory(maxSamplesPerSeries int) *Memory {
	if maxSamplesPerSeries <= 0 {
		maxSamplesPerSeries = defaultMaxSamplesPerSeries
	}
	return &Memory{
		maxPerSeries: maxSamplesPerSeries,
		series:       make(map[model.SeriesKey]*memSeries),
		bySubject:    make(map[string][]string),
		analyses:     make(map[uuid.UUID]model.TraceAnalysis),
		benchmarks:   make(map[string][]model.BenchmarkResult),
		anomalies:    make(map[string][]model.AnomalyRecord),
	}
}

func (m *Memory) getOrCreateSeries(key model.SeriesKey) *memSeries {
	m.mu.RLock()
	s, ok := m.series[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.series[key]; ok {
		return s
	}
	s = &memSeries{}
	m.series[key] = s
	m.bySubject[key.Subject] = append(m.bySubject[key.Subject], key.Metric)
	return s
}

// AppendSamples implements MetricStore.
func (m *Memory) AppendSamples(ctx context.Context, samples []model.MetricSample) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: append samples: %w", err)
	}
	for _, sample := range samples {
		s := m.getOrCreateSeries(model.SeriesKey{Subject: sample.Subject, Metric: sample.Metric})
		s.append(sample, m.maxPerSeries)
	}
	return nil
}

func (s *memSeries) append(sample model.MetricSample, maxLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.samples)
	if n == 0 || !sample.Timestamp.Before(s.samples[n-1].Timestamp) {
		s.samples = append(s.samples, sample)
	} else {
		// Out-of-order arrival: insert at the sorted position so queries
		// always see timestamp order.
		i := sort.Search(n, func(i int) bool {
			return s.samples[i].Timestamp.After(sample.Timestamp)
		})
		s.samples = append(s.samples, model.MetricSample{})
		copy(s.samples[i+1:], s.samples[i:])
		s.samples[i] = sample
	}

	if len(s.samples) > maxLen {
		drop := len(s.samples) - maxLen
		s.samples = append(s.samples[:0:0], s.samples[drop:]...)
	}
}

// QuerySamples implements MetricStore.
func (m *Memory) QuerySamples(ctx context.Context, subject, metric string, w model.Window) ([]model.MetricSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("storage: query samples: %w", err)
	}

	m.mu.RLock()
	s, ok := m.series[model.SeriesKey{Subject: subject, Metric: metric}]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.MetricSample, 0, len(s.samples))
	for _, sample := range s.samples {
		if w.Contains(sample.Timestamp) {
			out = append(out, sample)
		}
	}
	return out, nil
}

// ListMetrics implements MetricStore.
func (m *Memory) ListMetrics(ctx context.Context, subject string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("storage: list metrics: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.bySubject[subject]...), nil
}

// PruneSamples implements MetricStore.
func (m *Memory) PruneSamples(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("storage: prune samples: %w", err)
	}

	m.mu.RLock()
	all := make([]*memSeries, 0, len(m.series))
	for _, s := range m.series {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var pruned int64
	for _, s := range all {
		s.mu.Lock()
		i := sort.Search(len(s.samples), func(i int) bool {
			return !s.samples[i].Timestamp.Before(before)
		})
		if i > 0 {
			pruned += int64(i)
			s.samples = append(s.samples[:0:0], s.samples[i:]...)
		}
		s.mu.Unlock()
	}
	return pruned, nil
}

// SaveTraceAnalysis implements TraceStore.
func (m *Memory) SaveTraceAnalysis(ctx context.Context, trace model.Trace, analysis model.TraceAnalysis) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: save trace analysis: %w", err)
	}
	m.traceMu.Lock()
	defer m.traceMu.Unlock()
	m.analyses[analysis.TraceID] = analysis
	return nil
}

// GetTraceAnalysis implements TraceStore.
func (m *Memory) GetTraceAnalysis(ctx context.Context, traceID uuid.UUID) (model.TraceAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return model.TraceAnalysis{}, fmt.Errorf("storage: get trace analysis: %w", err)
	}
	m.traceMu.RLock()
	defer m.traceMu.RUnlock()
	a, ok := m.analyses[traceID]
	if !ok {
		return model.TraceAnalysis{}, ErrNotFound
	}
	return a, nil
}

// SaveBenchmarkResult implements ResultStore.
func (m *Memory) SaveBenchmarkResult(ctx context.Context, result model.BenchmarkResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: save benchmark result: %w", err)
	}
	m.resultMu.Lock()
	defer m.resultMu.Unlock()
	m.benchmarks[result.BenchmarkName] = append(m.benchmarks[result.BenchmarkName], result)
	return nil
}

// LatestBenchmarkResult implements ResultStore. History is append-ordered;
// the last element is the live comparison baseline.
func (m *Memory) LatestBenchmarkResult(ctx context.Context, name string) (model.BenchmarkResult, error) {
	if err := ctx.Err(); err != nil {
		return model.BenchmarkResult{}, fmt.Errorf("storage: latest benchmark result: %w", err)
	}
	m.resultMu.RLock()
	defer m.resultMu.RUnlock()
	history := m.benchmarks[name]
	if len(history) == 0 {
		return model.BenchmarkResult{}, ErrNotFound
	}
	return history[len(history)-1], nil
}

// ListBenchmarkResults implements ResultStore.
func (m *Memory) ListBenchmarkResults(ctx context.Context, name string, limit int) ([]model.BenchmarkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("storage: list benchmark results: %w", err)
	}
	m.resultMu.RLock()
	defer m.resultMu.RUnlock()
	history := m.benchmarks[name]
	out := make([]model.BenchmarkResult, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, history[i])
	}
	return out, nil
}

// SaveAnomalies implements ResultStore.
func (m *Memory) SaveAnomalies(ctx context.Context, records []model.AnomalyRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: save anomalies: %w", err)
	}
	m.resultMu.Lock()
	defer m.resultMu.Unlock()
	for _, rec := range records {
		m.anomalies[rec.Subject] = append(m.anomalies[rec.Subject], rec)
	}
	return nil
}

// ListAnomalies implements ResultStore.
func (m *Memory) ListAnomalies(ctx context.Context, subject string, w model.Window) ([]model.AnomalyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("storage: list anomalies: %w", err)
	}
	m.resultMu.RLock()
	defer m.resultMu.RUnlock()
	var out []model.AnomalyRecord
	for _, rec := range m.anomalies[subject] {
		if w.Contains(rec.DetectedAt) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SaveRegressionVerdicts implements ResultStore.
func (m *Memory) SaveRegressionVerdicts(ctx context.Context, verdicts []model.RegressionVerdict) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: save regression verdicts: %w", err)
	}
	m.resultMu.Lock()
	defer m.resultMu.Unlock()
	m.verdicts = append(m.verdicts, verdicts...)
	return nil
}

// ListRegressionVerdicts implements ResultStore.
func (m *Memory) ListRegressionVerdicts(ctx context.Context, w model.Window) ([]model.RegressionVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("storage: list regression verdicts: %w", err)
	}
	m.resultMu.RLock()
	defer m.resultMu.RUnlock()
	var out []model.RegressionVerdict
	for _, v := range m.verdicts {
		if w.Contains(v.RecordedAt) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements Store.
func (m *Memory) Close(ctx context.Context) error { return nil }
