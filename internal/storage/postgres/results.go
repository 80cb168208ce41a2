package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/storage"
)

// SaveTraceAnalysis implements storage.TraceStore. The sealed trace and its
// analysis are written together so a stored analysis always has its spans.
func (s *Store) SaveTraceAnalysis(ctx context.Context, trace model.Trace, analysis model.TraceAnalysis) error {
	traceDoc, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("storage: marshal trace %s: %w", trace.TraceID, err)
	}
	analysisDoc, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("storage: marshal analysis %s: %w", trace.TraceID, err)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO trace_analyses (trace_id, subject, status, trace, analysis, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (trace_id) DO UPDATE SET status = $3, trace = $4, analysis = $5, completed_at = $6`,
		analysis.TraceID, analysis.Subject, string(analysis.Status), traceDoc, analysisDoc, analysis.CompletedAt.UTC(),
	); err != nil {
		return fmt.Errorf("storage: save trace analysis %s: %w", trace.TraceID, err)
	}
	return nil
}

// GetTraceAnalysis implements storage.TraceStore.
func (s *Store) GetTraceAnalysis(ctx context.Context, traceID uuid.UUID) (model.TraceAnalysis, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT analysis FROM trace_analyses WHERE trace_id = $1`, traceID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TraceAnalysis{}, storage.ErrNotFound
	}
	if err != nil {
		return model.TraceAnalysis{}, fmt.Errorf("storage: get trace analysis %s: %w", traceID, err)
	}

	var analysis model.TraceAnalysis
	if err := json.Unmarshal(doc, &analysis); err != nil {
		return model.TraceAnalysis{}, fmt.Errorf("storage: unmarshal trace analysis %s: %w", traceID, err)
	}
	return analysis, nil
}

// SaveBenchmarkResult implements storage.ResultStore.
func (s *Store) SaveBenchmarkResult(ctx context.Context, result model.BenchmarkResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("storage: marshal benchmark result %s: %w", result.ID, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO benchmark_results (id, benchmark_name, result, recorded_at) VALUES ($1, $2, $3, $4)`,
		result.ID, result.BenchmarkName, doc, result.RecordedAt.UTC(),
	); err != nil {
		return fmt.Errorf("storage: save benchmark result %s: %w", result.ID, err)
	}
	return nil
}

// LatestBenchmarkResult implements storage.ResultStore.
func (s *Store) LatestBenchmarkResult(ctx context.Context, name string) (model.BenchmarkResult, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM benchmark_results WHERE benchmark_name = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		name,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BenchmarkResult{}, storage.ErrNotFound
	}
	if err != nil {
		return model.BenchmarkResult{}, fmt.Errorf("storage: latest benchmark result %q: %w", name, err)
	}

	var result model.BenchmarkResult
	if err := json.Unmarshal(doc, &result); err != nil {
		return model.BenchmarkResult{}, fmt.Errorf("storage: unmarshal benchmark result %q: %w", name, err)
	}
	return result, nil
}

// ListBenchmarkResults implements storage.ResultStore, newest first.
func (s *Store) ListBenchmarkResults(ctx context.Context, name string, limit int) ([]model.BenchmarkResult, error) {
	query := `SELECT result FROM benchmark_results WHERE benchmark_name = $1 ORDER BY recorded_at DESC, id DESC`
	args := []any{name}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list benchmark results %q: %w", name, err)
	}
	defer rows.Close()

	var out []model.BenchmarkResult
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan benchmark result: %w", err)
		}
		var result model.BenchmarkResult
		if err := json.Unmarshal(doc, &result); err != nil {
			return nil, fmt.Errorf("storage: unmarshal benchmark result: %w", err)
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// SaveAnomalies implements storage.ResultStore via COPY.
func (s *Store) SaveAnomalies(ctx context.Context, records []model.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}

	columns := []string{"id", "subject", "record", "detected_at"}
	rows := make([][]any, len(records))
	for i, rec := range records {
		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("storage: marshal anomaly %s: %w", rec.ID, err)
		}
		rows[i] = []any{rec.ID, rec.Subject, doc, rec.DetectedAt.UTC()}
	}
	if _, err := s.pool.CopyFrom(ctx, pgx.Identifier{"anomalies"}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("storage: copy anomalies: %w", err)
	}
	return nil
}

// ListAnomalies implements storage.ResultStore.
func (s *Store) ListAnomalies(ctx context.Context, subject string, w model.Window) ([]model.AnomalyRecord, error) {
	var end *time.Time
	if !w.End.IsZero() {
		e := w.End.UTC()
		end = &e
	}

	rows, err := s.pool.Query(ctx,
		`SELECT record FROM anomalies
		 WHERE subject = $1 AND detected_at >= $2 AND ($3::timestamptz IS NULL OR detected_at < $3)
		 ORDER BY detected_at ASC, id ASC`,
		subject, w.Start.UTC(), end,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list anomalies for %s: %w", subject, err)
	}
	defer rows.Close()

	var out []model.AnomalyRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan anomaly: %w", err)
		}
		var rec model.AnomalyRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("storage: unmarshal anomaly: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveRegressionVerdicts implements storage.ResultStore via COPY.
func (s *Store) SaveRegressionVerdicts(ctx context.Context, verdicts []model.RegressionVerdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	columns := []string{"id", "test_name", "verdict", "recorded_at"}
	rows := make([][]any, len(verdicts))
	for i, v := range verdicts {
		doc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("storage: marshal verdict %s: %w", v.ID, err)
		}
		rows[i] = []any{v.ID, v.TestName, doc, v.RecordedAt.UTC()}
	}
	if _, err := s.pool.CopyFrom(ctx, pgx.Identifier{"regression_verdicts"}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("storage: copy verdicts: %w", err)
	}
	return nil
}

// ListRegressionVerdicts implements storage.ResultStore.
func (s *Store) ListRegressionVerdicts(ctx context.Context, w model.Window) ([]model.RegressionVerdict, error) {
	var end *time.Time
	if !w.End.IsZero() {
		e := w.End.UTC()
		end = &e
	}

	rows, err := s.pool.Query(ctx,
		`SELECT verdict FROM regression_verdicts
		 WHERE recorded_at >= $1 AND ($2::timestamptz IS NULL OR recorded_at < $2)
		 ORDER BY recorded_at ASC, id ASC`,
		w.Start.UTC(), end,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list verdicts: %w", err)
	}
	defer rows.Close()

	var out []model.RegressionVerdict
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan verdict: %w", err)
		}
		var v model.RegressionVerdict
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("storage: unmarshal verdict: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
