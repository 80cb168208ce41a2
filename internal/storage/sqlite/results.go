package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

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

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO trace_analyses (trace_id, subject, status, trace, analysis, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (trace_id) DO UPDATE SET
		     status = excluded.status, trace = excluded.trace,
		     analysis = excluded.analysis, completed_at = excluded.completed_at`,
		analysis.TraceID.String(), analysis.Subject, string(analysis.Status),
		string(traceDoc), string(analysisDoc), analysis.CompletedAt.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("storage: save trace analysis %s: %w", trace.TraceID, err)
	}
	return nil
}

// GetTraceAnalysis implements storage.TraceStore.
func (s *Store) GetTraceAnalysis(ctx context.Context, traceID uuid.UUID) (model.TraceAnalysis, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT analysis FROM trace_analyses WHERE trace_id = ?`, traceID.String(),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TraceAnalysis{}, storage.ErrNotFound
	}
	if err != nil {
		return model.TraceAnalysis{}, fmt.Errorf("storage: get trace analysis %s: %w", traceID, err)
	}

	var analysis model.TraceAnalysis
	if err := json.Unmarshal([]byte(doc), &analysis); err != nil {
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
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO benchmark_results (id, benchmark_name, result, recorded_at) VALUES (?, ?, ?, ?)`,
		result.ID.String(), result.BenchmarkName, string(doc), result.RecordedAt.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("storage: save benchmark result %s: %w", result.ID, err)
	}
	return nil
}

// LatestBenchmarkResult implements storage.ResultStore.
func (s *Store) LatestBenchmarkResult(ctx context.Context, name string) (model.BenchmarkResult, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM benchmark_results WHERE benchmark_name = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		name,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BenchmarkResult{}, storage.ErrNotFound
	}
	if err != nil {
		return model.BenchmarkResult{}, fmt.Errorf("storage: latest benchmark result %q: %w", name, err)
	}

	var result model.BenchmarkResult
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return model.BenchmarkResult{}, fmt.Errorf("storage: unmarshal benchmark result %q: %w", name, err)
	}
	return result, nil
}

// ListBenchmarkResults implements storage.ResultStore, newest first.
func (s *Store) ListBenchmarkResults(ctx context.Context, name string, limit int) ([]model.BenchmarkResult, error) {
	query := `SELECT result FROM benchmark_results WHERE benchmark_name = ? ORDER BY recorded_at DESC, id DESC`
	args := []any{name}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list benchmark results %q: %w", name, err)
	}
	defer rows.Close()

	var out []model.BenchmarkResult
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan benchmark result: %w", err)
		}
		var result model.BenchmarkResult
		if err := json.Unmarshal([]byte(doc), &result); err != nil {
			return nil, fmt.Errorf("storage: unmarshal benchmark result: %w", err)
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

// SaveAnomalies implements storage.ResultStore.
func (s *Store) SaveAnomalies(ctx context.Context, records []model.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin anomaly tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO anomalies (id, subject, record, detected_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare anomaly insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("storage: marshal anomaly %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID.String(), rec.Subject, string(doc), rec.DetectedAt.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("storage: insert anomaly %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit anomaly tx: %w", err)
	}
	return nil
}

// ListAnomalies implements storage.ResultStore.
func (s *Store) ListAnomalies(ctx context.Context, subject string, w model.Window) ([]model.AnomalyRecord, error) {
	query := `SELECT record FROM anomalies WHERE subject = ? AND detected_at >= ?`
	args := []any{subject, w.Start.UTC().UnixNano()}
	if !w.End.IsZero() {
		query += ` AND detected_at < ?`
		args = append(args, w.End.UTC().UnixNano())
	}
	query += ` ORDER BY detected_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list anomalies for %s: %w", subject, err)
	}
	defer rows.Close()

	var out []model.AnomalyRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan anomaly: %w", err)
		}
		var rec model.AnomalyRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("storage: unmarshal anomaly: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveRegressionVerdicts implements storage.ResultStore.
func (s *Store) SaveRegressionVerdicts(ctx context.Context, verdicts []model.RegressionVerdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin verdict tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO regression_verdicts (id, test_name, verdict, recorded_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare verdict insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range verdicts {
		doc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("storage: marshal verdict %s: %w", v.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			v.ID.String(), v.TestName, string(doc), v.RecordedAt.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("storage: insert verdict %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit verdict tx: %w", err)
	}
	return nil
}

// ListRegressionVerdicts implements storage.ResultStore.
func (s *Store) ListRegressionVerdicts(ctx context.Context, w model.Window) ([]model.RegressionVerdict, error) {
	query := `SELECT verdict FROM regression_verdicts WHERE recorded_at >= ?`
	args := []any{w.Start.UTC().UnixNano()}
	if !w.End.IsZero() {
		query += ` AND recorded_at < ?`
		args = append(args, w.End.UTC().UnixNano())
	}
	query += ` ORDER BY recorded_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list verdicts: %w", err)
	}
	defer rows.Close()

	var out []model.RegressionVerdict
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage: scan verdict: %w", err)
		}
		var v model.RegressionVerdict
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, fmt.Errorf("storage: unmarshal verdict: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
