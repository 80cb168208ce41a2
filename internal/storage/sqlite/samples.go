package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/strellerminds/pulse/internal/model"
)

// AppendSamples implements storage.MetricStore. The batch goes in inside one
// transaction; the per-series registry rows keep ListMetrics in first-seen
// order (rowid order, INSERT OR IGNORE preserves the earliest row).
func (s *Store) AppendSamples(ctx context.Context, samples []model.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seriesStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO series (subject, metric) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare series insert: %w", err)
	}
	defer seriesStmt.Close()

	sampleStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metric_samples (subject, metric, value, ts, out_of_order) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare sample insert: %w", err)
	}
	defer sampleStmt.Close()

	seen := make(map[model.SeriesKey]struct{}, len(samples))
	for _, sm := range samples {
		key := model.SeriesKey{Subject: sm.Subject, Metric: sm.Metric}
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			if _, err := seriesStmt.ExecContext(ctx, sm.Subject, sm.Metric); err != nil {
				return fmt.Errorf("storage: register series %s/%s: %w", sm.Subject, sm.Metric, err)
			}
		}
		if _, err := sampleStmt.ExecContext(ctx,
			sm.Subject, sm.Metric, sm.Value, sm.Timestamp.UTC().UnixNano(), sm.OutOfOrder,
		); err != nil {
			return fmt.Errorf("storage: insert sample %s/%s: %w", sm.Subject, sm.Metric, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit append tx: %w", err)
	}
	return nil
}

// QuerySamples implements storage.MetricStore. The window end is exclusive;
// a zero end means until now.
func (s *Store) QuerySamples(ctx context.Context, subject, metric string, w model.Window) ([]model.MetricSample, error) {
	query := `SELECT subject, metric, value, ts, out_of_order
	          FROM metric_samples
	          WHERE subject = ? AND metric = ? AND ts >= ?`
	args := []any{subject, metric, w.Start.UTC().UnixNano()}
	if !w.End.IsZero() {
		query += ` AND ts < ?`
		args = append(args, w.End.UTC().UnixNano())
	}
	query += ` ORDER BY ts ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query samples %s/%s: %w", subject, metric, err)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var sm model.MetricSample
		var ts int64
		if err := rows.Scan(&sm.Subject, &sm.Metric, &sm.Value, &ts, &sm.OutOfOrder); err != nil {
			return nil, fmt.Errorf("storage: scan sample: %w", err)
		}
		sm.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, sm)
	}
	return out, rows.Err()
}

// ListMetrics implements storage.MetricStore, returning metric names in
// first-seen order.
func (s *Store) ListMetrics(ctx context.Context, subject string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric FROM series WHERE subject = ? ORDER BY rowid ASC`, subject)
	if err != nil {
		return nil, fmt.Errorf("storage: list metrics for %s: %w", subject, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("storage: scan metric name: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneSamples implements storage.MetricStore.
func (s *Store) PruneSamples(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metric_samples WHERE ts < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("storage: prune samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: prune samples affected rows: %w", err)
	}
	return n, nil
}
