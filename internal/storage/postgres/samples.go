package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/strellerminds/pulse/internal/model"
)

// AppendSamples implements storage.MetricStore. The batch goes in via COPY;
// the per-series registry rows keep ListMetrics in first-seen order.
func (s *Store) AppendSamples(ctx context.Context, samples []model.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Register unseen series first. ON CONFLICT keeps the original
	// first-seen sequence number.
	seen := make(map[model.SeriesKey]struct{}, len(samples))
	for _, sm := range samples {
		key := model.SeriesKey{Subject: sm.Subject, Metric: sm.Metric}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if _, err := tx.Exec(ctx,
			`INSERT INTO series (subject, metric) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			sm.Subject, sm.Metric,
		); err != nil {
			return fmt.Errorf("storage: register series %s/%s: %w", sm.Subject, sm.Metric, err)
		}
	}

	columns := []string{"subject", "metric", "value", "ts", "out_of_order"}
	rows := make([][]any, len(samples))
	for i, sm := range samples {
		rows[i] = []any{sm.Subject, sm.Metric, sm.Value, sm.Timestamp.UTC(), sm.OutOfOrder}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"metric_samples"}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("storage: copy samples: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit append tx: %w", err)
	}
	return nil
}

// QuerySamples implements storage.MetricStore. The window end is exclusive;
// a zero end means until now.
func (s *Store) QuerySamples(ctx context.Context, subject, metric string, w model.Window) ([]model.MetricSample, error) {
	var end *time.Time
	if !w.End.IsZero() {
		e := w.End.UTC()
		end = &e
	}

	rows, err := s.pool.Query(ctx,
		`SELECT subject, metric, value, ts, out_of_order
		 FROM metric_samples
		 WHERE subject = $1 AND metric = $2 AND ts >= $3 AND ($4::timestamptz IS NULL OR ts < $4)
		 ORDER BY ts ASC, id ASC`,
		subject, metric, w.Start.UTC(), end,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query samples %s/%s: %w", subject, metric, err)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var sm model.MetricSample
		if err := rows.Scan(&sm.Subject, &sm.Metric, &sm.Value, &sm.Timestamp, &sm.OutOfOrder); err != nil {
			return nil, fmt.Errorf("storage: scan sample: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// ListMetrics implements storage.MetricStore, returning metric names in
// first-seen order.
func (s *Store) ListMetrics(ctx context.Context, subject string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT metric FROM series WHERE subject = $1 ORDER BY first_seen ASC`,
		subject,
	)
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
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM metric_samples WHERE ts < $1`, before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune samples: %w", err)
	}
	return tag.RowsAffected(), nil
}
