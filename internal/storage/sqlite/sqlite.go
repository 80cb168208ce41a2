// Package sqlite implements storage.Store on a single-file SQLite database
// via modernc.org/sqlite. It serves single-node deployments that want
// durability without running Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed repository. Timestamps are stored as unix
// nanoseconds so range scans stay index-only.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the database file and applies the schema.
func New(path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent flushes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("sqlite store ready", "path", path)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS metric_samples (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    subject      TEXT NOT NULL,
    metric       TEXT NOT NULL,
    value        REAL NOT NULL,
    ts           INTEGER NOT NULL,
    out_of_order INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_metric_samples_series ON metric_samples (subject, metric, ts);
CREATE INDEX IF NOT EXISTS idx_metric_samples_ts ON metric_samples (ts);

CREATE TABLE IF NOT EXISTS series (
    subject TEXT NOT NULL,
    metric  TEXT NOT NULL,
    PRIMARY KEY (subject, metric)
);

CREATE TABLE IF NOT EXISTS trace_analyses (
    trace_id     TEXT PRIMARY KEY,
    subject      TEXT NOT NULL,
    status       TEXT NOT NULL,
    trace        TEXT NOT NULL,
    analysis     TEXT NOT NULL,
    completed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trace_analyses_subject ON trace_analyses (subject, completed_at DESC);

CREATE TABLE IF NOT EXISTS benchmark_results (
    id             TEXT PRIMARY KEY,
    benchmark_name TEXT NOT NULL,
    result         TEXT NOT NULL,
    recorded_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_benchmark_results_name ON benchmark_results (benchmark_name, recorded_at DESC);

CREATE TABLE IF NOT EXISTS anomalies (
    id          TEXT PRIMARY KEY,
    subject     TEXT NOT NULL,
    record      TEXT NOT NULL,
    detected_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomalies_subject ON anomalies (subject, detected_at);

CREATE TABLE IF NOT EXISTS regression_verdicts (
    id          TEXT PRIMARY KEY,
    test_name   TEXT NOT NULL,
    verdict     TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_regression_verdicts_recorded ON regression_verdicts (recorded_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: apply sqlite schema: %w", err)
	}
	return nil
}

// Ping checks connectivity to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database file.
func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}
