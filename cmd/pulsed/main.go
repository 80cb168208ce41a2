// Command pulsed runs the Pulse diagnostics and performance-analytics
// server. All wiring lives in the root pulse package; this binary parses
// the log level, installs signal handling, and registers the default echo
// workload so benchmarks work out of the box.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strellerminds/pulse"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	app, err := pulse.New(
		pulse.WithVersion(version),
		pulse.WithLogger(logger),
		// Echo workload: a do-nothing baseline so `/v1/benchmarks/echo/run`
		// measures pure engine overhead. Real deployments register their
		// own workloads by embedding the pulse package.
		pulse.WithWorkload("echo", pulse.WorkloadFunc(echoWorkload)),
	)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func echoWorkload(ctx context.Context) (map[string]float64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
		return nil, nil
	}
}

func logLevel() slog.Level {
	switch os.Getenv("PULSE_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
