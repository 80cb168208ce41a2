package pulse

import (
	"context"
	"net/http"
)

// Workload is a benchmarkable unit of work. Run is invoked once per
// benchmark iteration and may report per-iteration resource consumption
// keyed by dimension ("cpu", "memory", ...). A failed iteration returns an
// error; its latency still counts toward the run's percentiles.
type Workload interface {
	Run(ctx context.Context) (resources map[string]float64, err error)
}

// WorkloadFunc adapts a plain function to the Workload interface.
type WorkloadFunc func(ctx context.Context) (map[string]float64, error)

func (f WorkloadFunc) Run(ctx context.Context) (map[string]float64, error) { return f(ctx) }

// AlertHook receives threshold alerts as they are raised. Hooks run in
// goroutines and must not block indefinitely; failures are logged but never
// fail the originating ingestion. Multiple hooks may be registered via
// multiple WithAlertHook calls.
type AlertHook interface {
	OnAlert(ctx context.Context, alert Alert) error
}

// Middleware wraps the root HTTP handler. Applied outermost, before
// routing, so it sees all requests including /health. Multiple middlewares
// are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
