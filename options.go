package pulse

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	backend         string
	logger          *slog.Logger
	version         string
	workloads       map[string]Workload
	scenarios       []Scenario
	alertHooks      []AlertHook
	middlewares     []Middleware
	alertThresholds map[string]float64
	ceilings        map[string]float64
}

// WithPort overrides the TCP port from config (PULSE_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithBackend overrides the store backend from config (PULSE_STORE_BACKEND
// env var): "memory", "sqlite", or "postgres".
func WithBackend(backend string) Option {
	return func(o *resolvedOptions) { o.backend = backend }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithWorkload registers a named benchmarkable workload. Benchmarks and
// regression scenarios refer to workloads by name; running an unregistered
// name is a not-found error. Registering the same name twice keeps the last.
func WithWorkload(name string, w Workload) Option {
	return func(o *resolvedOptions) {
		if o.workloads == nil {
			o.workloads = make(map[string]Workload)
		}
		o.workloads[name] = w
	}
}

// WithScenarios sets the regression scenarios re-run by the continuous
// monitor. Each scenario's Name must match a registered workload.
func WithScenarios(scenarios ...Scenario) Option {
	return func(o *resolvedOptions) { o.scenarios = append(o.scenarios, scenarios...) }
}

// WithAlertHook registers a hook to receive threshold alerts.
// Multiple hooks may be registered; all registered hooks receive every alert.
func WithAlertHook(hook AlertHook) Option {
	return func(o *resolvedOptions) { o.alertHooks = append(o.alertHooks, hook) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithAlertThreshold sets the value above which samples of a metric raise a
// threshold alert. Metrics without a threshold are never alerted on.
// Supplements the single PULSE_ALERT_METRIC/PULSE_ALERT_THRESHOLD env pair.
func WithAlertThreshold(metric string, threshold float64) Option {
	return func(o *resolvedOptions) {
		if o.alertThresholds == nil {
			o.alertThresholds = make(map[string]float64)
		}
		o.alertThresholds[metric] = threshold
	}
}

// WithCapacityCeiling sets the capacity ceiling used when forecasting a
// metric by name. Metrics without a ceiling cannot be forecast over HTTP.
func WithCapacityCeiling(metric string, ceiling float64) Option {
	return func(o *resolvedOptions) {
		if o.ceilings == nil {
			o.ceilings = make(map[string]float64)
		}
		o.ceilings[metric] = ceiling
	}
}
