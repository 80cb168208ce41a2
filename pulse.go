// Package pulse is the public API for embedding the Pulse diagnostics and
// performance-analytics server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := pulse.New(
//	    pulse.WithVersion(version),
//	    pulse.WithLogger(logger),
//	    pulse.WithWorkload("checkout", myWorkload),
//	    pulse.WithScenarios(pulse.Scenario{Name: "checkout", Iterations: 200}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: pulse (root) imports
// internal/*, but internal/* never imports pulse (root). Public types
// (Alert, Scenario) are standalone structs with no internal imports;
// conversion helpers live here because this is the only file that sees both
// sides of the boundary.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/strellerminds/pulse/internal/auth"
	"github.com/strellerminds/pulse/internal/config"
	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/ratelimit"
	"github.com/strellerminds/pulse/internal/server"
	"github.com/strellerminds/pulse/internal/service/anomaly"
	"github.com/strellerminds/pulse/internal/service/behavior"
	"github.com/strellerminds/pulse/internal/service/bench"
	"github.com/strellerminds/pulse/internal/service/forecast"
	"github.com/strellerminds/pulse/internal/service/monitor"
	"github.com/strellerminds/pulse/internal/service/optimizer"
	"github.com/strellerminds/pulse/internal/service/regression"
	"github.com/strellerminds/pulse/internal/service/tracer"
	"github.com/strellerminds/pulse/internal/storage"
	"github.com/strellerminds/pulse/internal/storage/postgres"
	"github.com/strellerminds/pulse/internal/storage/sqlite"
	"github.com/strellerminds/pulse/internal/telemetry"
	"github.com/strellerminds/pulse/migrations"
)

// defaultScenarioIterations applies when a Scenario leaves Iterations zero.
const defaultScenarioIterations = 100

// App is the Pulse server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	srv          *server.Server
	mon          *monitor.Recorder
	trc          *tracer.Tracer
	reg          *regression.Tester
	broker       *server.Broker
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Pulse server. It opens the configured store, runs
// migrations where the backend has them, wires all subsystems, and returns
// a ready-to-run App. It does NOT start any goroutines or accept HTTP
// connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.backend != "" {
		cfg.Backend = o.backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("pulse starting", "version", version, "port", cfg.Port, "backend", cfg.Backend)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Empty PULSE_API_KEYS leaves auth disabled (development mode).
	var jwtMgr *auth.JWTManager
	var keyring *auth.Keyring
	if cfg.APIKeys != "" {
		keyring, err = auth.ParseKeyring(cfg.APIKeys)
		if err != nil {
			return fail(fmt.Errorf("auth: %w", err))
		}
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			return fail(fmt.Errorf("auth: %w", err))
		}
	} else {
		logger.Warn("auth: disabled (PULSE_API_KEYS is empty)")
	}

	broker := server.NewBroker(logger)

	// Threshold alerts fan out to the SSE stream and any registered hooks.
	alertFn := func(alert model.ThresholdAlert) {
		broker.Publish(alert)
		if len(o.alertHooks) == 0 {
			return
		}
		public := toPublicAlert(alert)
		hooks := o.alertHooks
		go func() {
			hookCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, h := range hooks {
				if err := h.OnAlert(hookCtx, public); err != nil {
					logger.Warn("alert hook failed", "error", err, "metric", public.Metric)
				}
			}
		}()
	}

	thresholds := make(map[string]float64)
	if cfg.AlertMetric != "" {
		thresholds[cfg.AlertMetric] = cfg.AlertThreshold
	}
	for metric, v := range o.alertThresholds {
		thresholds[metric] = v
	}

	monCfg := monitor.DefaultConfig()
	monCfg.SamplingRate = cfg.SamplingRate
	monCfg.AlertThresholds = thresholds
	monCfg.BufferSize = cfg.BufferSize
	monCfg.FlushInterval = cfg.FlushInterval
	monCfg.RetentionPeriod = time.Duration(cfg.RetentionDays) * 24 * time.Hour
	mon, err := monitor.New(store, logger, monCfg, alertFn)
	if err != nil {
		return fail(fmt.Errorf("monitor: %w", err))
	}

	anomalyCfg := anomaly.DefaultConfig()
	anomalyCfg.KDefault = cfg.AnomalyKFactor
	anomalyCfg.MinBaselineSamples = cfg.MinBaselineSamples
	det, err := anomaly.New(store, logger, anomalyCfg)
	if err != nil {
		return fail(fmt.Errorf("anomaly: %w", err))
	}

	forecastCfg := forecast.DefaultConfig()
	forecastCfg.Ceilings = o.ceilings
	fc, err := forecast.New(store, logger, forecastCfg)
	if err != nil {
		return fail(fmt.Errorf("forecast: %w", err))
	}

	beh, err := behavior.New(store, logger, behavior.DefaultConfig())
	if err != nil {
		return fail(fmt.Errorf("behavior: %w", err))
	}

	trc, err := tracer.New(store, logger, tracer.DefaultConfig())
	if err != nil {
		return fail(fmt.Errorf("tracer: %w", err))
	}

	runner, err := bench.New(store, logger, bench.DefaultConfig())
	if err != nil {
		return fail(fmt.Errorf("bench: %w", err))
	}
	for name, w := range o.workloads {
		if err := runner.Register(name, workloadAdapter{w: w}); err != nil {
			return fail(fmt.Errorf("workload %q: %w", name, err))
		}
	}

	opt, err := optimizer.New(store, logger, optimizer.DefaultConfig())
	if err != nil {
		return fail(fmt.Errorf("optimizer: %w", err))
	}

	regCfg := regression.DefaultConfig()
	regCfg.SoftThresholdPercent = cfg.RegressionSoftThreshold
	regCfg.HardThresholdPercent = cfg.RegressionHardThreshold
	regCfg.CheckInterval = cfg.CheckInterval
	reg, err := regression.New(store, runner, logger, regCfg)
	if err != nil {
		return fail(fmt.Errorf("regression: %w", err))
	}
	if len(o.scenarios) > 0 {
		if err := reg.SetScenarios(toScenarios(o.scenarios)); err != nil {
			return fail(fmt.Errorf("scenarios: %w", err))
		}
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}

	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, (func(http.Handler) http.Handler)(mw))
	}

	srv := server.New(server.ServerConfig{
		Handlers: server.HandlersDeps{
			Store:               store,
			Monitor:             mon,
			Anomaly:             det,
			Forecast:            fc,
			Behavior:            beh,
			Tracer:              trc,
			Bench:               runner,
			Optimizer:           opt,
			Regression:          reg,
			Broker:              broker,
			Logger:              logger,
			Version:             version,
			StoreName:           cfg.Backend,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		},
		JWTMgr:       jwtMgr,
		Keyring:      keyring,
		Limiter:      limiter,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Middlewares:  middlewares,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		mon:          mon,
		trc:          trc,
		reg:          reg,
		broker:       broker,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the ingestion pipeline, the background loops, and the HTTP
// server, then blocks until ctx is cancelled or a fatal error occurs. On
// return the app has been shut down — callers do not shut down separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.mon.Start(gctx)

	g.Go(func() error { return dropCancel(a.mon.RunRetention(gctx)) })
	g.Go(func() error { return dropCancel(a.trc.RunTimeouts(gctx)) })
	g.Go(func() error { return dropCancel(a.reg.RunContinuous(gctx)) })
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if err := a.close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// close drains the ingestion buffer, then releases the store and telemetry.
func (a *App) close() error {
	a.logger.Info("pulse shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.mon.Drain(drainCtx)

	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	_ = a.otelShutdown(context.Background())
	if err := a.store.Close(context.Background()); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	a.logger.Info("pulse stopped")
	return nil
}

// Handler exposes the root HTTP handler for embedding into a larger mux or
// for tests. The handler is fully wired, including middleware.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "postgres":
		store, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := store.RunMigrations(ctx, migrations.FS); err != nil {
			_ = store.Close(ctx)
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return store, nil
	default:
		return storage.NewMemory(0), nil
	}
}

func dropCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ── Adapters and converters (defined here because this file imports both sides) ─

// workloadAdapter wraps a public Workload to satisfy bench.Workload.
type workloadAdapter struct {
	w Workload
}

func (a workloadAdapter) Run(ctx context.Context) (map[string]float64, error) {
	return a.w.Run(ctx)
}

// toPublicAlert converts an internal threshold alert to the public Alert.
func toPublicAlert(alert model.ThresholdAlert) Alert {
	return Alert{
		Subject:   alert.Subject,
		Metric:    alert.Metric,
		Value:     alert.Value,
		Threshold: alert.Threshold,
		Severity:  string(alert.Severity),
		RaisedAt:  alert.RaisedAt,
	}
}

func toScenarios(scenarios []Scenario) []model.RegressionScenario {
	out := make([]model.RegressionScenario, len(scenarios))
	for i, s := range scenarios {
		iterations := s.Iterations
		if iterations == 0 {
			iterations = defaultScenarioIterations
		}
		out[i] = model.RegressionScenario{
			Name: s.Name,
			Benchmark: model.BenchmarkConfig{
				Iterations: iterations,
				Timeout:    s.Timeout,
			},
			CriticalMetrics: s.CriticalMetrics,
		}
	}
	return out
}
