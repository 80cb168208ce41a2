package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/strellerminds/pulse/internal/auth"
	"github.com/strellerminds/pulse/internal/ratelimit"
)

// Server is the diagnostics engine HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. JWTMgr, Keyring, and Limiter are nil-safe; nil disables the
// corresponding concern.
type ServerConfig struct {
	Handlers HandlersDeps

	JWTMgr  *auth.JWTManager
	Keyring *auth.Keyring
	Limiter ratelimit.Limiter

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Middlewares are applied outermost, before routing, in registration
	// order: the first entry sees every request first.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	cfg.Handlers.JWTMgr = cfg.JWTMgr
	cfg.Handlers.Keyring = cfg.Keyring
	h := NewHandlers(cfg.Handlers)

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Ingest routes are limited per client, auth routes per IP. Queries
	// share the ingest budget per client.
	ingestRL := ratelimit.Middleware(cfg.Limiter, "ingest", clientKeyFunc, reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, "query", clientKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, "auth", ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Metric ingestion and sessions.
	mux.Handle("POST /v1/metrics", ingestRL(http.HandlerFunc(h.HandleRecordMetrics)))
	mux.Handle("POST /v1/sessions", ingestRL(http.HandlerFunc(h.HandleStartSession)))
	mux.Handle("POST /v1/sessions/{session_id}/end", ingestRL(http.HandlerFunc(h.HandleEndSession)))

	// Trace lifecycle.
	mux.Handle("POST /v1/traces", ingestRL(http.HandlerFunc(h.HandleStartTrace)))
	mux.Handle("POST /v1/traces/{trace_id}/spans", ingestRL(http.HandlerFunc(h.HandleAddSpan)))
	mux.Handle("POST /v1/traces/{trace_id}/complete", ingestRL(http.HandlerFunc(h.HandleCompleteTrace)))
	mux.Handle("POST /v1/traces/{trace_id}/abort", ingestRL(http.HandlerFunc(h.HandleAbortTrace)))
	mux.Handle("GET /v1/traces/compare", queryRL(http.HandlerFunc(h.HandleCompareTraces)))
	mux.Handle("GET /v1/traces/{trace_id}/analysis", queryRL(http.HandlerFunc(h.HandleGetTraceAnalysis)))

	// Subject analytics.
	mux.Handle("GET /v1/subjects/{subject}/analysis", queryRL(http.HandlerFunc(h.HandleBehaviorAnalysis)))
	mux.Handle("GET /v1/subjects/{subject}/forecast", queryRL(http.HandlerFunc(h.HandleForecast)))
	mux.Handle("GET /v1/subjects/{subject}/degradation", queryRL(http.HandlerFunc(h.HandleDegradation)))
	mux.Handle("GET /v1/subjects/{subject}/anomalies", queryRL(http.HandlerFunc(h.HandleAnomalies)))
	mux.Handle("GET /v1/subjects/{subject}/utilization", queryRL(http.HandlerFunc(h.HandleUtilization)))
	mux.Handle("GET /v1/subjects/{subject}/recommendations", queryRL(http.HandlerFunc(h.HandleRecommendations)))

	// Benchmarks and regression.
	mux.Handle("POST /v1/benchmarks/{name}/run", queryRL(http.HandlerFunc(h.HandleRunBenchmark)))
	mux.Handle("GET /v1/benchmarks/{name}/compare", queryRL(http.HandlerFunc(h.HandleCompareBenchmark)))
	mux.Handle("POST /v1/regression/run", queryRL(http.HandlerFunc(h.HandleRunRegression)))
	mux.Handle("GET /v1/regression/report", queryRL(http.HandlerFunc(h.HandleRegressionReport)))

	// Alert stream (no rate limit, long-lived connection).
	mux.HandleFunc("GET /v1/alerts/stream", h.HandleAlertsStream)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Handlers.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Handlers.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Handlers.Logger,
	}
}

// clientKeyFunc extracts the authenticated client ID for rate limiting.
// Unauthenticated requests (auth disabled) are not limited per client.
func clientKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	return claims.ClientID
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
