package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/auth"
	"github.com/strellerminds/pulse/internal/model"
	"github.com/strellerminds/pulse/internal/service/anomaly"
	"github.com/strellerminds/pulse/internal/service/behavior"
	"github.com/strellerminds/pulse/internal/service/bench"
	"github.com/strellerminds/pulse/internal/service/forecast"
	"github.com/strellerminds/pulse/internal/service/monitor"
	"github.com/strellerminds/pulse/internal/service/optimizer"
	"github.com/strellerminds/pulse/internal/service/regression"
	"github.com/strellerminds/pulse/internal/service/tracer"
	"github.com/strellerminds/pulse/internal/storage"
)

// defaultQueryWindow bounds subject analytics queries when the caller does
// not pass from/to parameters.
const defaultQueryWindow = 24 * time.Hour

// Handlers holds HTTP handlers and their dependencies.
type Handlers struct {
	store      storage.Store
	monitor    *monitor.Recorder
	anomaly    *anomaly.Detector
	forecast   *forecast.Engine
	behavior   *behavior.Analyzer
	tracer     *tracer.Tracer
	bench      *bench.Runner
	optimizer  *optimizer.Optimizer
	regression *regression.Tester

	broker  *Broker
	jwtMgr  *auth.JWTManager
	keyring *auth.Keyring
	logger  *slog.Logger

	version   string
	storeName string
	maxBody   int64
	startedAt time.Time
}

// HandlersDeps holds the dependencies for creating Handlers.
type HandlersDeps struct {
	Store      storage.Store
	Monitor    *monitor.Recorder
	Anomaly    *anomaly.Detector
	Forecast   *forecast.Engine
	Behavior   *behavior.Analyzer
	Tracer     *tracer.Tracer
	Bench      *bench.Runner
	Optimizer  *optimizer.Optimizer
	Regression *regression.Tester

	Broker  *Broker
	JWTMgr  *auth.JWTManager
	Keyring *auth.Keyring
	Logger  *slog.Logger

	Version             string
	StoreName           string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:      deps.Store,
		monitor:    deps.Monitor,
		anomaly:    deps.Anomaly,
		forecast:   deps.Forecast,
		behavior:   deps.Behavior,
		tracer:     deps.Tracer,
		bench:      deps.Bench,
		optimizer:  deps.Optimizer,
		regression: deps.Regression,
		broker:     deps.Broker,
		jwtMgr:     deps.JWTMgr,
		keyring:    deps.Keyring,
		logger:     deps.Logger,
		version:    deps.Version,
		storeName:  deps.StoreName,
		maxBody:    deps.MaxRequestBodyBytes,
		startedAt:  time.Now(),
	}
}

// decode limits the body size and decodes JSON into target.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	if err := decodeJSON(r, target); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return false
	}
	return true
}

// HandleAuthToken exchanges API-key credentials for a JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil || h.keyring == nil || h.keyring.Empty() {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "token endpoint disabled")
		return
	}

	var req model.TokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ClientID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "client_id and api_key are required")
		return
	}

	if !h.keyring.Verify(req.ClientID, req.APIKey) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.ClientID)
	if err != nil {
		h.logger.Error("issue token", "error", err, "client_id", req.ClientID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, model.TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleRecordMetrics ingests a batch of metric samples.
func (h *Handlers) HandleRecordMetrics(w http.ResponseWriter, r *http.Request) {
	var req model.RecordMetricsRequest
	if !h.decode(w, r, &req) {
		return
	}

	accepted, alerts, err := h.monitor.Record(r.Context(), req.Subject, req.Samples)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, model.RecordMetricsResponse{Accepted: accepted, Alerts: alerts})
}

// HandleStartTrace opens a new trace.
func (h *Handlers) HandleStartTrace(w http.ResponseWriter, r *http.Request) {
	var req model.StartTraceRequest
	if !h.decode(w, r, &req) {
		return
	}

	tr, err := h.tracer.StartTrace(r.Context(), req.Subject, req.Operation)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.StartTraceResponse{
		TraceID:   tr.TraceID.String(),
		StartedAt: tr.StartedAt,
	})
}

// HandleAddSpan appends a span to an active trace.
func (h *Handlers) HandleAddSpan(w http.ResponseWriter, r *http.Request) {
	traceID, ok := h.pathUUID(w, r, "trace_id")
	if !ok {
		return
	}

	var in model.SpanInput
	if !h.decode(w, r, &in) {
		return
	}

	span, err := h.tracer.AddSpan(r.Context(), traceID, in)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, span)
}

// HandleCompleteTrace seals a trace and returns its analysis.
func (h *Handlers) HandleCompleteTrace(w http.ResponseWriter, r *http.Request) {
	traceID, ok := h.pathUUID(w, r, "trace_id")
	if !ok {
		return
	}

	analysis, err := h.tracer.Complete(r.Context(), traceID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, analysis)
}

// HandleAbortTrace seals a trace as aborted and returns the partial analysis.
func (h *Handlers) HandleAbortTrace(w http.ResponseWriter, r *http.Request) {
	traceID, ok := h.pathUUID(w, r, "trace_id")
	if !ok {
		return
	}

	analysis, err := h.tracer.Abort(r.Context(), traceID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, analysis)
}

// HandleGetTraceAnalysis returns the stored analysis of a sealed trace.
func (h *Handlers) HandleGetTraceAnalysis(w http.ResponseWriter, r *http.Request) {
	traceID, ok := h.pathUUID(w, r, "trace_id")
	if !ok {
		return
	}

	analysis, err := h.tracer.GetAnalysis(r.Context(), traceID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, analysis)
}

// HandleCompareTraces compares two sealed traces by ID.
func (h *Handlers) HandleCompareTraces(w http.ResponseWriter, r *http.Request) {
	baselineID, err := uuid.Parse(r.URL.Query().Get("baseline"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "baseline must be a valid trace UUID")
		return
	}
	candidateID, err := uuid.Parse(r.URL.Query().Get("candidate"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "candidate must be a valid trace UUID")
		return
	}

	cmp, err := h.tracer.CompareTraces(r.Context(), baselineID, candidateID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cmp)
}

// HandleBehaviorAnalysis runs behavior analysis for a subject over a window.
func (h *Handlers) HandleBehaviorAnalysis(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	window, ok := h.queryWindow(w, r)
	if !ok {
		return
	}

	report, err := h.behavior.Analyze(r.Context(), subject, window)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleForecast returns the capacity forecast for one metric of a subject.
func (h *Handlers) HandleForecast(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "metric query parameter is required")
		return
	}

	fc, err := h.forecast.Forecast(r.Context(), subject, metric)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, fc)
}

// HandleDegradation returns slope-based degradation risks per metric.
func (h *Handlers) HandleDegradation(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")

	risks, err := h.forecast.DegradationRisks(r.Context(), subject)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, risks)
}

// HandleAnomalies runs anomaly detection for a subject over a window.
func (h *Handlers) HandleAnomalies(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	window, ok := h.queryWindow(w, r)
	if !ok {
		return
	}

	records, err := h.anomaly.DetectWindow(r.Context(), subject, window)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, records)
}

// HandleUtilization returns the resource utilization report for a subject.
func (h *Handlers) HandleUtilization(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")

	report, err := h.optimizer.AnalyzeUtilization(r.Context(), subject)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleRecommendations returns optimization recommendations for a subject.
func (h *Handlers) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")

	recs, err := h.optimizer.GenerateRecommendations(r.Context(), subject)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// HandleRunBenchmark executes a registered benchmark workload.
func (h *Handlers) HandleRunBenchmark(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var cfg model.BenchmarkConfig
	if r.ContentLength > 0 {
		if !h.decode(w, r, &cfg) {
			return
		}
	}

	result, err := h.bench.Run(r.Context(), name, cfg)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleCompareBenchmark compares the latest run of a benchmark against its
// predecessor.
func (h *Handlers) HandleCompareBenchmark(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	latest, err := h.store.LatestBenchmarkResult(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("benchmark %q has no recorded runs: %w", name, model.ErrNotFound)
		}
		writeEngineError(w, r, err)
		return
	}

	report, err := h.bench.CompareWithHistorical(r.Context(), &latest)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleRunRegression runs a batch of regression scenarios.
func (h *Handlers) HandleRunRegression(w http.ResponseWriter, r *http.Request) {
	var req model.RunRegressionRequest
	if !h.decode(w, r, &req) {
		return
	}

	verdicts, err := h.regression.RunRegressionTests(r.Context(), req.Scenarios)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, verdicts)
}

// HandleRegressionReport aggregates stored verdicts over a window.
func (h *Handlers) HandleRegressionReport(w http.ResponseWriter, r *http.Request) {
	window, ok := h.queryWindow(w, r)
	if !ok {
		return
	}

	report, err := h.regression.GenerateRegressionReport(r.Context(), window)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleStartSession opens a monitoring session for a subject.
func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req model.StartSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.monitor.StartSession(req.Subject)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, session)
}

// HandleEndSession closes a monitoring session and returns its counts.
func (h *Handlers) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.monitor.EndSession(r.PathValue("session_id"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, session)
}

// HandleAlertsStream streams threshold alerts as Server-Sent Events until
// the client disconnects.
func (h *Handlers) HandleAlertsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Tell the client the stream is live before the first alert arrives.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth reports process health and engine gauges.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:        "ok",
		Version:       h.version,
		Store:         h.storeName,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.monitor != nil {
		resp.BufferDepth = h.monitor.BufferDepth()
	}
	if h.tracer != nil {
		resp.ActiveTraces = h.tracer.ActiveCount()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// pathUUID parses a UUID path parameter, writing a 400 on failure.
func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// queryWindow parses optional from/to RFC 3339 query parameters. Defaults to
// the last 24 hours ending now.
func (h *Handlers) queryWindow(w http.ResponseWriter, r *http.Request) (model.Window, bool) {
	now := time.Now().UTC()
	window := model.Window{Start: now.Add(-defaultQueryWindow), End: now}

	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "from must be RFC 3339")
			return model.Window{}, false
		}
		window.Start = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "to must be RFC 3339")
			return model.Window{}, false
		}
		window.End = t
	}
	if !window.End.After(window.Start) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "window end must be after start")
		return model.Window{}, false
	}
	return window, true
}
