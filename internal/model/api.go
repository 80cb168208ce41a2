package model

import (
	"fmt"
	"time"
)

// Field length limits for ingested identifiers. These keep caller-controlled
// strings from bloating series keys and storage columns.
const (
	MaxSubjectLen   = 200
	MaxMetricLen    = 200
	MaxOperationLen = 500
)

// ValidateIdentifiers applies the shared length limits to a series key.
func ValidateIdentifiers(subject, metric string) error {
	if len(subject) > MaxSubjectLen {
		return fmt.Errorf("subject exceeds maximum length of %d characters: %w", MaxSubjectLen, ErrValidation)
	}
	if len(metric) > MaxMetricLen {
		return fmt.Errorf("metric name exceeds maximum length of %d characters: %w", MaxMetricLen, ErrValidation)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeInsufficientData = "INSUFFICIENT_DATA"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// SampleInput is one sample in a batch ingestion request.
type SampleInput struct {
	Metric    string     `json:"metric"`
	Value     float64    `json:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty"` // default: server time
}

// RecordMetricsRequest is the request body for POST /v1/metrics.
type RecordMetricsRequest struct {
	Subject string        `json:"subject"`
	Samples []SampleInput `json:"samples"`
}

// StartTraceRequest is the request body for POST /v1/traces.
type StartTraceRequest struct {
	Subject   string `json:"subject"`
	Operation string `json:"operation"`
}

// StartTraceResponse is the response for POST /v1/traces.
type StartTraceResponse struct {
	TraceID   string    `json:"trace_id"`
	StartedAt time.Time `json:"started_at"`
}

// TokenRequest is the request body for POST /auth/token.
type TokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// TokenResponse is the response for POST /auth/token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RecordMetricsResponse is the response for POST /v1/metrics. Accepted counts
// samples admitted to the buffer after sampling; alerts fire for every
// validated sample regardless of sampling.
type RecordMetricsResponse struct {
	Accepted int              `json:"accepted"`
	Alerts   []ThresholdAlert `json:"alerts,omitempty"`
}

// StartSessionRequest is the request body for POST /v1/sessions.
type StartSessionRequest struct {
	Subject string `json:"subject"`
}

// RunRegressionRequest is the request body for POST /v1/regression/run.
type RunRegressionRequest struct {
	Scenarios []RegressionScenario `json:"scenarios"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Store         string `json:"store"`
	BufferDepth   int    `json:"buffer_depth"`
	ActiveTraces  int    `json:"active_traces"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
