// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Storage settings. Backend selects the store implementation:
	// "memory", "sqlite", or "postgres".
	Backend     string
	DatabaseURL string // Postgres DSN, used when Backend is "postgres".
	SQLitePath  string // File path, used when Backend is "sqlite".

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// API key credentials: "client1=argonHash;client2=argonHash". Empty
	// disables the token endpoint and all authenticated routes accept
	// requests without a bearer token (development mode).
	APIKeys string

	// Ingestion settings.
	SamplingRate   float64
	BufferSize     int
	FlushInterval  time.Duration
	RetentionDays  int
	AlertThreshold float64 // Default threshold applied to PULSE_ALERT_METRIC.
	AlertMetric    string

	// Analytics settings.
	AnomalyKFactor          float64
	MinBaselineSamples      int
	RegressionSoftThreshold float64
	RegressionHardThreshold float64
	CheckInterval           time.Duration

	// Rate limiting. RPS is per key (client ID, or IP on auth routes).
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	var cfg Config
	var errs []error

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.Port, err = envInt("PULSE_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("PULSE_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("PULSE_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	maxBody, err := envInt("PULSE_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)

	cfg.Backend = envStr("PULSE_STORE_BACKEND", "memory")
	cfg.DatabaseURL = envStr("DATABASE_URL", "")
	cfg.SQLitePath = envStr("PULSE_SQLITE_PATH", "pulse.db")

	cfg.JWTPrivateKeyPath = envStr("PULSE_JWT_PRIVATE_KEY", "")
	cfg.JWTPublicKeyPath = envStr("PULSE_JWT_PUBLIC_KEY", "")
	cfg.JWTExpiration, err = envDuration("PULSE_JWT_EXPIRATION", 24*time.Hour)
	collect(err)
	cfg.APIKeys = envStr("PULSE_API_KEYS", "")

	cfg.SamplingRate, err = envFloat("PULSE_SAMPLING_RATE", 1.0)
	collect(err)
	cfg.BufferSize, err = envInt("PULSE_BUFFER_SIZE", 500)
	collect(err)
	cfg.FlushInterval, err = envDuration("PULSE_FLUSH_INTERVAL", 2*time.Second)
	collect(err)
	cfg.RetentionDays, err = envInt("PULSE_RETENTION_DAYS", 7)
	collect(err)
	cfg.AlertThreshold, err = envFloat("PULSE_ALERT_THRESHOLD", 0)
	collect(err)
	cfg.AlertMetric = envStr("PULSE_ALERT_METRIC", "")

	cfg.AnomalyKFactor, err = envFloat("PULSE_ANOMALY_K_FACTOR", 3.0)
	collect(err)
	cfg.MinBaselineSamples, err = envInt("PULSE_MIN_BASELINE_SAMPLES", 10)
	collect(err)
	cfg.RegressionSoftThreshold, err = envFloat("PULSE_REGRESSION_SOFT_THRESHOLD", 10)
	collect(err)
	cfg.RegressionHardThreshold, err = envFloat("PULSE_REGRESSION_HARD_THRESHOLD", 25)
	collect(err)
	cfg.CheckInterval, err = envDuration("PULSE_CHECK_INTERVAL", time.Hour)
	collect(err)

	cfg.RateLimitEnabled, err = envBool("PULSE_RATE_LIMIT_ENABLED", false)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("PULSE_RATE_LIMIT_RPS", 50)
	collect(err)
	cfg.RateLimitBurst, err = envInt("PULSE_RATE_LIMIT_BURST", 100)
	collect(err)

	cfg.OTELEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.ServiceName = envStr("OTEL_SERVICE_NAME", "pulse")
	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)

	cfg.LogLevel = envStr("PULSE_LOG_LEVEL", "info")

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errs[0])
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: PULSE_STORE_BACKEND must be memory, sqlite, or postgres, got %q", c.Backend)
	}
	if c.Backend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required when PULSE_STORE_BACKEND is postgres")
	}
	if c.SamplingRate <= 0 || c.SamplingRate > 1 {
		return fmt.Errorf("config: PULSE_SAMPLING_RATE must be in (0, 1], got %g", c.SamplingRate)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("config: PULSE_BUFFER_SIZE must be positive")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("config: PULSE_RETENTION_DAYS must be positive")
	}
	if c.AnomalyKFactor <= 0 {
		return fmt.Errorf("config: PULSE_ANOMALY_K_FACTOR must be positive")
	}
	if c.MinBaselineSamples < 2 {
		return fmt.Errorf("config: PULSE_MIN_BASELINE_SAMPLES must be at least 2")
	}
	if c.RegressionHardThreshold <= c.RegressionSoftThreshold {
		return fmt.Errorf("config: PULSE_REGRESSION_HARD_THRESHOLD must exceed the soft threshold")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: PULSE_RATE_LIMIT_RPS and PULSE_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: PULSE_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
