// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MetadataNone is the FEEDBACK_METADATA value that disables metric collection entirely.
const MetadataNone = "none"

// Config holds application configuration loaded from the environment.
// The collector, the worker, and the bridge share it; each validates the subset it needs.
type Config struct {
	// HTTPAddr is the address the collector HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN used by the collector and cmd/migrate.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTSignature is the HMAC secret the collector signs and validates feedback credentials with.
	JWTSignature string `mapstructure:"JWT_SIGNATURE"`
	// FeedbackTokenTTL is the lifetime of issued feedback credentials (e.g. "12h").
	FeedbackTokenTTL string `mapstructure:"FEEDBACK_TOKEN_TTL"`
	// OIDCValidationURL is the user-verification endpoint that validates Matrix OpenID tokens.
	OIDCValidationURL string `mapstructure:"OIDC_VALIDATION_URL"`
	// UVSAuthToken is the bearer token the collector presents to the user-verification service.
	UVSAuthToken string `mapstructure:"UVS_AUTH_TOKEN"`
	// MatrixServerName is sent as matrix_server_name in validation requests (e.g. "matrix.example.org").
	MatrixServerName string `mapstructure:"MATRIX_SERVER_NAME"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the OTLP endpoint even for https URLs.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, the collector publishes feedback events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for feedback telemetry events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// Bridge-only settings, mirroring the conferencing client's config.
	// FeedbackBackend is the collector base URL (e.g. https://feedback.example.org).
	FeedbackBackend string `mapstructure:"FEEDBACK_BACKEND"`
	// FeedbackMetadata is the comma-separated ordered list of metric ids to collect.
	// Empty selects the default list; "none" collects nothing.
	FeedbackMetadata string `mapstructure:"FEEDBACK_METADATA"`
	// RequestTimeout bounds each token exchange and feedback submission (e.g. "15s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
	// Deployment descriptor exposed to metric accessors.
	DeploymentRegion         string `mapstructure:"DEPLOYMENT_REGION"`
	DeploymentShard          string `mapstructure:"DEPLOYMENT_SHARD"`
	DeploymentEnvironment    string `mapstructure:"DEPLOYMENT_ENVIRONMENT"`
	DeploymentEnvType        string `mapstructure:"DEPLOYMENT_ENV_TYPE"`
	DeploymentBackendRelease string `mapstructure:"DEPLOYMENT_BACKEND_RELEASE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SIGNATURE", "")
	v.SetDefault("FEEDBACK_TOKEN_TTL", "12h")
	v.SetDefault("OIDC_VALIDATION_URL", "")
	v.SetDefault("UVS_AUTH_TOKEN", "")
	v.SetDefault("MATRIX_SERVER_NAME", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "feedback-telemetry")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "feedback-telemetry-worker")
	v.SetDefault("FEEDBACK_BACKEND", "")
	v.SetDefault("FEEDBACK_METADATA", "")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("DEPLOYMENT_REGION", "")
	v.SetDefault("DEPLOYMENT_SHARD", "")
	v.SetDefault("DEPLOYMENT_ENVIRONMENT", "")
	v.SetDefault("DEPLOYMENT_ENV_TYPE", "")
	v.SetDefault("DEPLOYMENT_BACKEND_RELEASE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return nil, errors.New("config: LOG_LEVEL must be one of debug, info, warn, error")
	}

	return &cfg, nil
}

// ValidateCollector reports the first collector setting that is missing.
// The collector cannot issue or verify credentials without all of them.
func (c *Config) ValidateCollector() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("config: DATABASE_URL must be set")
	case c.JWTSignature == "":
		return errors.New("config: JWT_SIGNATURE must be set")
	case c.OIDCValidationURL == "":
		return errors.New("config: OIDC_VALIDATION_URL must be set")
	case c.MatrixServerName == "":
		return errors.New("config: MATRIX_SERVER_NAME must be set")
	}
	if c.Env == "production" && len(c.JWTSignature) < 32 {
		return errors.New("config: JWT_SIGNATURE must be at least 32 bytes when APP_ENV=production")
	}
	return nil
}

// ValidateBridge reports whether the bridge can reach a collector.
func (c *Config) ValidateBridge() error {
	if c.FeedbackBackend == "" {
		return errors.New("config: FEEDBACK_BACKEND must be set")
	}
	return nil
}

// TokenTTL parses FeedbackTokenTTL as a time.Duration. Returns 12h if unset or invalid.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.FeedbackTokenTTL)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

// Timeout parses RequestTimeout as a time.Duration. Returns 15s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// MetadataList returns the configured metric ids in order.
// nil means "use the default list"; an empty non-nil slice means "collect nothing".
func (c *Config) MetadataList() []string {
	if c == nil {
		return nil
	}
	raw := strings.TrimSpace(c.FeedbackMetadata)
	if raw == "" {
		return nil
	}
	if strings.EqualFold(raw, MetadataNone) {
		return []string{}
	}
	return splitList(raw)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

// SlogLevel maps LogLevel to a slog.Level; unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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

// NewLogger returns a JSON logger writing to w at LogLevel, tagged with service.
func (c *Config) NewLogger(w io.Writer, service string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.SlogLevel()})
	return slog.New(h).With("service", service)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
