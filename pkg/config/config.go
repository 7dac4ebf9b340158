// Package config loads application configuration from environment
// variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/kbai/pkg/observability"
	"github.com/platinummonkey/kbai/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth configuration
	Auth AuthConfig

	// Providers for embeddings, completions, and web search
	Providers ProviderConfig

	// Trace ring configuration
	Trace TraceConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
}

// AuthConfig holds authentication settings. Either the signing key or
// the API key must be set; both may be.
type AuthConfig struct {
	SigningKey string
	APIKey     string
	TokenTTL   time.Duration
	// SessionDB is the SQLite path for issued token sessions. Empty
	// keeps sessions in memory.
	SessionDB string
}

// ProviderConfig holds endpoints for the optional model providers. Any
// empty URL disables that provider.
type ProviderConfig struct {
	EmbedderURL    string
	EmbedderModel  string
	CompleterURL   string
	CompleterModel string
	CompleterKey   string
	SearxURL       string
}

// TraceConfig holds trace ring settings
type TraceConfig struct {
	MaxRecords int
	MaxAge     time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Providers:     loadProviderConfig(),
		Trace:         loadTraceConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("KBAI_HOST", "0.0.0.0"),
		Port:            getEnv("KBAI_PORT", "8080"),
		ReadTimeout:     getEnvDuration("KBAI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("KBAI_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("KBAI_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("KBAI_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("KBAI_MAX_BODY_BYTES", 32<<20),
		CORSOrigins:     splitList(getEnv("KBAI_CORS_ORIGINS", "*")),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("KBAI_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}
	if dataDir := getEnv("KBAI_DATA_DIR", ""); dataDir != "" {
		cfg.FilesystemRoot = dataDir
	}

	if s3Endpoint := getEnv("KBAI_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("KBAI_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("KBAI_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3Prefix := getEnv("KBAI_S3_PREFIX", ""); s3Prefix != "" {
		cfg.S3Prefix = s3Prefix
	}
	if s3AccessKey := getEnv("KBAI_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("KBAI_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("KBAI_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}
	if timeout := getEnvDuration("KBAI_S3_TIMEOUT", 0); timeout > 0 {
		cfg.S3Timeout = timeout
	}

	return cfg
}

// loadAuthConfig loads authentication configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SigningKey: getEnv("KBAI_SIGNING_KEY", ""),
		APIKey:     getEnv("KBAI_API_KEY", ""),
		TokenTTL:   getEnvDuration("KBAI_TOKEN_TTL", time.Hour),
		SessionDB:  getEnv("KBAI_SESSION_DB", ""),
	}
}

// loadProviderConfig loads model provider configuration from environment
func loadProviderConfig() ProviderConfig {
	return ProviderConfig{
		EmbedderURL:    getEnv("KBAI_EMBEDDER_URL", ""),
		EmbedderModel:  getEnv("KBAI_EMBEDDER_MODEL", ""),
		CompleterURL:   getEnv("KBAI_COMPLETER_URL", ""),
		CompleterModel: getEnv("KBAI_COMPLETER_MODEL", ""),
		CompleterKey:   getEnv("KBAI_COMPLETER_API_KEY", ""),
		SearxURL:       getEnv("KBAI_SEARX_URL", ""),
	}
}

// loadTraceConfig loads trace ring configuration from environment
func loadTraceConfig() TraceConfig {
	return TraceConfig{
		MaxRecords: getEnvInt("KBAI_TRACE_MAX_RECORDS", 500),
		MaxAge:     getEnvDuration("KBAI_TRACE_MAX_AGE", time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("KBAI_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("KBAI_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("data dir is required for filesystem storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be filesystem or s3)", c.Storage.Type)
	}

	if c.Auth.SigningKey == "" && c.Auth.APIKey == "" {
		return fmt.Errorf("at least one of KBAI_SIGNING_KEY or KBAI_API_KEY is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	if c.Trace.MaxRecords <= 0 {
		return fmt.Errorf("trace max records must be positive")
	}
	if c.Trace.MaxAge <= 0 {
		return fmt.Errorf("trace max age must be positive")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// splitList splits a comma-separated list, trimming whitespace
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
