package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/kbai/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KBAI_API_KEY", "svc-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "filesystem", cfg.Storage.Type)
	assert.Equal(t, "./data", cfg.Storage.FilesystemRoot)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 500, cfg.Trace.MaxRecords)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("KBAI_PORT", "9000")
	t.Setenv("KBAI_DATA_DIR", "/var/lib/kbai")
	t.Setenv("KBAI_SIGNING_KEY", "secret")
	t.Setenv("KBAI_TOKEN_TTL", "30m")
	t.Setenv("KBAI_LOG_LEVEL", "debug")
	t.Setenv("KBAI_TRACE_MAX_RECORDS", "100")
	t.Setenv("KBAI_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("KBAI_EMBEDDER_URL", "http://ollama:11434")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/var/lib/kbai", cfg.Storage.FilesystemRoot)
	assert.Equal(t, "secret", cfg.Auth.SigningKey)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 100, cfg.Trace.MaxRecords)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "http://ollama:11434", cfg.Providers.EmbedderURL)
}

func TestLoadConfigRequiresCredentials(t *testing.T) {
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KBAI_SIGNING_KEY or KBAI_API_KEY")
}

func TestLoadConfigS3Storage(t *testing.T) {
	t.Setenv("KBAI_API_KEY", "svc-key")
	t.Setenv("KBAI_STORAGE_TYPE", "s3")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 bucket")

	t.Setenv("KBAI_S3_BUCKET", "kbai-data")
	t.Setenv("KBAI_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("KBAI_S3_USE_PATH_STYLE", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "kbai-data", cfg.Storage.S3Bucket)
	assert.True(t, cfg.Storage.S3UsePathStyle)
}

func TestLoadConfigInvalidStorageType(t *testing.T) {
	t.Setenv("KBAI_API_KEY", "svc-key")
	t.Setenv("KBAI_STORAGE_TYPE", "redis")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid storage type")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("WARNING"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("bogus"))
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("KBAI_TEST_INT", "42")
	t.Setenv("KBAI_TEST_BOOL", "TRUE")
	t.Setenv("KBAI_TEST_DUR", "90s")
	t.Setenv("KBAI_TEST_BAD", "nope")

	assert.Equal(t, 42, getEnvInt("KBAI_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("KBAI_TEST_BAD", 1))
	assert.True(t, getEnvBool("KBAI_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, getEnvDuration("KBAI_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("KBAI_TEST_BAD", time.Second))
	assert.Equal(t, int64(7), getEnvInt64("KBAI_TEST_MISSING", 7))
}
