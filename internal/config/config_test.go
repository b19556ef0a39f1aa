package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every AFTERYOU_ env var that Load() reads.
var allConfigKeys = []string{
	"AFTERYOU_ENV_FILE",
	"AFTERYOU_LISTEN_ADDR",
	"AFTERYOU_DB_PATH",
	"AFTERYOU_POLL_INTERVAL",
	"AFTERYOU_SCHEDULER_BACKEND",
	"AFTERYOU_REDIS_URL",
	"AFTERYOU_SECRET_KEY",
	"AFTERYOU_FRONTEND_URL",
	"AFTERYOU_BACKEND_URL",
	"AFTERYOU_MAIL_FROM",
	"AFTERYOU_SMTP_HOST",
	"AFTERYOU_SMTP_PORT",
	"AFTERYOU_SMTP_USERNAME",
	"AFTERYOU_SMTP_PASSWORD",
	"AFTERYOU_MAIL_TIMEOUT",
	"AFTERYOU_DELIVERY_LEASE",
	"AFTERYOU_RETRY_WINDOW",
	"AFTERYOU_ESCALATION_WORKERS",
	"AFTERYOU_TASK_SIGNING_KEY",
	"AFTERYOU_TASK_NEXT_SIGNING_KEY",
	"AFTERYOU_QSTASH_URL",
	"AFTERYOU_QSTASH_TOKEN",
	"AFTERYOU_LOG_LEVEL",
	"AFTERYOU_LOG_FORMAT",
}

// isolateConfigEnv saves and unsets all AFTERYOU_ env vars so tests don't
// inherit values from the host environment, and points the dotenv lookup at
// a file that does not exist. t.Cleanup restores original values.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
	os.Setenv("AFTERYOU_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AFTERYOU_SECRET_KEY", "s3cret")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "afteryou.db", cfg.DBPath)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, BackendMemory, cfg.SchedulerBackend)
	assert.Equal(t, "http://localhost:3000", cfg.FrontendURL)
	assert.Equal(t, "http://localhost:8080", cfg.BackendURL)
	assert.Equal(t, "noreply@afteryou.local", cfg.MailFrom)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, 30*time.Second, cfg.MailTimeout)
	assert.Equal(t, 5*time.Minute, cfg.DeliveryLease)
	assert.Equal(t, 24*time.Hour, cfg.RetryWindow)
	assert.Equal(t, 4, cfg.EscalationWorkers)
	assert.Equal(t, "https://qstash.upstash.io", cfg.QStashURL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.False(t, cfg.HasSMTP())
	assert.False(t, cfg.TaskHooksEnabled())
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AFTERYOU_SECRET_KEY", "s3cret")
	t.Setenv("AFTERYOU_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("AFTERYOU_DB_PATH", "/tmp/test.db")
	t.Setenv("AFTERYOU_POLL_INTERVAL", "10s")
	t.Setenv("AFTERYOU_SCHEDULER_BACKEND", "Redis")
	t.Setenv("AFTERYOU_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("AFTERYOU_FRONTEND_URL", "https://afteryou.example/")
	t.Setenv("AFTERYOU_SMTP_HOST", "smtp.example")
	t.Setenv("AFTERYOU_SMTP_PORT", "2525")
	t.Setenv("AFTERYOU_ESCALATION_WORKERS", "8")
	t.Setenv("AFTERYOU_TASK_NEXT_SIGNING_KEY", "next")
	t.Setenv("AFTERYOU_LOG_LEVEL", "debug")
	t.Setenv("AFTERYOU_LOG_FORMAT", "json")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, BackendRedis, cfg.SchedulerBackend)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, "https://afteryou.example", cfg.FrontendURL)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, 8, cfg.EscalationWorkers)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.True(t, cfg.HasSMTP())
	assert.True(t, cfg.TaskHooksEnabled())
}

func TestLoad_MissingSecretKey(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AFTERYOU_SECRET_KEY")
}

func TestLoad_RedisRequiresURL(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AFTERYOU_SECRET_KEY", "s3cret")
	t.Setenv("AFTERYOU_SCHEDULER_BACKEND", "redis")

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AFTERYOU_REDIS_URL")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"AFTERYOU_POLL_INTERVAL", "not-a-duration"},
		{"AFTERYOU_POLL_INTERVAL", "0s"},
		{"AFTERYOU_MAIL_TIMEOUT", "soon"},
		{"AFTERYOU_DELIVERY_LEASE", "5"},
		{"AFTERYOU_RETRY_WINDOW", "a day"},
		{"AFTERYOU_SMTP_PORT", "smtp"},
		{"AFTERYOU_SMTP_PORT", "70000"},
		{"AFTERYOU_ESCALATION_WORKERS", "0"},
		{"AFTERYOU_SCHEDULER_BACKEND", "kafka"},
		{"AFTERYOU_LOG_LEVEL", "loud"},
		{"AFTERYOU_LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv("AFTERYOU_SECRET_KEY", "s3cret")
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()

			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_ReportsEveryFailure(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("AFTERYOU_POLL_INTERVAL", "nope")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "AFTERYOU_POLL_INTERVAL")
	assert.Contains(t, err.Error(), "AFTERYOU_SECRET_KEY")
}

func TestLoad_EnvFile(t *testing.T) {
	isolateConfigEnv(t)
	path := filepath.Join(t.TempDir(), "afteryou.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"AFTERYOU_SECRET_KEY=from-file\nAFTERYOU_DB_PATH=file.db\n"), 0o600))
	t.Setenv("AFTERYOU_ENV_FILE", path)
	t.Setenv("AFTERYOU_DB_PATH", "env.db")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.SecretKey)
	assert.Equal(t, "env.db", cfg.DBPath, "environment wins over the file")
}

func TestLoad_MalformedEnvFile(t *testing.T) {
	isolateConfigEnv(t)
	path := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(path, []byte("AFTERYOU_SECRET_KEY='unterminated\n"), 0o600))
	t.Setenv("AFTERYOU_ENV_FILE", path)

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "env file")
}
