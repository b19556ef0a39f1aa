// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Scheduler backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr         string
	DBPath             string
	PollInterval       time.Duration
	SchedulerBackend   string
	RedisURL           string
	SecretKey          string
	FrontendURL        string
	BackendURL         string
	MailFrom           string
	SMTPHost           string
	SMTPPort           int
	SMTPUsername       string
	SMTPPassword       string
	MailTimeout        time.Duration
	DeliveryLease      time.Duration
	RetryWindow        time.Duration
	EscalationWorkers  int
	TaskSigningKey     string
	TaskNextSigningKey string
	QStashURL          string
	QStashToken        string
	LogLevel           slog.Level
	LogFormat          string
}

// HasSMTP reports whether a relay is configured. Without one, outgoing mail
// is only logged.
func (c *Config) HasSMTP() bool {
	return c.SMTPHost != ""
}

// TaskHooksEnabled reports whether at least one task signing key is set.
func (c *Config) TaskHooksEnabled() bool {
	return c.TaskSigningKey != "" || c.TaskNextSigningKey != ""
}

// Load reads configuration from AFTERYOU_* environment variables and returns
// a validated Config. Variables from the dotenv file named by
// AFTERYOU_ENV_FILE (default .env) are loaded first; variables already set in
// the environment win and a missing file is ignored.
//
// AFTERYOU_SECRET_KEY is required. AFTERYOU_REDIS_URL is required when
// AFTERYOU_SCHEDULER_BACKEND is redis.
func Load() (*Config, error) {
	envFile := ".env"
	if v, ok := os.LookupEnv("AFTERYOU_ENV_FILE"); ok {
		envFile = v
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var l loader
	cfg := &Config{
		ListenAddr:         l.str("AFTERYOU_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:             l.str("AFTERYOU_DB_PATH", "afteryou.db"),
		PollInterval:       l.duration("AFTERYOU_POLL_INTERVAL", time.Minute),
		SchedulerBackend:   l.oneOf("AFTERYOU_SCHEDULER_BACKEND", BackendMemory, BackendMemory, BackendRedis),
		RedisURL:           l.str("AFTERYOU_REDIS_URL", "redis://localhost:6379/0"),
		SecretKey:          l.str("AFTERYOU_SECRET_KEY", ""),
		FrontendURL:        strings.TrimRight(l.str("AFTERYOU_FRONTEND_URL", "http://localhost:3000"), "/"),
		BackendURL:         strings.TrimRight(l.str("AFTERYOU_BACKEND_URL", "http://localhost:8080"), "/"),
		MailFrom:           l.str("AFTERYOU_MAIL_FROM", "noreply@afteryou.local"),
		SMTPHost:           l.str("AFTERYOU_SMTP_HOST", ""),
		SMTPPort:           l.integer("AFTERYOU_SMTP_PORT", 587),
		SMTPUsername:       l.str("AFTERYOU_SMTP_USERNAME", ""),
		SMTPPassword:       l.str("AFTERYOU_SMTP_PASSWORD", ""),
		MailTimeout:        l.duration("AFTERYOU_MAIL_TIMEOUT", 30*time.Second),
		DeliveryLease:      l.duration("AFTERYOU_DELIVERY_LEASE", 5*time.Minute),
		RetryWindow:        l.duration("AFTERYOU_RETRY_WINDOW", 24*time.Hour),
		EscalationWorkers:  l.integer("AFTERYOU_ESCALATION_WORKERS", 4),
		TaskSigningKey:     l.str("AFTERYOU_TASK_SIGNING_KEY", ""),
		TaskNextSigningKey: l.str("AFTERYOU_TASK_NEXT_SIGNING_KEY", ""),
		QStashURL:          l.str("AFTERYOU_QSTASH_URL", "https://qstash.upstash.io"),
		QStashToken:        l.str("AFTERYOU_QSTASH_TOKEN", ""),
		LogLevel:           l.level("AFTERYOU_LOG_LEVEL", slog.LevelInfo),
		LogFormat:          l.oneOf("AFTERYOU_LOG_FORMAT", LogFormatText, LogFormatText, LogFormatJSON),
	}

	if cfg.SecretKey == "" {
		l.fail("AFTERYOU_SECRET_KEY is required")
	}
	if cfg.SchedulerBackend == BackendRedis {
		if _, ok := os.LookupEnv("AFTERYOU_REDIS_URL"); !ok {
			l.fail("AFTERYOU_REDIS_URL is required when AFTERYOU_SCHEDULER_BACKEND is redis")
		}
	}
	if cfg.PollInterval <= 0 {
		l.fail("AFTERYOU_POLL_INTERVAL must be positive")
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		l.fail(fmt.Sprintf("AFTERYOU_SMTP_PORT %d is out of range", cfg.SMTPPort))
	}
	if cfg.EscalationWorkers < 1 {
		l.fail("AFTERYOU_ESCALATION_WORKERS must be at least 1")
	}

	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loader reads typed variables and collects every parse failure.
type loader struct {
	errs []error
}

func (l *loader) fail(msg string) {
	l.errs = append(l.errs, errors.New(msg))
}

func (l *loader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s has invalid duration %q: %w", key, v, err))
		return def
	}
	return d
}

func (l *loader) integer(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s has invalid integer %q: %w", key, v, err))
		return def
	}
	return n
}

func (l *loader) oneOf(key, def string, allowed ...string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	l.errs = append(l.errs, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), v))
	return def
}

func (l *loader) level(key string, def slog.Level) slog.Level {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s has invalid level %q: %w", key, v, err))
		return def
	}
	return lvl
}
