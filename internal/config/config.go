package config

import (
	"time"

	"github.com/corwinhq/taskforge/internal/platform/logger"
	"github.com/corwinhq/taskforge/internal/utils"
)

// Config holds every engine tunable from spec.md §6 plus the transport and
// storage settings needed to boot the process. All fields have defaults
// matching the spec exactly; every default is overridable by environment
// variable for operators.
type Config struct {
	Port string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string

	RedisAddr    string
	RedisChannel string

	JWTSecretKey string

	RateMax            int
	WindowSize         time.Duration
	LeaseTimeout       time.Duration
	DefaultMaxAttempts int
	BackoffBaseSeconds int
	MaxBackoff         time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	WindowRetention    time.Duration
	MaxListLimit       int
	DefaultListLimit   int
	DefaultGCBatch     int
	GCInterval         time.Duration
	ReapInterval       time.Duration
	WorkerPollInterval time.Duration
	CascadePolicyPath  string
}

func Load(log *logger.Logger) Config {
	return Config{
		Port: utils.GetEnv("PORT", "8080", log),

		PostgresHost:     utils.GetEnv("POSTGRES_HOST", "localhost", log),
		PostgresPort:     utils.GetEnv("POSTGRES_PORT", "5432", log),
		PostgresUser:     utils.GetEnv("POSTGRES_USER", "postgres", log),
		PostgresPassword: utils.GetEnv("POSTGRES_PASSWORD", "", log),
		PostgresName:     utils.GetEnv("POSTGRES_NAME", "taskforge", log),

		RedisAddr:    utils.GetEnv("REDIS_ADDR", "", log),
		RedisChannel: utils.GetEnv("REDIS_CHANNEL", "taskforge_jobs", log),

		JWTSecretKey: utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),

		RateMax:            utils.GetEnvAsInt("RATE_MAX", 20, log),
		WindowSize:         utils.GetEnvAsDuration("WINDOW_SIZE", time.Hour, log),
		LeaseTimeout:       utils.GetEnvAsDuration("LEASE_TIMEOUT", 5*time.Minute, log),
		DefaultMaxAttempts: utils.GetEnvAsInt("DEFAULT_MAX_ATTEMPTS", 3, log),
		BackoffBaseSeconds: utils.GetEnvAsInt("BACKOFF_BASE_SECONDS", 1, log),
		MaxBackoff:         utils.GetEnvAsDuration("MAX_BACKOFF", 5*time.Minute, log),

		CompletedRetention: utils.GetEnvAsDuration("COMPLETED_RETENTION", 24*time.Hour, log),
		FailedRetention:    utils.GetEnvAsDuration("FAILED_RETENTION", 72*time.Hour, log),
		WindowRetention:    utils.GetEnvAsDuration("WINDOW_RETENTION", 2*time.Hour, log),

		MaxListLimit:     utils.GetEnvAsInt("MAX_LIST_LIMIT", 100, log),
		DefaultListLimit: utils.GetEnvAsInt("DEFAULT_LIST_LIMIT", 20, log),
		DefaultGCBatch:   utils.GetEnvAsInt("DEFAULT_GC_BATCH", 1000, log),

		GCInterval:         utils.GetEnvAsDuration("GC_INTERVAL", time.Hour, log),
		ReapInterval:       utils.GetEnvAsDuration("REAP_INTERVAL", time.Minute, log),
		WorkerPollInterval: utils.GetEnvAsDuration("WORKER_POLL_INTERVAL", time.Second, log),

		CascadePolicyPath: utils.GetEnv("CASCADE_POLICY_YAML", "", log),
	}
}
