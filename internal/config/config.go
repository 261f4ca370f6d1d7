package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/josh-kwaku/ledger-saga/internal/repository"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`
	WorkerID    string `env:"WORKER_ID"`

	// required by cmd/api only
	JWTSecret string `env:"JWT_SECRET"`
	// empty keeps simulated effects in process memory
	RedisURL string `env:"REDIS_URL"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`

	LedgerRetryBudget     time.Duration `env:"LEDGER_RETRY_BUDGET" envDefault:"10s"`
	DefaultInitialBalance int64         `env:"DEFAULT_INITIAL_BALANCE" envDefault:"1000000"`

	// ledger or simulated
	ActivityBackend string        `env:"ACTIVITY_BACKEND" envDefault:"ledger"`
	ClearingAccount string        `env:"CLEARING_ACCOUNT" envDefault:"SAGA_CLEARING"`
	WithdrawCeiling int64         `env:"WITHDRAW_CEILING" envDefault:"500000"`
	InvalidAccounts []string      `env:"INVALID_ACCOUNTS" envSeparator:"," envDefault:"B5555"`
	EffectTTL       time.Duration `env:"EFFECT_TTL" envDefault:"168h"`

	ApprovalThreshold    int64         `env:"APPROVAL_THRESHOLD" envDefault:"50000"`
	TaskQueue            string        `env:"TASK_QUEUE" envDefault:"money-transfer"`
	WorkerConcurrency    int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	WorkerPollInterval   time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"500ms"`
	EnginePollInterval   time.Duration `env:"ENGINE_POLL_INTERVAL" envDefault:"1s"`
	ActivityTimeout      time.Duration `env:"ACTIVITY_TIMEOUT" envDefault:"1m"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"1s"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"5s"`
	// 0 retries forever
	RetryMaxAttempts int  `env:"RETRY_MAX_ATTEMPTS" envDefault:"0"`
	EmbeddedWorker   bool `env:"EMBEDDED_WORKER" envDefault:"false"`

	OTelEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.ActivityBackend != "ledger" && cfg.ActivityBackend != "simulated" {
		return nil, fmt.Errorf("config.Load: unknown ACTIVITY_BACKEND %q", cfg.ActivityBackend)
	}
	return &cfg, nil
}

func (c *Config) PoolConfig() repository.PoolConfig {
	return repository.PoolConfig{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(c.DBConnMaxLifetimeS) * time.Second,
		ConnMaxIdleTime: time.Duration(c.DBConnMaxIdleTimeS) * time.Second,
	}
}
