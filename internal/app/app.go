// Package app wires the runtime shared by the api and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/josh-kwaku/ledger-saga/internal/activity"
	"github.com/josh-kwaku/ledger-saga/internal/config"
	"github.com/josh-kwaku/ledger-saga/internal/ledger"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
	"github.com/josh-kwaku/ledger-saga/internal/metrics"
	"github.com/josh-kwaku/ledger-saga/internal/repository"
	"github.com/josh-kwaku/ledger-saga/internal/saga"
	"github.com/josh-kwaku/ledger-saga/internal/telemetry"
)

const (
	dbConnectAttempts = 30
	dbConnectWait     = time.Second
)

type App struct {
	Config     *config.Config
	DB         *repository.DB
	Redis      *redis.Client
	Metrics    *metrics.Collector
	Ledger     *ledger.Store
	Engine     *saga.Engine
	Activities saga.Activities

	closers []func(context.Context) error
}

// Build connects every dependency named by cfg. Close releases them in
// reverse order.
func Build(ctx context.Context, cfg *config.Config, service string) (*App, error) {
	logging.Init(logging.Options{Service: service, Level: cfg.LogLevel, AppEnv: cfg.AppEnv})
	a := &App{Config: cfg}

	shutdownTracing, err := telemetry.Setup(ctx, service, cfg.OTelEndpoint)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	if cfg.MetricsEnabled {
		a.Metrics = metrics.NewCollector()
	}

	pool, err := repository.ConnectWithRetry(ctx, cfg.DatabaseURL, cfg.PoolConfig(), dbConnectAttempts, dbConnectWait)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app.Build: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return pool.Close() })
	a.DB = repository.NewDB(pool)

	a.Ledger = ledger.NewStore(a.DB, ledger.Config{
		RetryBudget:           cfg.LedgerRetryBudget,
		DefaultInitialBalance: cfg.DefaultInitialBalance,
	}, a.Metrics)
	a.Engine = saga.NewEngine(a.DB, Policy(cfg), a.Metrics)

	if cfg.RedisURL != "" {
		rdb, err := activity.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("app.Build: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	if a.Activities, err = a.buildActivities(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app.Build: %w", err)
	}
	return a, nil
}

func (a *App) buildActivities(ctx context.Context) (saga.Activities, error) {
	cfg := a.Config
	switch cfg.ActivityBackend {
	case "simulated":
		var effects activity.EffectStore = activity.NewMemoryEffectStore()
		if a.Redis != nil {
			effects = activity.NewRedisEffectStore(a.Redis, cfg.EffectTTL)
		} else {
			slog.Warn("REDIS_URL not set, simulated effects are kept in memory")
		}
		slog.Info("using simulated bank activities",
			"withdraw_ceiling", cfg.WithdrawCeiling, "invalid_accounts", cfg.InvalidAccounts)
		return activity.NewSimulated(activity.SimulatedConfig{
			WithdrawCeiling: cfg.WithdrawCeiling,
			InvalidAccounts: cfg.InvalidAccounts,
		}, effects), nil
	default:
		l := activity.NewLedger(a.Ledger, cfg.ClearingAccount)
		if err := l.EnsureClearingAccount(ctx); err != nil {
			return nil, err
		}
		slog.Info("using ledger activities", "clearing_account", cfg.ClearingAccount)
		return l, nil
	}
}

// NewWorker builds a worker executing this app's activities.
func (a *App) NewWorker() *saga.Worker {
	id := a.Config.WorkerID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return saga.NewWorker(a.Engine, a.Activities, saga.WorkerConfig{
		ID:           id,
		Concurrency:  a.Config.WorkerConcurrency,
		PollInterval: a.Config.WorkerPollInterval,
	}, a.Metrics)
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Policy translates configuration into the saga decision policy.
func Policy(cfg *config.Config) saga.Policy {
	p := saga.DefaultPolicy()
	p.ApprovalThreshold = cfg.ApprovalThreshold
	p.TaskQueue = cfg.TaskQueue
	p.ActivityTimeout = cfg.ActivityTimeout
	p.Retry.InitialInterval = cfg.RetryInitialInterval
	p.Retry.MaximumInterval = cfg.RetryMaxInterval
	p.Retry.MaximumAttempts = cfg.RetryMaxAttempts
	return p
}
