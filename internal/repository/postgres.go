package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func NewPostgresDB(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresDB: open: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewPostgresDB: ping: %w", err)
	}

	return db, nil
}

// ConnectWithRetry keeps trying NewPostgresDB until it succeeds, attempts run
// out, or ctx is done.
func ConnectWithRetry(ctx context.Context, databaseURL string, pool PoolConfig, attempts int, wait time.Duration) (*sql.DB, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		db, err := NewPostgresDB(ctx, databaseURL, pool)
		if err == nil {
			return db, nil
		}
		lastErr = err
		slog.Info("waiting for database", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ConnectWithRetry: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("ConnectWithRetry: %d attempts: %w", attempts, lastErr)
}
