// Command worker executes money transfer activities from the saga task queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/ledger-saga/internal/app"
	"github.com/josh-kwaku/ledger-saga/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, "ledger-saga-worker")
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Error("failed to close dependencies", "error", err)
		}
	}()

	// the sweeper also runs here so sagas advance without an api process
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Engine.Run(gctx, cfg.EnginePollInterval)
		return nil
	})
	g.Go(func() error {
		return a.NewWorker().Run(gctx)
	})
	return g.Wait()
}
