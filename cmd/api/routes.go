package main

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/ledger-saga/internal/app"
	"github.com/josh-kwaku/ledger-saga/internal/handler"
	"github.com/josh-kwaku/ledger-saga/internal/middleware"
)

func newRouter(a *app.App) chi.Router {
	checks := map[string]handler.Pinger{"database": a.Ledger}
	if a.Redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}
	health := handler.NewHealthHandler(checks)
	transfers := handler.NewTransferHandler(a.Engine)
	accounts := handler.NewAccountHandler(a.Ledger)

	r := chi.NewRouter()
	r.Use(middleware.Tracing, middleware.Logging(a.Metrics), middleware.Recovery)

	r.Get("/health", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if a.Metrics != nil {
		r.Method("GET", "/metrics", a.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", transfers.Create)
			r.Get("/", transfers.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", transfers.Get)
				r.Get("/result", transfers.Result)
				r.Get("/history", transfers.History)
				r.Get("/awaiting-approval", transfers.AwaitingApproval)
				r.Get("/approved-by", transfers.ApprovedBy)
				r.With(middleware.OperatorAuth(a.Config.JWTSecret)).Post("/approve", transfers.Approve)
			})
		})

		r.Post("/accounts", accounts.Open)
		r.Route("/accounts/{number}", func(r chi.Router) {
			r.Get("/", accounts.Get)
			r.Get("/balance", accounts.Balance)
			r.Get("/funds", accounts.CheckFunds)
			r.Get("/history", accounts.History)
			r.Get("/holds", accounts.Holds)
			r.Post("/holds", accounts.PlaceHold)
		})
		r.Post("/holds/{id}/release", accounts.ReleaseHold)
	})

	return r
}
