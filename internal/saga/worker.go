package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
	"github.com/josh-kwaku/ledger-saga/internal/metrics"
)

// leaseGrace keeps a lease alive past the activity timeout long enough to
// record the outcome.
const leaseGrace = 10 * time.Second

// Activities are the three effects a transfer saga performs.
type Activities interface {
	Withdraw(ctx context.Context, p domain.PaymentDetails) (string, error)
	Deposit(ctx context.Context, p domain.PaymentDetails) (string, error)
	Refund(ctx context.Context, p domain.PaymentDetails) (string, error)
}

type WorkerConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
}

// Worker executes activity tasks from the saga engine's queue.
type Worker struct {
	engine     *Engine
	activities Activities
	cfg        WorkerConfig
	metrics    *metrics.Collector
}

func NewWorker(engine *Engine, activities Activities, cfg WorkerConfig, m *metrics.Collector) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{engine: engine, activities: activities, cfg: cfg, metrics: m}
}

// Run polls with cfg.Concurrency goroutines until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("saga worker started",
		"worker_id", w.cfg.ID, "queue", w.engine.policy.TaskQueue,
		"concurrency", w.cfg.Concurrency, "interval", w.cfg.PollInterval)

	g, ctx := errgroup.WithContext(ctx)
	for i := range w.cfg.Concurrency {
		owner := fmt.Sprintf("%s/%d", w.cfg.ID, i)
		g.Go(func() error {
			w.loop(ctx, owner)
			return nil
		})
	}
	err := g.Wait()
	log.Info("saga worker stopped", "worker_id", w.cfg.ID)
	return err
}

func (w *Worker) loop(ctx context.Context, owner string) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Drain(ctx, owner); err != nil && ctx.Err() == nil {
				logging.FromContext(ctx).Error("failed to lease tasks", "owner", owner, "error", err)
			}
		}
	}
}

// Drain processes due tasks one at a time until none are left and reports
// how many it ran.
func (w *Worker) Drain(ctx context.Context, owner string) (int, error) {
	ttl := w.engine.policy.ActivityTimeout + leaseGrace
	processed := 0
	for ctx.Err() == nil {
		tasks, err := w.engine.tasks.Lease(ctx, w.engine.policy.TaskQueue, owner, ttl, 1)
		if err != nil {
			return processed, err
		}
		if len(tasks) == 0 {
			return processed, nil
		}
		for _, t := range tasks {
			w.process(ctx, owner, t)
			processed++
		}
	}
	return processed, ctx.Err()
}

func (w *Worker) process(ctx context.Context, owner string, task domain.SagaTask) {
	ctx = logging.WithAttrs(ctx,
		"saga_id", task.SagaID, "task_id", task.TaskID, "activity", task.Activity, "attempt", task.Attempts)
	log := logging.FromContext(ctx)
	policy := w.engine.policy

	ctx, span := tracer.Start(ctx, "saga.activity."+string(task.Activity))
	defer span.End()
	span.SetAttributes(
		attribute.String("saga.id", task.SagaID),
		attribute.Int("saga.attempt", task.Attempts),
	)

	started := time.Now()
	actx, cancel := context.WithTimeout(ctx, policy.ActivityTimeout)
	effectID, err := w.invoke(actx, task)
	cancel()

	if ctx.Err() != nil {
		// shutting down; the lease expires and another worker retries
		return
	}

	out := policy.Retry.Classify(effectID, err)
	w.metrics.ActivityAttempt(task.Activity, out.Tag.String(), time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(out.Kind))
	}

	if out.Tag == OutcomeRetryable {
		if !policy.Retry.Exhausted(task.Attempts) {
			delay := policy.Retry.Delay(task.Attempts)
			log.Warn("activity failed, retrying", "kind", out.Kind, "retry_in", delay, "error", err)
			if rerr := w.engine.tasks.Retry(ctx, task.TaskID, owner, time.Now().Add(delay), out.Message); rerr != nil {
				log.Error("failed to reschedule task", "error", rerr)
			}
			return
		}
		log.Warn("activity retries exhausted", "kind", out.Kind)
		out.Tag = OutcomeFatal
	}

	if out.Tag == OutcomeFatal {
		log.Warn("activity failed", "kind", out.Kind, "error", err)
	} else {
		log.Info("activity completed", "effect_id", out.EffectID)
	}

	if err := w.engine.RecordOutcome(ctx, task, owner, out); err != nil {
		if errors.Is(err, domain.ErrLeaseLost) {
			log.Warn("task lease lost before outcome was recorded")
			return
		}
		log.Error("failed to record activity outcome", "error", err)
		return
	}
	if err := w.engine.Advance(ctx, task.SagaID); err != nil {
		// the run stays flagged and the engine sweep picks it up
		log.Error("failed to advance saga", "error", err)
	}
}

func (w *Worker) invoke(ctx context.Context, task domain.SagaTask) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activity %s panicked: %v", task.Activity, r)
		}
	}()

	switch task.Activity {
	case domain.ActivityWithdraw:
		return w.activities.Withdraw(ctx, task.Payment)
	case domain.ActivityDeposit:
		return w.activities.Deposit(ctx, task.Payment)
	case domain.ActivityRefund:
		return w.activities.Refund(ctx, task.Payment)
	}
	return "", fmt.Errorf("%w: unknown activity %q", domain.ErrInvalidRequest, task.Activity)
}
