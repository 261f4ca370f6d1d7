package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
	"github.com/josh-kwaku/ledger-saga/internal/metrics"
	"github.com/josh-kwaku/ledger-saga/internal/repository"
)

var tracer = otel.Tracer("github.com/josh-kwaku/ledger-saga/internal/saga")

const sweepBatch = 50

type runRepo interface {
	Create(ctx context.Context, tx *sql.Tx, run *domain.SagaRun) (bool, error)
	GetByID(ctx context.Context, sagaID string) (*domain.SagaRun, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, sagaID string) (*domain.SagaRun, error)
	SaveProjection(ctx context.Context, tx *sql.Tx, run *domain.SagaRun) error
	MarkNeedsDecision(ctx context.Context, tx *sql.Tx, sagaID string) error
	ListNeedingDecision(ctx context.Context, limit int) ([]string, error)
	ClaimFlagged(ctx context.Context, tx *sql.Tx, sagaID string) (*domain.SagaRun, error)
	List(ctx context.Context, f domain.RunFilter) ([]domain.SagaRun, error)
}

type eventRepo interface {
	Append(ctx context.Context, tx *sql.Tx, events []domain.SagaEvent) error
	ListBySaga(ctx context.Context, sagaID string) ([]domain.SagaEvent, error)
	ListBySagaTx(ctx context.Context, tx *sql.Tx, sagaID string) ([]domain.SagaEvent, error)
}

type taskRepo interface {
	Enqueue(ctx context.Context, tx *sql.Tx, t *domain.SagaTask) error
	Lease(ctx context.Context, queue, owner string, ttl time.Duration, limit int) ([]domain.SagaTask, error)
	Complete(ctx context.Context, tx *sql.Tx, taskID, owner string) error
	Fail(ctx context.Context, tx *sql.Tx, taskID, owner, lastError string) error
	Retry(ctx context.Context, taskID, owner string, nextAttemptAt time.Time, lastError string) error
	ListBySaga(ctx context.Context, sagaID string) ([]domain.SagaTask, error)
}

// Engine owns saga history. Every change to a saga happens under its run
// row lock: history is replayed, the next steps decided, and the resulting
// events, tasks and projection written in one transaction.
type Engine struct {
	db      *repository.DB
	runs    runRepo
	events  eventRepo
	tasks   taskRepo
	policy  Policy
	metrics *metrics.Collector
	now     func() time.Time
}

func NewEngine(db *repository.DB, policy Policy, m *metrics.Collector) *Engine {
	conn := db.Conn()
	return &Engine{
		db:      db,
		runs:    repository.NewSagaRunRepository(conn),
		events:  repository.NewSagaEventRepository(conn),
		tasks:   repository.NewSagaTaskRepository(conn),
		policy:  policy,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Start begins a transfer saga keyed by the payment's reference id. Starting
// the same reference id again returns the existing run with created=false.
func (e *Engine) Start(ctx context.Context, p domain.PaymentDetails) (*domain.SagaRun, bool, error) {
	p.SourceAccount = strings.TrimSpace(p.SourceAccount)
	p.TargetAccount = strings.TrimSpace(p.TargetAccount)
	p.ReferenceID = strings.TrimSpace(p.ReferenceID)
	if err := p.Validate(); err != nil {
		return nil, false, fmt.Errorf("Start: %w", err)
	}

	sagaID := domain.SagaIDFor(p.ReferenceID)
	ctx = logging.WithAttrs(ctx, "saga_id", sagaID, "reference_id", p.ReferenceID)
	now := e.now()

	var created bool
	err := e.db.InTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		run := &domain.SagaRun{
			SagaID:        sagaID,
			WorkflowType:  domain.WorkflowTypeMoneyTransfer,
			Payment:       p,
			State:         domain.SagaStateCreated,
			Status:        domain.RunStatusRunning,
			NeedsDecision: true,
			CreatedAt:     now,
		}
		ok, err := e.runs.Create(ctx, tx, run)
		if err != nil || !ok {
			return err
		}
		created = true

		payment := p
		if err := e.events.Append(ctx, tx, []domain.SagaEvent{{
			SagaID: sagaID, Seq: 1, Type: domain.SagaEventStarted,
			Data: domain.SagaEventData{Payment: &payment}, CreatedAt: now,
		}}); err != nil {
			return err
		}
		_, err = e.advanceLocked(ctx, tx, run)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("Start: %w", err)
	}

	run, err := e.runs.GetByID(ctx, sagaID)
	if err != nil {
		return nil, false, fmt.Errorf("Start: %w", err)
	}
	if created {
		e.metrics.SagaStarted()
		logging.FromContext(ctx).Info("saga started",
			"amount", domain.FormatAmount(p.Amount), "state", run.State)
	}
	return run, created, nil
}

// Approve delivers the approval signal. The most recent manager name wins.
func (e *Engine) Approve(ctx context.Context, sagaID, managerName string) error {
	managerName = strings.TrimSpace(managerName)
	if managerName == "" {
		return fmt.Errorf("Approve: %w: manager_name is required", domain.ErrInvalidRequest)
	}
	ctx = logging.WithAttrs(ctx, "saga_id", sagaID)

	err := e.db.InTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		run, err := e.runs.GetForUpdate(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		history, err := e.events.ListBySagaTx(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		state := Replay(history)
		if state.Closed {
			return domain.ErrSagaClosed
		}
		if err := e.events.Append(ctx, tx, []domain.SagaEvent{{
			SagaID: sagaID, Seq: state.LastSeq + 1, Type: domain.SagaEventApprovalSignaled,
			Data: domain.SagaEventData{Manager: managerName}, CreatedAt: e.now(),
		}}); err != nil {
			return err
		}
		_, err = e.advanceLocked(ctx, tx, run)
		return err
	})
	if err != nil {
		return fmt.Errorf("Approve: %w", err)
	}
	logging.FromContext(ctx).Info("saga approved", "manager", managerName)
	return nil
}

// Advance makes every decision the saga's history currently allows.
func (e *Engine) Advance(ctx context.Context, sagaID string) error {
	return e.advance(ctx, sagaID, e.runs.GetForUpdate)
}

// advanceFlagged is Advance for the sweep. Runs locked by another
// transaction or already advanced are skipped silently.
func (e *Engine) advanceFlagged(ctx context.Context, sagaID string) error {
	err := e.advance(ctx, sagaID, e.runs.ClaimFlagged)
	if errors.Is(err, domain.ErrSagaNotFound) {
		return nil
	}
	return err
}

type lockFunc func(ctx context.Context, tx *sql.Tx, sagaID string) (*domain.SagaRun, error)

func (e *Engine) advance(ctx context.Context, sagaID string, lock lockFunc) error {
	ctx, span := tracer.Start(ctx, "saga.Advance")
	defer span.End()
	span.SetAttributes(attribute.String("saga.id", sagaID))
	ctx = logging.WithAttrs(ctx, "saga_id", sagaID)

	var closed *domain.SagaRun
	err := e.db.InTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		run, err := lock(ctx, tx, sagaID)
		if err != nil {
			return err
		}
		wasOpen := !run.State.IsTerminal()
		run, err = e.advanceLocked(ctx, tx, run)
		if err != nil {
			return err
		}
		if wasOpen && run.State.IsTerminal() {
			closed = run
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("Advance: %w", err)
	}
	if closed != nil {
		e.metrics.SagaFinished(closed.State)
		log := logging.FromContext(ctx)
		if closed.State == domain.SagaStateManualInterventionRequired {
			log.Error("saga needs manual intervention", "failure", closed.FailureMessage)
		} else {
			log.Info("saga finished", "state", closed.State, "status", closed.Status)
		}
	}
	return nil
}

// RecordOutcome stores a finished activity attempt and flags the saga for a
// decision. Retryable outcomes are not recorded here.
func (e *Engine) RecordOutcome(ctx context.Context, task domain.SagaTask, owner string, out Outcome) error {
	if out.Tag == OutcomeRetryable {
		return fmt.Errorf("RecordOutcome: %w: retryable outcome", domain.ErrInvalidRequest)
	}
	err := e.db.InTx(ctx, sql.LevelReadCommitted, func(tx *sql.Tx) error {
		if _, err := e.runs.GetForUpdate(ctx, tx, task.SagaID); err != nil {
			return err
		}
		history, err := e.events.ListBySagaTx(ctx, tx, task.SagaID)
		if err != nil {
			return err
		}
		state := Replay(history)

		event := domain.SagaEvent{
			SagaID: task.SagaID, Seq: state.LastSeq + 1, CreatedAt: e.now(),
			Data: domain.SagaEventData{Activity: task.Activity, TaskID: task.TaskID, Attempts: task.Attempts},
		}
		if out.Tag == OutcomeOK {
			event.Type = domain.SagaEventActivityCompleted
			event.Data.EffectID = out.EffectID
			err = e.tasks.Complete(ctx, tx, task.TaskID, owner)
		} else {
			event.Type = domain.SagaEventActivityFailed
			event.Data.Kind = out.Kind
			event.Data.Message = out.Message
			err = e.tasks.Fail(ctx, tx, task.TaskID, owner, out.Message)
		}
		if err != nil {
			return err
		}
		if err := e.events.Append(ctx, tx, []domain.SagaEvent{event}); err != nil {
			return err
		}
		return e.runs.MarkNeedsDecision(ctx, tx, task.SagaID)
	})
	if err != nil {
		return fmt.Errorf("RecordOutcome: %w", err)
	}
	return nil
}

// advanceLocked must run with the run row locked by tx.
func (e *Engine) advanceLocked(ctx context.Context, tx *sql.Tx, run *domain.SagaRun) (*domain.SagaRun, error) {
	history, err := e.events.ListBySagaTx(ctx, tx, run.SagaID)
	if err != nil {
		return nil, err
	}
	state := Replay(history)

	for {
		d := Decide(state, e.policy)
		if d.IsEmpty() {
			break
		}
		event := domain.SagaEvent{
			SagaID: run.SagaID, Seq: state.LastSeq + 1, Type: d.Type, Data: d.Data, CreatedAt: e.now(),
		}
		if d.Schedule != "" {
			task := &domain.SagaTask{
				TaskID:        uuid.NewString(),
				SagaID:        run.SagaID,
				Queue:         e.policy.TaskQueue,
				Activity:      d.Schedule,
				Payment:       state.Payment,
				NextAttemptAt: event.CreatedAt,
			}
			event.Data.TaskID = task.TaskID
			if err := e.tasks.Enqueue(ctx, tx, task); err != nil {
				return nil, err
			}
		}
		if err := e.events.Append(ctx, tx, []domain.SagaEvent{event}); err != nil {
			return nil, err
		}
		state.Apply(event)
		logging.FromContext(ctx).Debug("saga decision", "event", event.Type, "seq", event.Seq, "activity", d.Schedule)
	}

	project(run, &state, e.now())
	if err := e.runs.SaveProjection(ctx, tx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func project(run *domain.SagaRun, s *State, now time.Time) {
	run.State = s.Phase()
	run.Status = run.State.RunStatus()
	run.AwaitingApproval = s.AwaitingApproval
	run.ApprovedBy = s.ApprovedBy
	run.Result = s.Result
	run.FailureKind = s.FailureKind
	run.FailureMessage = s.FailureMessage
	run.NeedsDecision = false
	run.UpdatedAt = now
	if s.Closed {
		closedAt := s.ClosedAt
		run.ClosedAt = &closedAt
	}
}

// Run advances flagged sagas on every tick until ctx is done. It recovers
// sagas whose outcome was recorded but not yet acted on.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	log := logging.FromContext(ctx)
	log.Info("saga engine started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("saga engine stopped")
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	ids, err := e.runs.ListNeedingDecision(ctx, sweepBatch)
	if err != nil {
		logging.FromContext(ctx).Error("failed to list sagas needing decision", "error", err)
		return
	}
	for _, id := range ids {
		if err := e.advanceFlagged(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			logging.FromContext(ctx).Error("failed to advance saga", "saga_id", id, "error", err)
		}
	}
}

func (e *Engine) Describe(ctx context.Context, sagaID string) (*domain.SagaRun, error) {
	run, err := e.runs.GetByID(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("Describe: %w", err)
	}
	return run, nil
}

func (e *Engine) IsAwaitingApproval(ctx context.Context, sagaID string) (bool, error) {
	run, err := e.runs.GetByID(ctx, sagaID)
	if err != nil {
		return false, fmt.Errorf("IsAwaitingApproval: %w", err)
	}
	return run.AwaitingApproval, nil
}

func (e *Engine) ApprovedBy(ctx context.Context, sagaID string) (string, error) {
	run, err := e.runs.GetByID(ctx, sagaID)
	if err != nil {
		return "", fmt.Errorf("ApprovedBy: %w", err)
	}
	return run.ApprovedBy, nil
}

// Result returns the outcome of a finished saga. A failed saga yields an
// error wrapping domain.ErrTransferFailed and the sentinel of its failure
// kind, so ManualInterventionRequired matches domain.ErrManualIntervention.
func (e *Engine) Result(ctx context.Context, sagaID string) (*domain.TransferResult, error) {
	run, err := e.runs.GetByID(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("Result: %w", err)
	}
	switch run.Status {
	case domain.RunStatusRunning:
		return nil, fmt.Errorf("Result: %w", domain.ErrSagaRunning)
	case domain.RunStatusFailed:
		return nil, fmt.Errorf("Result: %w: %w: %s", domain.ErrTransferFailed, run.FailureKind.Sentinel(), run.FailureMessage)
	}
	return run.Result, nil
}

func (e *Engine) History(ctx context.Context, sagaID string) ([]domain.SagaEvent, error) {
	if _, err := e.runs.GetByID(ctx, sagaID); err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	events, err := e.events.ListBySaga(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return events, nil
}

func (e *Engine) Tasks(ctx context.Context, sagaID string) ([]domain.SagaTask, error) {
	tasks, err := e.tasks.ListBySaga(ctx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("Tasks: %w", err)
	}
	return tasks, nil
}

func (e *Engine) List(ctx context.Context, f domain.RunFilter) ([]domain.SagaRun, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, fmt.Errorf("List: %w: unknown status %q", domain.ErrInvalidRequest, f.Status)
	}
	runs, err := e.runs.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return runs, nil
}
