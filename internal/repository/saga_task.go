package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

const sagaTaskColumns = `task_id, saga_id, queue, activity, payload, status, attempts,
	next_attempt_at, lease_owner, lease_expires_at, last_error, created_at, updated_at`

type SagaTaskRepository struct {
	db *sql.DB
}

func NewSagaTaskRepository(db *sql.DB) *SagaTaskRepository {
	return &SagaTaskRepository{db: db}
}

// Enqueue adds a pending task. A saga schedules each activity at most once;
// re-enqueueing the same activity is a no-op.
func (r *SagaTaskRepository) Enqueue(ctx context.Context, tx *sql.Tx, t *domain.SagaTask) error {
	payload, err := json.Marshal(t.Payment)
	if err != nil {
		return fmt.Errorf("Enqueue: marshal payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO saga_tasks (
			task_id, saga_id, queue, activity, payload, status, attempts, next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $6, $6)
		ON CONFLICT (saga_id, activity) DO NOTHING`,
		t.TaskID, t.SagaID, t.Queue, t.Activity, string(payload), t.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("Enqueue: %w", classify(err))
	}
	return nil
}

// Lease claims up to limit due tasks for owner. Pending tasks whose
// next_attempt_at has passed and leased tasks whose lease expired are both
// eligible. Each lease counts as an attempt.
func (r *SagaTaskRepository) Lease(ctx context.Context, queue, owner string, ttl time.Duration, limit int) ([]domain.SagaTask, error) {
	// SKIP LOCKED keeps concurrent workers off each other's rows
	rows, err := r.db.QueryContext(ctx,
		`UPDATE saga_tasks SET
			status = 'leased',
			lease_owner = $2,
			lease_expires_at = now() + ($3::float8 * interval '1 millisecond'),
			attempts = attempts + 1,
			updated_at = now()
		WHERE task_id IN (
			SELECT task_id FROM saga_tasks
			WHERE queue = $1
			  AND ((status = 'pending' AND next_attempt_at <= now())
			    OR (status = 'leased' AND lease_expires_at <= now()))
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+sagaTaskColumns,
		queue, owner, ttl.Milliseconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("Lease: %w", classify(err))
	}
	defer rows.Close()

	var tasks []domain.SagaTask
	for rows.Next() {
		t, err := scanSagaTask(rows)
		if err != nil {
			return nil, fmt.Errorf("Lease: scan: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Lease: rows: %w", err)
	}
	return tasks, nil
}

// Complete marks a leased task completed. It fails with domain.ErrLeaseLost
// when owner no longer holds the lease.
func (r *SagaTaskRepository) Complete(ctx context.Context, tx *sql.Tx, taskID, owner string) error {
	return r.finish(ctx, tx, "Complete", taskID, owner, domain.TaskStatusCompleted, "")
}

func (r *SagaTaskRepository) Fail(ctx context.Context, tx *sql.Tx, taskID, owner, lastError string) error {
	return r.finish(ctx, tx, "Fail", taskID, owner, domain.TaskStatusFailed, lastError)
}

func (r *SagaTaskRepository) finish(ctx context.Context, tx *sql.Tx, op, taskID, owner string, status domain.TaskStatus, lastError string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE saga_tasks SET status = $1, last_error = $2, lease_owner = '', lease_expires_at = NULL, updated_at = now()
		WHERE task_id = $3 AND lease_owner = $4 AND status = 'leased'`,
		status, lastError, taskID, owner,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	if err := expectOneRow(res, domain.ErrLeaseLost); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Retry returns a leased task to pending, due at nextAttemptAt.
func (r *SagaTaskRepository) Retry(ctx context.Context, taskID, owner string, nextAttemptAt time.Time, lastError string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE saga_tasks SET status = 'pending', next_attempt_at = $1, last_error = $2,
			lease_owner = '', lease_expires_at = NULL, updated_at = now()
		WHERE task_id = $3 AND lease_owner = $4 AND status = 'leased'`,
		nextAttemptAt, lastError, taskID, owner,
	)
	if err != nil {
		return fmt.Errorf("Retry: %w", classify(err))
	}
	if err := expectOneRow(res, domain.ErrLeaseLost); err != nil {
		return fmt.Errorf("Retry: %w", err)
	}
	return nil
}

func (r *SagaTaskRepository) ListBySaga(ctx context.Context, sagaID string) ([]domain.SagaTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sagaTaskColumns+` FROM saga_tasks WHERE saga_id = $1 ORDER BY created_at`, sagaID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListBySaga: %w", err)
	}
	defer rows.Close()

	tasks := []domain.SagaTask{}
	for rows.Next() {
		t, err := scanSagaTask(rows)
		if err != nil {
			return nil, fmt.Errorf("ListBySaga: scan: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListBySaga: rows: %w", err)
	}
	return tasks, nil
}

func scanSagaTask(s scanner) (*domain.SagaTask, error) {
	var (
		t       domain.SagaTask
		payload []byte
		expires sql.NullTime
	)
	err := s.Scan(
		&t.TaskID, &t.SagaID, &t.Queue, &t.Activity, &payload, &t.Status, &t.Attempts,
		&t.NextAttemptAt, &t.LeaseOwner, &expires, &t.LastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &t.Payment); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if expires.Valid {
		e := expires.Time
		t.LeaseExpiresAt = &e
	}
	return &t, nil
}
