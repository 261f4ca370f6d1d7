package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

const sagaRunColumns = `saga_id, workflow_type, reference_id, source_account, target_account, amount,
	state, status, awaiting_approval, approved_by, result, failure_kind, failure_message,
	needs_decision, created_at, updated_at, closed_at`

const defaultRunListLimit = 50

type SagaRunRepository struct {
	db *sql.DB
}

func NewSagaRunRepository(db *sql.DB) *SagaRunRepository {
	return &SagaRunRepository{db: db}
}

// Create inserts the run unless the saga id or reference id is taken.
func (r *SagaRunRepository) Create(ctx context.Context, tx *sql.Tx, run *domain.SagaRun) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO saga_runs (
			saga_id, workflow_type, reference_id, source_account, target_account, amount,
			state, status, needs_decision, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT DO NOTHING`,
		run.SagaID, run.WorkflowType, run.Payment.ReferenceID, run.Payment.SourceAccount,
		run.Payment.TargetAccount, run.Payment.Amount, run.State, run.Status, run.NeedsDecision, run.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("Create: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Create: rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SagaRunRepository) GetByID(ctx context.Context, sagaID string) (*domain.SagaRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sagaRunColumns+` FROM saga_runs WHERE saga_id = $1`, sagaID,
	)
	run, err := scanSagaRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrSagaNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return run, nil
}

func (r *SagaRunRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, sagaID string) (*domain.SagaRun, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+sagaRunColumns+` FROM saga_runs WHERE saga_id = $1 FOR UPDATE`, sagaID,
	)
	run, err := scanSagaRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrSagaNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", classify(err))
	}
	return run, nil
}

// ClaimFlagged locks a run that still needs a decision. It skips rows another
// transaction holds and returns domain.ErrSagaNotFound when the run is locked
// elsewhere or no longer flagged.
func (r *SagaRunRepository) ClaimFlagged(ctx context.Context, tx *sql.Tx, sagaID string) (*domain.SagaRun, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+sagaRunColumns+` FROM saga_runs
		WHERE saga_id = $1 AND needs_decision
		FOR UPDATE SKIP LOCKED`, sagaID,
	)
	run, err := scanSagaRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ClaimFlagged: %w", domain.ErrSagaNotFound)
		}
		return nil, fmt.Errorf("ClaimFlagged: %w", classify(err))
	}
	return run, nil
}

// SaveProjection overwrites the derived columns of a run.
func (r *SagaRunRepository) SaveProjection(ctx context.Context, tx *sql.Tx, run *domain.SagaRun) error {
	var result any
	if run.Result != nil {
		b, err := json.Marshal(run.Result)
		if err != nil {
			return fmt.Errorf("SaveProjection: marshal result: %w", err)
		}
		result = string(b)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE saga_runs SET
			state = $1, status = $2, awaiting_approval = $3, approved_by = $4, result = $5,
			failure_kind = $6, failure_message = $7, needs_decision = $8,
			updated_at = $9, closed_at = $10
		WHERE saga_id = $11`,
		run.State, run.Status, run.AwaitingApproval, run.ApprovedBy, result,
		run.FailureKind, run.FailureMessage, run.NeedsDecision,
		run.UpdatedAt, run.ClosedAt, run.SagaID,
	)
	if err != nil {
		return fmt.Errorf("SaveProjection: %w", classify(err))
	}
	if err := expectOneRow(res, domain.ErrSagaNotFound); err != nil {
		return fmt.Errorf("SaveProjection: %w", err)
	}
	return nil
}

func (r *SagaRunRepository) MarkNeedsDecision(ctx context.Context, tx *sql.Tx, sagaID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE saga_runs SET needs_decision = true, updated_at = now() WHERE saga_id = $1`, sagaID,
	)
	if err != nil {
		return fmt.Errorf("MarkNeedsDecision: %w", classify(err))
	}
	if err := expectOneRow(res, domain.ErrSagaNotFound); err != nil {
		return fmt.Errorf("MarkNeedsDecision: %w", err)
	}
	return nil
}

// ListNeedingDecision returns ids of runs with unprocessed history, oldest first.
func (r *SagaRunRepository) ListNeedingDecision(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT saga_id FROM saga_runs WHERE needs_decision ORDER BY updated_at LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListNeedingDecision: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListNeedingDecision: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListNeedingDecision: rows: %w", err)
	}
	return ids, nil
}

func (r *SagaRunRepository) List(ctx context.Context, f domain.RunFilter) ([]domain.SagaRun, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkflowType != "" {
		args = append(args, f.WorkflowType)
		where = append(where, fmt.Sprintf("workflow_type = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + sagaRunColumns + ` FROM saga_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	runs := []domain.SagaRun{}
	for rows.Next() {
		run, err := scanSagaRun(rows)
		if err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return runs, nil
}

func scanSagaRun(s scanner) (*domain.SagaRun, error) {
	var (
		run      domain.SagaRun
		result   []byte
		closedAt sql.NullTime
	)
	err := s.Scan(
		&run.SagaID, &run.WorkflowType, &run.Payment.ReferenceID, &run.Payment.SourceAccount,
		&run.Payment.TargetAccount, &run.Payment.Amount,
		&run.State, &run.Status, &run.AwaitingApproval, &run.ApprovedBy, &result,
		&run.FailureKind, &run.FailureMessage,
		&run.NeedsDecision, &run.CreatedAt, &run.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		var tr domain.TransferResult
		if err := json.Unmarshal(result, &tr); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		run.Result = &tr
	}
	if closedAt.Valid {
		t := closedAt.Time
		run.ClosedAt = &t
	}
	return &run, nil
}
