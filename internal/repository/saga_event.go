package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

type SagaEventRepository struct {
	db *sql.DB
}

func NewSagaEventRepository(db *sql.DB) *SagaEventRepository {
	return &SagaEventRepository{db: db}
}

// Append writes events in order. Seq values are assigned by the caller; the
// (saga_id, seq) key rejects a concurrent writer that read the same history.
func (r *SagaEventRepository) Append(ctx context.Context, tx *sql.Tx, events []domain.SagaEvent) error {
	for _, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("Append: marshal %s: %w", e.Type, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO saga_events (saga_id, seq, event_type, data, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			e.SagaID, e.Seq, e.Type, string(data), e.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("Append: seq %d: %w", e.Seq, domain.ErrTransientConflict)
			}
			return fmt.Errorf("Append: %w", classify(err))
		}
	}
	return nil
}

func (r *SagaEventRepository) ListBySaga(ctx context.Context, sagaID string) ([]domain.SagaEvent, error) {
	events, err := listSagaEvents(ctx, r.db, sagaID)
	if err != nil {
		return nil, fmt.Errorf("ListBySaga: %w", err)
	}
	return events, nil
}

func (r *SagaEventRepository) ListBySagaTx(ctx context.Context, tx *sql.Tx, sagaID string) ([]domain.SagaEvent, error) {
	events, err := listSagaEvents(ctx, tx, sagaID)
	if err != nil {
		return nil, fmt.Errorf("ListBySagaTx: %w", err)
	}
	return events, nil
}

func listSagaEvents(ctx context.Context, q querier, sagaID string) ([]domain.SagaEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT saga_id, seq, event_type, data, created_at FROM saga_events
		WHERE saga_id = $1 ORDER BY seq`,
		sagaID,
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	events := []domain.SagaEvent{}
	for rows.Next() {
		var (
			e    domain.SagaEvent
			data []byte
		)
		if err := rows.Scan(&e.SagaID, &e.Seq, &e.Type, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal seq %d: %w", e.Seq, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return events, nil
}
