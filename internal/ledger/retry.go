package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
)

const (
	conflictInitialInterval = 25 * time.Millisecond
	conflictMaxInterval     = time.Second
)

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrTransientConflict) || errors.Is(err, domain.ErrVersionConflict)
}

// withConflictRetry runs fn until it succeeds, fails with a non-transient
// error, or the retry budget is spent. The error that ends a spent budget
// always matches domain.ErrTransientConflict.
func (s *Store) withConflictRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conflictInitialInterval
	b.MaxInterval = conflictMaxInterval
	b.MaxElapsedTime = s.cfg.RetryBudget

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		s.metrics.LedgerConflict(op)
		logging.FromContext(ctx).Warn("ledger conflict, retrying",
			"operation", op, "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(b, ctx))

	if err != nil && errors.Is(err, domain.ErrVersionConflict) && !errors.Is(err, domain.ErrTransientConflict) {
		err = fmt.Errorf("%w: %w", domain.ErrTransientConflict, err)
	}
	return err
}
