package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

func TestCheckTransferOrder(t *testing.T) {
	active := func(n string, available int64) *domain.Account {
		return &domain.Account{AccountNumber: n, Balance: available, AvailableBalance: available, Status: domain.AccountStatusActive}
	}
	req := TransferRequest{Sender: "A123", Recipient: "B456", Amount: 1000, TransactionID: "T1"}

	tests := []struct {
		name      string
		sender    *domain.Account
		recipient *domain.Account
		want      error
	}{
		{"sender missing wins over recipient missing", nil, nil, domain.ErrAccountNotFound},
		{"funds checked before recipient existence", active("A123", 10), nil, domain.ErrInsufficientFunds},
		{"recipient missing", active("A123", 5000), nil, domain.ErrAccountNotFound},
		{"frozen sender", &domain.Account{AccountNumber: "A123", AvailableBalance: 5000, Status: domain.AccountStatusFrozen}, active("B456", 0), domain.ErrAccountInactive},
		{"closed recipient", active("A123", 5000), &domain.Account{AccountNumber: "B456", Status: domain.AccountStatusClosed}, domain.ErrAccountInactive},
		{"overdraft covers shortfall", &domain.Account{AccountNumber: "A123", AvailableBalance: 500, OverdraftLimit: 500, Status: domain.AccountStatusActive}, active("B456", 0), nil},
		{"ok", active("A123", 1000), active("B456", 0), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkTransfer(tt.sender, tt.recipient, req)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckTransferRecipientMissingNamesRecipient(t *testing.T) {
	sender := &domain.Account{AccountNumber: "A123", AvailableBalance: 5000, Status: domain.AccountStatusActive}
	err := checkTransfer(sender, nil, TransferRequest{Sender: "A123", Recipient: "B456", Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient B456")
}

func TestTransferRequestValidate(t *testing.T) {
	assert.ErrorIs(t, TransferRequest{Sender: "A", Recipient: "B", Amount: 0, TransactionID: "T"}.validate(), domain.ErrInvalidAmount)
	assert.ErrorIs(t, TransferRequest{Sender: "A", Recipient: "A", Amount: 1, TransactionID: "T"}.validate(), domain.ErrSelfTransfer)
	assert.ErrorIs(t, TransferRequest{Sender: "A", Recipient: "B", Amount: 1}.validate(), domain.ErrInvalidRequest)
}

func TestWithConflictRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient conflicts until success", func(t *testing.T) {
		s := &Store{cfg: Config{RetryBudget: 5 * time.Second}}
		calls := 0
		err := s.withConflictRetry(ctx, "transfer", func() error {
			calls++
			if calls < 3 {
				return fmt.Errorf("GetForUpdate: %w", domain.ErrTransientConflict)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		s := &Store{cfg: Config{RetryBudget: 5 * time.Second}}
		calls := 0
		err := s.withConflictRetry(ctx, "transfer", func() error {
			calls++
			return domain.ErrInsufficientFunds
		})
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Equal(t, 1, calls)
	})

	t.Run("spent budget surfaces a transient conflict", func(t *testing.T) {
		s := &Store{cfg: Config{RetryBudget: 100 * time.Millisecond}}
		err := s.withConflictRetry(ctx, "transfer", func() error {
			return fmt.Errorf("ApplyMovement: %w", domain.ErrVersionConflict)
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransientConflict)
		assert.Equal(t, domain.KindTransientStoreConflict, domain.KindOf(err))
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		s := &Store{cfg: Config{}}
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := s.withConflictRetry(cctx, "transfer", func() error {
			calls++
			cancel()
			return domain.ErrTransientConflict
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrTransientConflict) || errors.Is(err, context.Canceled))
		assert.Equal(t, 1, calls)
	})
}
