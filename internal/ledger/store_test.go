package ledger_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/ledger"
	"github.com/josh-kwaku/ledger-saga/internal/repository"
	"github.com/josh-kwaku/ledger-saga/internal/testutil"
)

func setupStore(t *testing.T, db *sql.DB) *ledger.Store {
	t.Helper()
	return ledger.NewStore(repository.NewDB(db), ledger.Config{
		RetryBudget:           10 * time.Second,
		DefaultInitialBalance: 1_000_000,
	}, nil)
}

func TestExecuteTransfer_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	testutil.SeedAccount(t, db, "A123", 100000)
	testutil.SeedAccount(t, db, "B456", 5000)

	j, err := store.ExecuteTransfer(ctx, ledger.TransferRequest{
		Sender: "A123", Recipient: "B456", Amount: 25000, TransactionID: "REF1", Description: "rent",
	})
	require.NoError(t, err)
	assert.Equal(t, "REF1", j.TransactionID)
	assert.Equal(t, int64(25000), j.DebitAmount)
	assert.Equal(t, j.DebitAmount, j.CreditAmount)
	assert.True(t, j.Committed)
	assert.Equal(t, domain.JournalStatusCompleted, j.Status)

	bal, avail := testutil.GetBalances(t, db, "A123")
	assert.Equal(t, int64(75000), bal)
	assert.Equal(t, int64(75000), avail)
	bal, avail = testutil.GetBalances(t, db, "B456")
	assert.Equal(t, int64(30000), bal)
	assert.Equal(t, int64(30000), avail)

	assert.Equal(t, 1, testutil.CountRows(t, db, "transaction_journal", "transaction_id = $1", "REF1"))
	assert.Equal(t, 2, testutil.CountRows(t, db, "balance_updates", "transaction_id = $1 AND session_id = $2", "REF1", j.SessionID))

	history, err := store.GetHistory(ctx, "A123", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.OperationDebit, history[0].Operation)
	assert.Equal(t, int64(100000), history[0].PreviousBalance)
	assert.Equal(t, int64(75000), history[0].NewBalance)

	acct, err := store.GetAccount(ctx, "B456")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.TransactionCount)
	assert.Equal(t, int64(25000), acct.TotalDeposits)
	assert.NotNil(t, acct.LastTransactionAt)
}

func TestExecuteTransfer_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	testutil.SeedAccount(t, db, "A123", 1000)
	testutil.SeedAccount(t, db, "B456", 5000)

	_, err := store.ExecuteTransfer(ctx, ledger.TransferRequest{
		Sender: "A123", Recipient: "B456", Amount: 5000, TransactionID: "REF2",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, avail := testutil.GetBalances(t, db, "A123")
	assert.Equal(t, int64(1000), bal)
	assert.Equal(t, int64(1000), avail)
	bal, _ = testutil.GetBalances(t, db, "B456")
	assert.Equal(t, int64(5000), bal)
	assert.Equal(t, 0, testutil.CountRows(t, db, "balance_updates", ""))
	assert.Equal(t, 0, testutil.CountRows(t, db, "transaction_journal", ""))
}

func TestExecuteTransfer_MissingAccounts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	testutil.SeedAccount(t, db, "A123", 1000)

	_, err := store.ExecuteTransfer(ctx, ledger.TransferRequest{
		Sender: "ZZZ", Recipient: "A123", Amount: 10, TransactionID: "REF3",
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, err = store.ExecuteTransfer(ctx, ledger.TransferRequest{
		Sender: "A123", Recipient: "ZZZ", Amount: 10, TransactionID: "REF4",
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.ErrorContains(t, err, "recipient")

	bal, _ := testutil.GetBalances(t, db, "A123")
	assert.Equal(t, int64(1000), bal)
}

func TestExecuteTransfer_DuplicateTransactionID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	testutil.SeedAccount(t, db, "A123", 10000)
	testutil.SeedAccount(t, db, "B456", 0)

	req := ledger.TransferRequest{Sender: "A123", Recipient: "B456", Amount: 100, TransactionID: "REF5"}
	_, err := store.ExecuteTransfer(ctx, req)
	require.NoError(t, err)

	_, err = store.ExecuteTransfer(ctx, req)
	require.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	bal, _ := testutil.GetBalances(t, db, "A123")
	assert.Equal(t, int64(9900), bal)
}

func TestExecuteTransfer_ConcurrentOverdraft(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	testutil.SeedAccount(t, db, "A123", 10000)
	testutil.SeedAccount(t, db, "B456", 0)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := store.ExecuteTransfer(ctx, ledger.TransferRequest{
				Sender: "A123", Recipient: "B456", Amount: 7000, TransactionID: fmt.Sprintf("REF-OD-%d", idx),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			failures++
		}
	}
	assert.Equal(t, 1, successes, "exactly one transfer should succeed")
	assert.Equal(t, 1, failures, "exactly one transfer should fail")

	bal, _ := testutil.GetBalances(t, db, "A123")
	assert.Equal(t, int64(3000), bal)
}

func TestExecuteTransfer_ConservesTotal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	accounts := []string{"A1", "A2", "A3", "A4"}
	for _, n := range accounts {
		testutil.SeedAccount(t, db, n, 50000)
	}
	before := testutil.SumBalances(t, db)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := accounts[i%len(accounts)]
			to := accounts[(i+1+i/len(accounts))%len(accounts)]
			if from == to {
				to = accounts[(i+2)%len(accounts)]
			}
			// failures for lack of funds are fine; the total must still hold
			_, _ = store.ExecuteTransfer(ctx, ledger.TransferRequest{
				Sender: from, Recipient: to, Amount: int64(1000 + i*100), TransactionID: fmt.Sprintf("CONS-%d", i),
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, before, testutil.SumBalances(t, db))

	var debits, credits int64
	require.NoError(t, db.QueryRow(`SELECT COALESCE(SUM(debit_amount),0), COALESCE(SUM(credit_amount),0) FROM transaction_journal`).Scan(&debits, &credits))
	assert.Equal(t, debits, credits)
	journals := testutil.CountRows(t, db, "transaction_journal", "")
	assert.Equal(t, journals*2, testutil.CountRows(t, db, "balance_updates", ""))
}

func TestHolds_RoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	testutil.SeedAccount(t, db, "A123", 10000)

	holdID, err := store.PlaceHold(ctx, ledger.HoldRequest{AccountNumber: "A123", Amount: 4000, TransactionID: "REF6"})
	require.NoError(t, err)
	assert.Regexp(t, `^HOLD_[0-9A-F]{8}$`, holdID)

	bal, err := store.GetBalance(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.Balance)
	assert.Equal(t, int64(6000), bal.AvailableBalance)

	acct, err := store.GetAccount(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, []string{holdID}, acct.ActiveHolds)

	holds, err := store.ListHolds(ctx, "A123")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, domain.DefaultHoldReason, holds[0].Reason)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), holds[0].ExpiresAt, time.Minute)

	_, err = store.PlaceHold(ctx, ledger.HoldRequest{AccountNumber: "A123", Amount: 7000, TransactionID: "REF7"})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	released, err := store.ReleaseHold(ctx, holdID)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = store.ReleaseHold(ctx, holdID)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = store.ReleaseHold(ctx, "HOLD_DEADBEEF")
	require.NoError(t, err)
	assert.False(t, released)

	bal, err = store.GetBalance(ctx, "A123")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.Balance)
	assert.Equal(t, int64(10000), bal.AvailableBalance)

	acct, err = store.GetAccount(ctx, "A123")
	require.NoError(t, err)
	assert.Empty(t, acct.ActiveHolds)
}

func TestHolds_BlockTransfersOfHeldFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	testutil.SeedAccount(t, db, "A123", 10000)
	testutil.SeedAccount(t, db, "B456", 0)

	_, err := store.PlaceHold(ctx, ledger.HoldRequest{AccountNumber: "A123", Amount: 8000, TransactionID: "REF8"})
	require.NoError(t, err)

	_, err = store.ExecuteTransfer(ctx, ledger.TransferRequest{Sender: "A123", Recipient: "B456", Amount: 5000, TransactionID: "REF9"})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	ok, available, err := store.CheckFunds(ctx, "A123", 2000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2000), available)
}

func TestGetOrCreateAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	a, err := store.GetOrCreateAccount(ctx, ledger.OpenAccount{AccountNumber: "A123", CustomerName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), a.Balance)
	assert.Equal(t, int64(1_000_000), a.AvailableBalance)
	assert.Equal(t, domain.AccountTypeChecking, a.AccountType)
	assert.Equal(t, domain.AccountStatusActive, a.Status)
	assert.Regexp(t, `^CUST_[0-9A-F]{8}$`, a.CustomerID)

	initial := int64(5)
	again, err := store.GetOrCreateAccount(ctx, ledger.OpenAccount{AccountNumber: "A123", CustomerName: "Someone Else", InitialBalance: &initial})
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.CustomerName)
	assert.Equal(t, int64(1_000_000), again.Balance)

	_, err = store.GetAccount(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	_, _, err = store.CheckFunds(ctx, "NOPE", 1)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestGetHistory_NewestFirst(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := setupStore(t, db)
	ctx := context.Background()

	testutil.SeedAccount(t, db, "A123", 100000)
	testutil.SeedAccount(t, db, "B456", 0)

	for i := 1; i <= 12; i++ {
		_, err := store.ExecuteTransfer(ctx, ledger.TransferRequest{
			Sender: "A123", Recipient: "B456", Amount: int64(i), TransactionID: fmt.Sprintf("H-%d", i),
		})
		require.NoError(t, err)
	}

	history, err := store.GetHistory(ctx, "A123", 0)
	require.NoError(t, err)
	require.Len(t, history, 10)
	assert.Equal(t, "H-12", history[0].TransactionID)
	assert.Equal(t, "H-3", history[9].TransactionID)

	_, err = store.GetHistory(ctx, "NOPE", 5)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}
