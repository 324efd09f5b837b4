package account

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clearspend/clearspend/internal/money"
	"github.com/clearspend/clearspend/internal/testutil"
)

func TestPostgresStore_DebitAtomic(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Account{
		ID:          "acct_pg_1",
		DisplayName: "Test Teen",
		Balance:     money.MustParse("150.00"),
	}))

	updated, err := store.Debit(ctx, "acct_pg_1", money.MustParse("30.00"), TxRecord{
		ID:            "txn_pg_1",
		GroupID:       "grp_pg_1",
		Merchant:      "Khan Academy",
		Category:      "Education",
		Amount:        money.MustParse("30.00"),
		AuditRef:      "0xabc",
		Justification: "SAT prep course",
		At:            time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, "120.000000", updated.BalanceString())

	recent, err := store.Recent(ctx, "acct_pg_1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "txn_pg_1", recent[0].ID)
	require.Equal(t, "30.000000", money.Format(recent[0].Amount))
	require.Equal(t, "SAT prep course", recent[0].Justification)
}

func TestPostgresStore_DebitInsufficientFunds(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Account{
		ID:      "acct_pg_2",
		Balance: money.MustParse("10.00"),
	}))

	_, err := store.Debit(ctx, "acct_pg_2", money.MustParse("30.00"), TxRecord{
		ID: "txn_pg_2", Amount: money.MustParse("30.00"), At: time.Now(),
	})
	require.True(t, errors.Is(err, ErrInsufficientFunds))

	acct, err := store.Get(ctx, "acct_pg_2")
	require.NoError(t, err)
	require.Equal(t, "10.000000", acct.BalanceString())

	recent, err := store.Recent(ctx, "acct_pg_2", time.Time{})
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestPostgresStore_RecentKeepsNewestWhenOverWindow(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Account{
		ID:      "acct_pg_window",
		Balance: money.MustParse("10000.00"),
	}))

	total := RecentWindowSize + 10
	base := time.Now().Add(-time.Duration(total) * time.Second)
	for i := 0; i < total; i++ {
		_, err := store.Debit(ctx, "acct_pg_window", money.MustParse("0.01"), TxRecord{
			ID:     fmt.Sprintf("txn_pg_w_%03d", i),
			Amount: money.MustParse("0.01"),
			At:     base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	recent, err := store.Recent(ctx, "acct_pg_window", time.Time{})
	require.NoError(t, err)
	require.Len(t, recent, RecentWindowSize)

	// Overflow drops the oldest rows, never the newest, and order stays
	// oldest first like the memory ring.
	require.Equal(t, fmt.Sprintf("txn_pg_w_%03d", total-RecentWindowSize), recent[0].ID)
	require.Equal(t, fmt.Sprintf("txn_pg_w_%03d", total-1), recent[len(recent)-1].ID)
}

func TestPostgresStore_CreditAndPause(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Account{
		ID:      "acct_pg_3",
		Balance: money.MustParse("0"),
	}))

	acct, err := store.Credit(ctx, "acct_pg_3", money.MustParse("25.00"), true)
	require.NoError(t, err)
	require.Equal(t, "25.000000", acct.BalanceString())
	require.False(t, acct.LastAllowanceAt.IsZero())

	acct, err = store.SetPaused(ctx, "acct_pg_3", true)
	require.NoError(t, err)
	require.True(t, acct.Paused)

	_, err = store.Credit(ctx, "acct_pg_missing", money.MustParse("1.00"), false)
	require.True(t, errors.Is(err, ErrNotFound))
}
