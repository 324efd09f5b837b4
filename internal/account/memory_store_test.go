package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clearspend/clearspend/internal/money"
)

func newTestAccount(t *testing.T, store Store, id, balance string) *Account {
	t.Helper()
	acct := &Account{ID: id, DisplayName: "Test Teen", Balance: money.MustParse(balance)}
	if err := store.Create(context.Background(), acct); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	newTestAccount(t, store, "acct_1", "150.00")

	got, err := store.Get(ctx, "acct_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BalanceString() != "150.000000" {
		t.Errorf("balance = %s, want 150.000000", got.BalanceString())
	}

	if err := store.Create(ctx, &Account{ID: "acct_1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrAlreadyExists", err)
	}
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing get err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newTestAccount(t, store, "acct_1", "150.00")

	first, _ := store.Get(ctx, "acct_1")
	first.Balance.SetInt64(0)

	second, _ := store.Get(ctx, "acct_1")
	if second.BalanceString() != "150.000000" {
		t.Error("mutating a returned account leaked into the store")
	}
}

func TestMemoryStore_Debit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newTestAccount(t, store, "acct_1", "150.00")

	rec := TxRecord{
		ID:       "txn_1",
		GroupID:  "grp_1",
		Merchant: "Khan Academy",
		Category: "Education",
		Amount:   money.MustParse("30.00"),
		At:       time.Now(),
	}
	updated, err := store.Debit(ctx, "acct_1", money.MustParse("30.00"), rec)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if updated.BalanceString() != "120.000000" {
		t.Errorf("balance = %s, want 120.000000", updated.BalanceString())
	}

	recent, err := store.Recent(ctx, "acct_1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "txn_1" {
		t.Fatalf("recent = %+v, want the debited record", recent)
	}
}

func TestMemoryStore_DebitInsufficientFunds(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newTestAccount(t, store, "acct_1", "10.00")

	_, err := store.Debit(ctx, "acct_1", money.MustParse("30.00"), TxRecord{
		ID: "txn_1", Amount: money.MustParse("30.00"), At: time.Now(),
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	acct, _ := store.Get(ctx, "acct_1")
	if acct.BalanceString() != "10.000000" {
		t.Errorf("failed debit changed balance: %s", acct.BalanceString())
	}
	if recent, _ := store.Recent(ctx, "acct_1", time.Time{}); len(recent) != 0 {
		t.Errorf("failed debit recorded a transaction: %+v", recent)
	}
}

func TestMemoryStore_RecentFiltersByAge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newTestAccount(t, store, "acct_1", "1000.00")

	old := TxRecord{ID: "txn_old", Amount: money.MustParse("1.00"), At: time.Now().Add(-time.Hour)}
	fresh := TxRecord{ID: "txn_new", Amount: money.MustParse("1.00"), At: time.Now()}
	if _, err := store.Debit(ctx, "acct_1", old.Amount, old); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Debit(ctx, "acct_1", fresh.Amount, fresh); err != nil {
		t.Fatal(err)
	}

	recent, err := store.Recent(ctx, "acct_1", time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].ID != "txn_new" {
		t.Errorf("recent = %+v, want only txn_new", recent)
	}
}

func TestMemoryStore_RingBounded(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newTestAccount(t, store, "acct_1", "10000.00")

	for i := 0; i < RecentWindowSize+10; i++ {
		rec := TxRecord{
			ID:     "txn_" + string(rune('a'+i%26)),
			Amount: money.MustParse("0.01"),
			At:     time.Now(),
		}
		if _, err := store.Debit(ctx, "acct_1", rec.Amount, rec); err != nil {
			t.Fatal(err)
		}
	}

	recent, _ := store.Recent(ctx, "acct_1", time.Time{})
	if len(recent) != RecentWindowSize {
		t.Errorf("ring size = %d, want %d", len(recent), RecentWindowSize)
	}
}

func TestMemoryStore_HistoryPaged(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newTestAccount(t, store, "acct_1", "1000.00")

	base := time.Now().Add(-time.Hour)
	ids := []string{"txn_1", "txn_2", "txn_3", "txn_4"}
	for i, id := range ids {
		rec := TxRecord{ID: id, Amount: money.MustParse("1.00"), At: base.Add(time.Duration(i) * time.Minute)}
		if _, err := store.Debit(ctx, "acct_1", rec.Amount, rec); err != nil {
			t.Fatal(err)
		}
	}

	page, err := store.History(ctx, "acct_1", 2, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "txn_4" || page[1].ID != "txn_3" {
		t.Fatalf("first page = %+v, want txn_4, txn_3", page)
	}

	// Walk to the next page using the oldest timestamp of the first page.
	page, err = store.History(ctx, "acct_1", 2, page[1].At)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "txn_2" || page[1].ID != "txn_1" {
		t.Fatalf("second page = %+v, want txn_2, txn_1", page)
	}

	if _, err := store.History(ctx, "missing", 10, time.Time{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_PauseAndDecisions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newTestAccount(t, store, "acct_1", "50.00")

	acct, err := store.SetPaused(ctx, "acct_1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Paused {
		t.Error("expected paused account")
	}

	_ = store.RecordDecision(ctx, "acct_1", true)
	_ = store.RecordDecision(ctx, "acct_1", true)
	_ = store.RecordDecision(ctx, "acct_1", false)

	acct, _ = store.Get(ctx, "acct_1")
	if acct.ApprovedCount != 2 || acct.DeniedCount != 1 {
		t.Errorf("counters = %d/%d, want 2/1", acct.ApprovedCount, acct.DeniedCount)
	}
}

func TestBuildRecap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newTestAccount(t, store, "acct_1", "200.00")

	now := time.Now()
	for _, rec := range []TxRecord{
		{ID: "txn_1", Merchant: "Khan Academy", Category: "Education", Amount: money.MustParse("30.00"), At: now},
		{ID: "txn_2", Merchant: "Spotify", Category: "Entertainment", Amount: money.MustParse("9.99"), At: now},
		{ID: "txn_3", Merchant: "Khan Academy", Category: "Education", Amount: money.MustParse("10.00"), At: now},
	} {
		if _, err := store.Debit(ctx, "acct_1", rec.Amount, rec); err != nil {
			t.Fatal(err)
		}
	}
	_ = store.RecordDecision(ctx, "acct_1", true)
	_ = store.RecordDecision(ctx, "acct_1", true)
	_ = store.RecordDecision(ctx, "acct_1", true)
	_ = store.RecordDecision(ctx, "acct_1", false)

	recap, err := BuildRecap(ctx, store, "acct_1", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if recap.Transactions != 3 {
		t.Errorf("transactions = %d, want 3", recap.Transactions)
	}
	if recap.TotalSpent != "49.990000" {
		t.Errorf("total = %s, want 49.990000", recap.TotalSpent)
	}
	if recap.ByCategory["Education"] != "40.000000" {
		t.Errorf("education total = %s, want 40.000000", recap.ByCategory["Education"])
	}
	if recap.ApprovalRate != 0.75 {
		t.Errorf("approval rate = %v, want 0.75", recap.ApprovalRate)
	}
}
