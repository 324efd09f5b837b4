// Package account manages spending accounts: the available balance, the
// recent-transaction window consumed by risk checks, and allowance state.
//
// Balance mutation goes through the Store and happens only after a
// settlement is confirmed on the ledger; nothing in this package debits
// speculatively.
package account

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/clearspend/clearspend/internal/money"
)

var (
	ErrNotFound          = errors.New("account: not found")
	ErrAlreadyExists     = errors.New("account: already exists")
	ErrInsufficientFunds = errors.New("account: insufficient funds")
)

// RecentWindowSize bounds the per-account transaction ring. Entries older
// than the relevant check's window are filtered at read time, not evicted.
const RecentWindowSize = 256

// Account is the spending aggregate. Balance is in micro-units.
type Account struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"displayName"`
	Balance         *big.Int  `json:"-"`
	Paused          bool      `json:"paused"`
	ApprovedCount   int64     `json:"approvedCount"`
	DeniedCount     int64     `json:"deniedCount"`
	LastAllowanceAt time.Time `json:"lastAllowanceAt"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// BalanceString returns the balance as a fixed-point decimal string.
func (a *Account) BalanceString() string {
	return money.Format(a.Balance)
}

// TxRecord is one committed transaction in the account's history.
type TxRecord struct {
	ID            string    `json:"id"`       // txn_...
	GroupID       string    `json:"groupId"`  // grp_... settlement group
	Merchant      string    `json:"merchant"` // display name as submitted
	Category      string    `json:"category"`
	Amount        *big.Int  `json:"-"`
	AuditRef      string    `json:"auditRef"` // ledger transaction reference
	Justification string    `json:"justification,omitempty"`
	At            time.Time `json:"at"`
}

// Recap is a read-only spending summary over the account's recent window.
type Recap struct {
	AccountID    string            `json:"accountId"`
	Since        time.Time         `json:"since"`
	Transactions int               `json:"transactions"`
	TotalSpent   string            `json:"totalSpent"`
	ByCategory   map[string]string `json:"byCategory"`
	ApprovalRate float64           `json:"approvalRate"` // lifetime approved / decided
}

// Store is the persistence contract for accounts. Implementations must make
// Debit atomic: the balance decrement and the history append succeed or
// fail together.
type Store interface {
	// Create inserts a new account. Returns ErrAlreadyExists on ID conflict.
	Create(ctx context.Context, acct *Account) error

	// Get returns a copy of the account, or ErrNotFound.
	Get(ctx context.Context, id string) (*Account, error)

	// Credit adds amount to the balance and stamps LastAllowanceAt when
	// markAllowance is set. Returns the updated account.
	Credit(ctx context.Context, id string, amount *big.Int, markAllowance bool) (*Account, error)

	// Debit subtracts amount from the balance and appends rec to the
	// recent window, atomically. Returns ErrInsufficientFunds if the
	// balance would go negative.
	Debit(ctx context.Context, id string, amount *big.Int, rec TxRecord) (*Account, error)

	// SetPaused toggles the allowance pause flag.
	SetPaused(ctx context.Context, id string, paused bool) (*Account, error)

	// RecordDecision bumps the approved or denied counter.
	RecordDecision(ctx context.Context, id string, approved bool) error

	// Recent returns committed transactions at or after since, newest
	// last, bounded by the recent window.
	Recent(ctx context.Context, id string, since time.Time) ([]TxRecord, error)

	// History returns up to limit committed transactions, newest first.
	// A non-zero before restricts the page to transactions strictly older
	// than that instant, which is how cursor pagination walks backwards.
	History(ctx context.Context, id string, limit int, before time.Time) ([]TxRecord, error)
}

// BuildRecap summarizes the account's committed spending since the given
// time. Approval rate is lifetime, not windowed.
func BuildRecap(ctx context.Context, store Store, id string, since time.Time) (*Recap, error) {
	acct, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	recent, err := store.Recent(ctx, id, since)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	byCat := make(map[string]*big.Int)
	for _, rec := range recent {
		total.Add(total, rec.Amount)
		if _, ok := byCat[rec.Category]; !ok {
			byCat[rec.Category] = new(big.Int)
		}
		byCat[rec.Category].Add(byCat[rec.Category], rec.Amount)
	}

	formatted := make(map[string]string, len(byCat))
	for cat, amt := range byCat {
		formatted[cat] = money.Format(amt)
	}

	rate := 0.0
	if decided := acct.ApprovedCount + acct.DeniedCount; decided > 0 {
		rate = float64(acct.ApprovedCount) / float64(decided)
	}

	return &Recap{
		AccountID:    id,
		Since:        since,
		Transactions: len(recent),
		TotalSpent:   money.Format(total),
		ByCategory:   formatted,
		ApprovalRate: rate,
	}, nil
}
