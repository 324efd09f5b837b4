package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/clearspend/clearspend/internal/money"
)

// PostgresStore is a PostgreSQL-backed account store.
// Amounts are stored as NUMERIC(20,6) and converted at the boundary.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, acct *Account) error {
	balance := acct.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, balance, paused, approved_count, denied_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, NOW(), NOW())
	`, acct.ID, acct.DisplayName, money.Format(balance), acct.Paused)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	return p.get(ctx, p.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresStore) get(ctx context.Context, q queryRower, id string) (*Account, error) {
	var (
		acct        Account
		balance     string
		allowanceAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, display_name, balance, paused, approved_count, denied_count, last_allowance_at, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&acct.ID, &acct.DisplayName, &balance, &acct.Paused,
		&acct.ApprovedCount, &acct.DeniedCount, &allowanceAt, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	acct.Balance, _ = money.Parse(balance)
	if allowanceAt.Valid {
		acct.LastAllowanceAt = allowanceAt.Time
	}
	return &acct, nil
}

func (p *PostgresStore) Credit(ctx context.Context, id string, amount *big.Int, markAllowance bool) (*Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`
	if markAllowance {
		query = `
			UPDATE accounts
			SET balance = balance + $2, last_allowance_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`
	}

	res, err := p.db.ExecContext(ctx, query, id, money.Format(amount))
	if err != nil {
		return nil, fmt.Errorf("credit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return p.Get(ctx, id)
}

// Debit decrements the balance and appends the transaction record in one
// database transaction. The balance guard is in the UPDATE itself so two
// concurrent debits cannot both pass a stale check.
func (p *PostgresStore) Debit(ctx context.Context, id string, amount *big.Int, rec TxRecord) (*Account, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin debit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
	`, id, money.Format(amount))
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish missing account from insufficient funds.
		if _, err := p.get(ctx, tx, id); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_transactions (id, account_id, group_id, merchant, category, amount, audit_ref, justification, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, id, rec.GroupID, rec.Merchant, rec.Category, money.Format(rec.Amount), rec.AuditRef, rec.Justification, rec.At)
	if err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	acct, err := p.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit debit: %w", err)
	}
	return acct, nil
}

func (p *PostgresStore) SetPaused(ctx context.Context, id string, paused bool) (*Account, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET paused = $2, updated_at = NOW() WHERE id = $1
	`, id, paused)
	if err != nil {
		return nil, fmt.Errorf("set paused: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return p.Get(ctx, id)
}

func (p *PostgresStore) RecordDecision(ctx context.Context, id string, approved bool) error {
	column := "denied_count"
	if approved {
		column = "approved_count"
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE accounts SET `+column+` = `+column+` + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Recent(ctx context.Context, id string, since time.Time) ([]TxRecord, error) {
	if _, err := p.Get(ctx, id); err != nil {
		return nil, err
	}

	// Take the newest rows in the window, then restore oldest-first order.
	// Ascending with the limit would evict the newest rows instead, unlike
	// the memory ring which drops the oldest.
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, group_id, merchant, category, amount, audit_ref, justification, occurred_at
		FROM account_transactions
		WHERE account_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`, id, since, RecentWindowSize)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (p *PostgresStore) History(ctx context.Context, id string, limit int, before time.Time) ([]TxRecord, error) {
	if _, err := p.Get(ctx, id); err != nil {
		return nil, err
	}

	query := `
		SELECT id, group_id, merchant, category, amount, audit_ref, justification, occurred_at
		FROM account_transactions
		WHERE account_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	args := []any{id, limit}
	if !before.IsZero() {
		query = `
			SELECT id, group_id, merchant, category, amount, audit_ref, justification, occurred_at
			FROM account_transactions
			WHERE account_id = $1 AND occurred_at < $3
			ORDER BY occurred_at DESC
			LIMIT $2
		`
		args = append(args, before)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("transaction history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]TxRecord, error) {
	var result []TxRecord
	for rows.Next() {
		var (
			rec    TxRecord
			amount string
		)
		if err := rows.Scan(&rec.ID, &rec.GroupID, &rec.Merchant, &rec.Category,
			&amount, &rec.AuditRef, &rec.Justification, &rec.At); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		rec.Amount, _ = money.Parse(amount)
		result = append(result, rec)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
