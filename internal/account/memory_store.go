package account

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// MemoryStore is an in-memory account store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*Account
	recent   map[string][]TxRecord // bounded ring, oldest first
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		recent:   make(map[string][]TxRecord),
	}
}

func (m *MemoryStore) Create(ctx context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.ID]; ok {
		return ErrAlreadyExists
	}

	cp := *acct
	if cp.Balance == nil {
		cp.Balance = new(big.Int)
	} else {
		cp.Balance = new(big.Int).Set(acct.Balance)
	}
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.accounts[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(acct), nil
}

func (m *MemoryStore) Credit(ctx context.Context, id string, amount *big.Int, markAllowance bool) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}

	acct.Balance = new(big.Int).Add(acct.Balance, amount)
	if markAllowance {
		acct.LastAllowanceAt = time.Now()
	}
	acct.UpdatedAt = time.Now()
	return copyAccount(acct), nil
}

func (m *MemoryStore) Debit(ctx context.Context, id string, amount *big.Int, rec TxRecord) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if acct.Balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}

	acct.Balance = new(big.Int).Sub(acct.Balance, amount)
	acct.UpdatedAt = time.Now()

	rec.Amount = new(big.Int).Set(rec.Amount)
	ring := append(m.recent[id], rec)
	if len(ring) > RecentWindowSize {
		ring = ring[len(ring)-RecentWindowSize:]
	}
	m.recent[id] = ring

	return copyAccount(acct), nil
}

func (m *MemoryStore) SetPaused(ctx context.Context, id string, paused bool) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	acct.Paused = paused
	acct.UpdatedAt = time.Now()
	return copyAccount(acct), nil
}

func (m *MemoryStore) RecordDecision(ctx context.Context, id string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if approved {
		acct.ApprovedCount++
	} else {
		acct.DeniedCount++
	}
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, id string, since time.Time) ([]TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[id]; !ok {
		return nil, ErrNotFound
	}

	// Expired entries stay in the ring; they are filtered here.
	var result []TxRecord
	for _, rec := range m.recent[id] {
		if !rec.At.Before(since) {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (m *MemoryStore) History(ctx context.Context, id string, limit int, before time.Time) ([]TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[id]; !ok {
		return nil, ErrNotFound
	}

	ring := m.recent[id]
	var result []TxRecord
	for i := len(ring) - 1; i >= 0 && len(result) < limit; i-- {
		if !before.IsZero() && !ring[i].At.Before(before) {
			continue
		}
		result = append(result, ring[i])
	}
	return result, nil
}

func copyAccount(acct *Account) *Account {
	cp := *acct
	cp.Balance = new(big.Int).Set(acct.Balance)
	return &cp
}

var _ Store = (*MemoryStore)(nil)
