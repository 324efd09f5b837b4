// Package allowance issues scheduled and emergency balance credits.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/clearspend/clearspend/internal/account"
	"github.com/clearspend/clearspend/internal/metrics"
	"github.com/clearspend/clearspend/internal/money"
)

var (
	// ErrTooSoon means the allowance interval has not elapsed since the
	// last scheduled credit.
	ErrTooSoon = errors.New("allowance: interval not elapsed")

	// ErrPaused means the guardian has paused scheduled allowances.
	ErrPaused = errors.New("allowance: paused")

	// ErrOverCap means an emergency credit exceeds the configured cap.
	ErrOverCap = errors.New("allowance: amount over emergency cap")
)

// Service issues allowance credits against the account store. Immutable
// after construction.
type Service struct {
	store        account.Store
	weekly       *big.Int
	emergencyCap *big.Int
	interval     time.Duration
	logger       *slog.Logger
}

// NewService wires the allowance amounts and interval.
func NewService(store account.Store, weekly, emergencyCap *big.Int,
	interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		weekly:       new(big.Int).Set(weekly),
		emergencyCap: new(big.Int).Set(emergencyCap),
		interval:     interval,
		logger:       logger,
	}
}

// IssueScheduled credits the weekly allowance if the account is not paused
// and the interval has elapsed since the last scheduled credit.
func (s *Service) IssueScheduled(ctx context.Context, id string) (*account.Account, error) {
	acct, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Paused {
		return nil, ErrPaused
	}
	if !acct.LastAllowanceAt.IsZero() && time.Since(acct.LastAllowanceAt) < s.interval {
		return nil, fmt.Errorf("%w: next credit at %s", ErrTooSoon,
			acct.LastAllowanceAt.Add(s.interval).UTC().Format(time.RFC3339))
	}

	updated, err := s.store.Credit(ctx, id, s.weekly, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scheduled allowance issued",
		"account", id, "amount", money.Format(s.weekly), "balance", updated.BalanceString())
	metrics.AllowancesIssuedTotal.WithLabelValues("weekly").Inc()
	return updated, nil
}

// IssueEmergency credits an ad-hoc guardian top-up. It bypasses the
// interval and the pause flag but is bounded by the emergency cap, and it
// does not reset the scheduled-allowance clock.
func (s *Service) IssueEmergency(ctx context.Context, id string, amount *big.Int) (*account.Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("allowance: amount must be positive")
	}
	if amount.Cmp(s.emergencyCap) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrOverCap,
			money.Format(amount), money.Format(s.emergencyCap))
	}

	updated, err := s.store.Credit(ctx, id, amount, false)
	if err != nil {
		return nil, err
	}
	s.logger.Info("emergency allowance issued",
		"account", id, "amount", money.Format(amount), "balance", updated.BalanceString())
	metrics.AllowancesIssuedTotal.WithLabelValues("emergency").Inc()
	return updated, nil
}
