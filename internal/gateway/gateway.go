// Package gateway defines the ledger gateway contract: atomic submission
// of a settlement group and confirmation polling.
//
// The gateway's guarantee is all-or-nothing: if any operation in a group
// would fail on the ledger, no operation's effects are observable,
// including the value transfer. Callers rely on that guarantee instead of
// compensating partial commits.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrSubmissionFailed covers transport and validation failures during
	// submit. The group had no effect on the ledger.
	ErrSubmissionFailed = errors.New("gateway: submission failed")

	// ErrConfirmationTimeout means the poll budget was exhausted before
	// the ledger acknowledged the group. The transfer's true outcome is
	// unknown; it must not be assumed to have failed.
	ErrConfirmationTimeout = errors.New("gateway: confirmation timed out")
)

// Kind tags one settlement operation.
type Kind string

const (
	KindVerifyMerchant Kind = "verify_merchant"
	KindCheckLimits    Kind = "check_limits"
	KindTransferValue  Kind = "transfer_value"
)

// Operation is one atomic step within a group. Payload fields are
// kind-specific; unused fields stay zero.
type Operation struct {
	Kind      Kind     `json:"kind"`
	Merchant  string   `json:"merchant,omitempty"`  // verify_merchant
	Category  string   `json:"category,omitempty"`  // verify_merchant, check_limits
	Amount    *big.Int `json:"-"`                   // check_limits, transfer_value
	Recipient string   `json:"recipient,omitempty"` // transfer_value
}

// Group binds operations under one identifier for the atomicity guarantee.
type Group struct {
	ID         string      `json:"id"` // grp_...
	AccountID  string      `json:"accountId"`
	Operations []Operation `json:"operations"`
}

// Status of a confirmation poll.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// ConfirmationResult is the outcome of a single confirmation poll.
type ConfirmationResult struct {
	Status   Status
	AuditRef string // opaque ledger reference, set when confirmed
	Detail   string // failure detail, set when failed
}

// Gateway is the ledger boundary. Submit returns a submission reference
// for the group; Confirm performs one poll for that reference.
type Gateway interface {
	Submit(ctx context.Context, group *Group) (string, error)
	Confirm(ctx context.Context, ref string) (ConfirmationResult, error)
}

// WaitForConfirmation polls the gateway at a fixed interval until the
// group confirms, fails, the attempt budget runs out, or ctx is done.
// It also returns the number of polls performed. Exhausting the budget
// returns ErrConfirmationTimeout.
func WaitForConfirmation(ctx context.Context, gw Gateway, ref string,
	interval time.Duration, maxAttempts int) (ConfirmationResult, int, error) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ConfirmationResult{}, attempt - 1, ctx.Err()
		case <-ticker.C:
		}

		result, err := gw.Confirm(ctx, ref)
		if err != nil {
			return ConfirmationResult{}, attempt, fmt.Errorf("confirm %s: %w", ref, err)
		}
		if result.Status != StatusPending {
			return result, attempt, nil
		}
	}

	return ConfirmationResult{}, maxAttempts, fmt.Errorf("%w: %s after %d attempts", ErrConfirmationTimeout, ref, maxAttempts)
}
