// Package settlement builds operation groups and drives approved purchases
// through the ledger to a terminal state.
package settlement

import (
	"fmt"

	"github.com/clearspend/clearspend/internal/decision"
	"github.com/clearspend/clearspend/internal/gateway"
	"github.com/clearspend/clearspend/internal/idgen"
	"github.com/clearspend/clearspend/internal/reputation"
)

// Builder assembles the fixed three-operation group for an approved purchase.
type Builder struct {
	addresses        map[reputation.MerchantID]string
	defaultRecipient string
}

// NewBuilder creates a builder. addresses maps normalized merchant IDs to
// on-chain recipients; merchants without an entry fall back to defaultRecipient.
func NewBuilder(addresses map[string]string, defaultRecipient string) *Builder {
	resolved := make(map[reputation.MerchantID]string, len(addresses))
	for name, addr := range addresses {
		resolved[reputation.Normalize(name)] = addr
	}
	return &Builder{addresses: resolved, defaultRecipient: defaultRecipient}
}

// Build produces the operation group for an approved request. The group always
// holds exactly verify_merchant, check_limits, transfer_value in that order.
func (b *Builder) Build(req decision.Request) *gateway.Group {
	recipient, ok := b.addresses[req.MerchantID]
	if !ok {
		recipient = b.defaultRecipient
	}
	return &gateway.Group{
		ID:        idgen.WithPrefix("grp_"),
		AccountID: req.AccountID,
		Operations: []gateway.Operation{
			{Kind: gateway.KindVerifyMerchant, Merchant: req.Merchant, Category: req.Category},
			{Kind: gateway.KindCheckLimits, Category: req.Category, Amount: req.Amount},
			{Kind: gateway.KindTransferValue, Amount: req.Amount, Recipient: recipient},
		},
	}
}

// Validate checks that a group has the required shape before submission.
func Validate(group *gateway.Group) error {
	if group == nil || group.ID == "" {
		return fmt.Errorf("group missing id")
	}
	if group.AccountID == "" {
		return fmt.Errorf("group %s missing account", group.ID)
	}
	want := []gateway.Kind{gateway.KindVerifyMerchant, gateway.KindCheckLimits, gateway.KindTransferValue}
	if len(group.Operations) != len(want) {
		return fmt.Errorf("group %s has %d operations, want %d", group.ID, len(group.Operations), len(want))
	}
	for i, kind := range want {
		if group.Operations[i].Kind != kind {
			return fmt.Errorf("group %s operation %d is %s, want %s", group.ID, i, group.Operations[i].Kind, kind)
		}
	}
	return nil
}
