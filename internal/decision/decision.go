// Package decision composes risk scoring, pattern detection, merchant
// trust lookups, and policy rules into a single purchase decision.
//
// Checks run in a fixed deny-fast order with the most specific signals
// first, so the caller always sees the highest-confidence denial reason
// even when several rules would independently deny the request.
package decision

import (
	"math/big"
	"time"

	"github.com/clearspend/clearspend/internal/account"
	"github.com/clearspend/clearspend/internal/policy"
	"github.com/clearspend/clearspend/internal/reputation"
	"github.com/clearspend/clearspend/internal/risk"
)

// Reason is the closed set of denial reasons.
type Reason string

const (
	ReasonHighFraudRisk         Reason = "high_fraud_risk"
	ReasonSuspiciousPattern     Reason = "suspicious_pattern"
	ReasonLowMerchantReputation Reason = "low_merchant_reputation"
	ReasonBlacklistedMerchant   Reason = "blacklisted_merchant"
	ReasonCategoryRestricted    Reason = "category_restricted"
	ReasonLimitExceeded         Reason = "limit_exceeded"
	ReasonInsufficientFunds     Reason = "insufficient_funds"
)

// Message returns a caller-facing description of the denial.
func (r Reason) Message() string {
	switch r {
	case ReasonHighFraudRisk:
		return "purchase blocked: fraud risk too high"
	case ReasonSuspiciousPattern:
		return "purchase blocked: suspicious activity pattern"
	case ReasonLowMerchantReputation:
		return "purchase blocked: merchant reputation below minimum"
	case ReasonBlacklistedMerchant:
		return "purchase blocked: merchant is blacklisted"
	case ReasonCategoryRestricted:
		return "purchase denied: category is restricted"
	case ReasonLimitExceeded:
		return "purchase denied: over the spending limit"
	case ReasonInsufficientFunds:
		return "purchase denied: insufficient funds"
	default:
		return "purchase denied"
	}
}

// Request is one purchase request, created and discarded within a single
// settlement call.
type Request struct {
	AccountID     string
	Merchant      string // display name as submitted
	MerchantID    reputation.MerchantID
	Category      string
	Amount        *big.Int // micro-units
	Justification string   // optional free-text note from the teen
}

// Decision is the outcome of the full check chain. A denial is a value,
// not an error.
type Decision struct {
	Approved   bool
	Reason     Reason // empty when approved
	RiskScore  float64
	Suspicious bool
}

// Engine runs the decision chain. Immutable after construction.
type Engine struct {
	scorer          *risk.Scorer
	table           *reputation.Table
	policy          *policy.Evaluator
	blockThreshold  float64
	reputationFloor float64
}

// NewEngine wires the scorer, merchant table, and policy evaluator with the
// configured thresholds.
func NewEngine(scorer *risk.Scorer, table *reputation.Table, pol *policy.Evaluator,
	blockThreshold, reputationFloor float64) *Engine {
	return &Engine{
		scorer:          scorer,
		table:           table,
		policy:          pol,
		blockThreshold:  blockThreshold,
		reputationFloor: reputationFloor,
	}
}

// Decide evaluates the request against a balance snapshot and the recent
// transaction history. Every outcome is a Decision value; Decide is a pure
// function of its inputs.
func (e *Engine) Decide(req Request, balance *big.Int,
	history []account.TxRecord, now time.Time) Decision {

	d := Decision{
		RiskScore:  e.scorer.Score(req.MerchantID, req.Amount, req.Category, history, now),
		Suspicious: e.scorer.DetectPattern(req.Amount, req.MerchantID, history, now),
	}

	if d.RiskScore >= e.blockThreshold {
		d.Reason = ReasonHighFraudRisk
		return d
	}
	if d.Suspicious {
		d.Reason = ReasonSuspiciousPattern
		return d
	}
	if e.table.Score(req.MerchantID) < e.reputationFloor {
		d.Reason = ReasonLowMerchantReputation
		return d
	}
	if e.table.Blocked(req.MerchantID) {
		d.Reason = ReasonBlacklistedMerchant
		return d
	}

	verdict := e.policy.Evaluate(req.Category, req.Amount, balance)
	if !verdict.Allowed {
		d.Reason = policyReason(verdict.Denial)
		return d
	}

	d.Approved = true
	return d
}

func policyReason(denial policy.Denial) Reason {
	switch denial {
	case policy.DenialCategoryRestricted:
		return ReasonCategoryRestricted
	case policy.DenialLimitExceeded:
		return ReasonLimitExceeded
	case policy.DenialInsufficientFunds:
		return ReasonInsufficientFunds
	default:
		return Reason(denial)
	}
}
