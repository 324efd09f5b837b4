// Package policy implements the deterministic spending rules: restricted
// categories, the per-period spending limit, and balance sufficiency.
//
// Evaluation is a pure function of the request plus configuration captured
// at construction; there are no side effects and no clock or store access.
package policy

import "math/big"

// Denial identifies which rule rejected a request.
type Denial string

const (
	DenialCategoryRestricted Denial = "category_restricted"
	DenialLimitExceeded      Denial = "limit_exceeded"
	DenialInsufficientFunds  Denial = "insufficient_funds"
)

// Verdict is the outcome of policy evaluation. Denials are values, not
// errors; a denied purchase is a correct result.
type Verdict struct {
	Allowed bool
	Denial  Denial
}

// Evaluator holds the configured rule inputs. Immutable after construction.
type Evaluator struct {
	restricted map[string]struct{}
	limit      *big.Int
}

// NewEvaluator builds an Evaluator from the restricted-category set and the
// per-period spending limit (micro-units).
func NewEvaluator(restricted []string, limit *big.Int) *Evaluator {
	set := make(map[string]struct{}, len(restricted))
	for _, c := range restricted {
		set[c] = struct{}{}
	}
	return &Evaluator{
		restricted: set,
		limit:      new(big.Int).Set(limit),
	}
}

// Evaluate applies the rules in a fixed order and stops at the first
// violation:
//
//  1. restricted category
//  2. amount over the spending limit
//  3. amount over the available balance
func (e *Evaluator) Evaluate(category string, amount, balance *big.Int) Verdict {
	if _, ok := e.restricted[category]; ok {
		return Verdict{Denial: DenialCategoryRestricted}
	}
	if amount.Cmp(e.limit) > 0 {
		return Verdict{Denial: DenialLimitExceeded}
	}
	if amount.Cmp(balance) > 0 {
		return Verdict{Denial: DenialInsufficientFunds}
	}
	return Verdict{Allowed: true}
}
