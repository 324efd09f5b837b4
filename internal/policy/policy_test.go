package policy

import (
	"testing"

	"github.com/clearspend/clearspend/internal/money"
)

func testEvaluator() *Evaluator {
	return NewEvaluator(
		[]string{"Gaming", "Gambling", "Adult Content", "Tobacco", "Alcohol"},
		money.MustParse("50.00"),
	)
}

func TestEvaluate_Approved(t *testing.T) {
	e := testEvaluator()
	v := e.Evaluate("Education", money.MustParse("30.00"), money.MustParse("150.00"))
	if !v.Allowed {
		t.Fatalf("expected approval, got denial %q", v.Denial)
	}
}

func TestEvaluate_RestrictedCategory(t *testing.T) {
	e := testEvaluator()
	v := e.Evaluate("Gaming", money.MustParse("10.00"), money.MustParse("150.00"))
	if v.Allowed || v.Denial != DenialCategoryRestricted {
		t.Fatalf("got %+v, want category_restricted", v)
	}
}

func TestEvaluate_LimitExceeded(t *testing.T) {
	e := testEvaluator()
	v := e.Evaluate("Shopping", money.MustParse("75.00"), money.MustParse("150.00"))
	if v.Allowed || v.Denial != DenialLimitExceeded {
		t.Fatalf("got %+v, want limit_exceeded", v)
	}
}

func TestEvaluate_InsufficientFunds(t *testing.T) {
	e := testEvaluator()
	v := e.Evaluate("Shopping", money.MustParse("40.00"), money.MustParse("20.00"))
	if v.Allowed || v.Denial != DenialInsufficientFunds {
		t.Fatalf("got %+v, want insufficient_funds", v)
	}
}

// The category rule is checked before the limit rule, and the limit rule
// before the balance rule, even when several would deny.
func TestEvaluate_ShortCircuitOrder(t *testing.T) {
	e := testEvaluator()

	v := e.Evaluate("Gambling", money.MustParse("500.00"), money.MustParse("1.00"))
	if v.Denial != DenialCategoryRestricted {
		t.Errorf("denial = %q, want category_restricted first", v.Denial)
	}

	v = e.Evaluate("Shopping", money.MustParse("500.00"), money.MustParse("1.00"))
	if v.Denial != DenialLimitExceeded {
		t.Errorf("denial = %q, want limit_exceeded before insufficient_funds", v.Denial)
	}
}

func TestEvaluate_AmountAtLimit(t *testing.T) {
	e := testEvaluator()
	v := e.Evaluate("Shopping", money.MustParse("50.00"), money.MustParse("150.00"))
	if !v.Allowed {
		t.Errorf("amount equal to the limit should pass, got %q", v.Denial)
	}

	v = e.Evaluate("Shopping", money.MustParse("50.000001"), money.MustParse("150.00"))
	if v.Denial != DenialLimitExceeded {
		t.Errorf("amount just over the limit should be denied, got %+v", v)
	}
}

func TestEvaluate_AmountEqualsBalance(t *testing.T) {
	e := testEvaluator()
	v := e.Evaluate("Shopping", money.MustParse("20.00"), money.MustParse("20.00"))
	if !v.Allowed {
		t.Errorf("amount equal to the balance should pass, got %q", v.Denial)
	}
}
