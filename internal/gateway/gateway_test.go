package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clearspend/clearspend/internal/money"
)

func testGroup() *Group {
	return &Group{
		ID:        "grp_test",
		AccountID: "acct_1",
		Operations: []Operation{
			{Kind: KindVerifyMerchant, Merchant: "Khan Academy", Category: "Education"},
			{Kind: KindCheckLimits, Category: "Education", Amount: money.MustParse("30.00")},
			{Kind: KindTransferValue, Amount: money.MustParse("30.00"), Recipient: "0x1234567890123456789012345678901234567890"},
		},
	}
}

func TestWaitForConfirmation_ConfirmsOnSecondPoll(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()

	ref, err := fake.Submit(ctx, testGroup())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	result, attempts, err := WaitForConfirmation(ctx, fake, ref, time.Millisecond, 10)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result.Status != StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", result.Status)
	}
	if result.AuditRef == "" {
		t.Error("confirmed result missing audit ref")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if got := fake.Polls(ref); got != 2 {
		t.Errorf("polls = %d, want 2", got)
	}
}

func TestWaitForConfirmation_TimeoutAfterMaxAttempts(t *testing.T) {
	fake := NewFake(WithScript(ConfirmationResult{Status: StatusPending}))
	ctx := context.Background()

	ref, _ := fake.Submit(ctx, testGroup())
	_, attempts, err := WaitForConfirmation(ctx, fake, ref, time.Millisecond, 5)
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("err = %v, want ErrConfirmationTimeout", err)
	}
	if attempts != 5 {
		t.Errorf("attempts = %d, want exactly the attempt budget", attempts)
	}
	if got := fake.Polls(ref); got != 5 {
		t.Errorf("polls = %d, want exactly the attempt budget", got)
	}
}

func TestWaitForConfirmation_FailureStopsPolling(t *testing.T) {
	fake := NewFake(WithScript(
		ConfirmationResult{Status: StatusPending},
		ConfirmationResult{Status: StatusFailed, Detail: "reverted"},
	))
	ctx := context.Background()

	ref, _ := fake.Submit(ctx, testGroup())
	result, _, err := WaitForConfirmation(ctx, fake, ref, time.Millisecond, 10)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result.Status != StatusFailed || result.Detail != "reverted" {
		t.Fatalf("result = %+v, want scripted failure", result)
	}
}

func TestWaitForConfirmation_ContextCancelled(t *testing.T) {
	fake := NewFake(WithScript(ConfirmationResult{Status: StatusPending}))

	ctx, cancel := context.WithCancel(context.Background())
	ref, _ := fake.Submit(ctx, testGroup())
	cancel()

	_, _, err := WaitForConfirmation(ctx, fake, ref, time.Hour, 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFake_SubmitError(t *testing.T) {
	fake := NewFake(WithSubmitError(ErrSubmissionFailed))

	_, err := fake.Submit(context.Background(), testGroup())
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if len(fake.Submitted()) != 0 {
		t.Error("failed submit should not record the group")
	}
}

func TestFake_LatencyCancellable(t *testing.T) {
	fake := NewFake(WithLatency(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fake.Submit(ctx, testGroup())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFlatten(t *testing.T) {
	merchant, category, amount, recipient, err := flatten(testGroup())
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if merchant != "Khan Academy" || category != "Education" {
		t.Errorf("merchant/category = %q/%q", merchant, category)
	}
	if money.Format(amount) != "30.000000" {
		t.Errorf("amount = %s", money.Format(amount))
	}
	if recipient == "" {
		t.Error("missing recipient")
	}

	if _, _, _, _, err := flatten(&Group{ID: "grp_empty"}); err == nil {
		t.Error("empty group should be rejected")
	}
	if _, _, _, _, err := flatten(&Group{ID: "grp_bad", Operations: []Operation{{Kind: "mystery"}}}); err == nil {
		t.Error("unknown operation kind should be rejected")
	}
}
