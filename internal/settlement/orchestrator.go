package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clearspend/clearspend/internal/account"
	"github.com/clearspend/clearspend/internal/circuitbreaker"
	"github.com/clearspend/clearspend/internal/decision"
	"github.com/clearspend/clearspend/internal/gateway"
	"github.com/clearspend/clearspend/internal/idgen"
	"github.com/clearspend/clearspend/internal/metrics"
	"github.com/clearspend/clearspend/internal/money"
	"github.com/clearspend/clearspend/internal/syncutil"
	"github.com/clearspend/clearspend/internal/traces"
)

// State of a settlement as it moves through the pipeline.
type State string

const (
	StateReceived   State = "received"
	StateDeciding   State = "deciding"
	StateDenied     State = "denied"
	StateApproved   State = "approved"
	StateBuilding   State = "building"
	StateSubmitting State = "submitting"
	StateConfirming State = "confirming"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

// historyWindow covers the longest lookback any risk check needs.
const historyWindow = 24 * time.Hour

// Submission circuit breaker: after this many consecutive submission
// failures the ledger is considered down and requests fail fast instead
// of piling onto a dead RPC endpoint.
const (
	ledgerBreakerKey       = "ledger"
	ledgerBreakerThreshold = 5
	ledgerBreakerOpenFor   = 30 * time.Second
)

// Result is the terminal outcome of one settlement attempt.
type Result struct {
	Success       bool            `json:"success"`
	State         State           `json:"state"`
	Reason        decision.Reason `json:"reason,omitempty"`
	Message       string          `json:"message"`
	GroupID       string          `json:"groupId,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	AuditRef      string          `json:"auditRef,omitempty"`
	NewBalance    string          `json:"newBalance,omitempty"`
	RiskScore     float64         `json:"riskScore"`
}

// Event is published to subscribers when a settlement reaches a terminal
// state.
type Event struct {
	Type      State   `json:"type"` // denied, committed, failed
	AccountID string  `json:"accountId"`
	Merchant  string  `json:"merchant"`
	Category  string  `json:"category"`
	Amount    string  `json:"amount"`
	Reason    string  `json:"reason,omitempty"`
	GroupID   string  `json:"groupId,omitempty"`
	AuditRef  string  `json:"auditRef,omitempty"`
	RiskScore float64 `json:"riskScore"`
	At        string  `json:"at"`
}

// Notifier receives terminal settlement events. Implementations must not
// block; the orchestrator calls Publish inline.
type Notifier interface {
	Publish(accountID string, event Event)
}

// Orchestrator drives a purchase request from decision through ledger
// confirmation to the local balance debit. It never retries a submission:
// retrying a value transfer without idempotency keys risks duplicate spend.
type Orchestrator struct {
	engine  *decision.Engine
	builder *Builder
	gw      gateway.Gateway
	store   account.Store
	logger  *slog.Logger

	confirmInterval    time.Duration
	confirmMaxAttempts int
	submitTimeout      time.Duration

	notifier Notifier
	breaker  *circuitbreaker.Breaker

	// Per-account debit locks. Decisions run on a balance snapshot;
	// only the post-confirmation debit is serialized.
	locks *syncutil.ContextShardedMutex
}

// Options carries the orchestrator's timing knobs.
type Options struct {
	ConfirmInterval    time.Duration
	ConfirmMaxAttempts int
	SubmitTimeout      time.Duration
	Notifier           Notifier // optional
}

// NewOrchestrator wires the decision engine, group builder, ledger gateway,
// and account store.
func NewOrchestrator(engine *decision.Engine, builder *Builder, gw gateway.Gateway,
	store account.Store, logger *slog.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		engine:             engine,
		builder:            builder,
		gw:                 gw,
		store:              store,
		logger:             logger,
		confirmInterval:    opts.ConfirmInterval,
		confirmMaxAttempts: opts.ConfirmMaxAttempts,
		submitTimeout:      opts.SubmitTimeout,
		notifier:           opts.Notifier,
		breaker:            circuitbreaker.New(ledgerBreakerThreshold, ledgerBreakerOpenFor),
		locks:              syncutil.NewContextShardedMutex(),
	}
}

// LedgerHealthy reports whether the submission circuit is accepting
// requests. Used by the health endpoint.
func (o *Orchestrator) LedgerHealthy() bool {
	return o.breaker.State(ledgerBreakerKey) != circuitbreaker.StateOpen
}

// Settle runs one purchase request to a terminal state. Denials and ledger
// failures are Result values; an error means the request could not be
// evaluated at all (unknown account, store failure).
func (o *Orchestrator) Settle(ctx context.Context, req decision.Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "settlement.settle",
		traces.AccountID(req.AccountID),
		traces.Merchant(req.Merchant),
		traces.Category(req.Category),
		traces.Amount(money.Format(req.Amount)),
	)
	defer span.End()

	metrics.InFlightSettlements.Inc()
	defer metrics.InFlightSettlements.Dec()
	timer := time.Now()
	defer func() { metrics.SettlementDuration.Observe(time.Since(timer).Seconds()) }()

	log := o.logger.With(
		"account", req.AccountID,
		"merchant", req.Merchant,
		"amount", money.Format(req.Amount),
	)
	now := time.Now()

	acct, err := o.store.Get(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", req.AccountID, err)
	}
	history, err := o.store.Recent(ctx, req.AccountID, now.Add(-historyWindow))
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", req.AccountID, err)
	}

	d := o.engine.Decide(req, acct.Balance, history, now)
	if recErr := o.store.RecordDecision(ctx, req.AccountID, d.Approved); recErr != nil {
		log.Warn("record decision failed", "error", recErr)
	}

	if !d.Approved {
		log.Info("purchase denied", "reason", d.Reason, "risk_score", d.RiskScore)
		metrics.SettlementsTotal.WithLabelValues(string(StateDenied)).Inc()
		metrics.DenialsTotal.WithLabelValues(string(d.Reason)).Inc()
		result := &Result{
			State:     StateDenied,
			Reason:    d.Reason,
			Message:   d.Reason.Message(),
			RiskScore: d.RiskScore,
		}
		o.publish(req, result, now)
		return result, nil
	}

	group := o.builder.Build(req)
	if err := Validate(group); err != nil {
		return nil, fmt.Errorf("build group: %w", err)
	}
	log = log.With("group", group.ID)
	span.SetAttributes(traces.GroupID(group.ID))

	if !o.breaker.Allow(ledgerBreakerKey) {
		log.Warn("ledger circuit open, failing fast")
		return o.failed(req, group, "ledger temporarily unavailable", d.RiskScore, now), nil
	}

	submitCtx, cancel := context.WithTimeout(ctx, o.submitTimeout)
	ref, err := o.gw.Submit(submitCtx, group)
	cancel()
	if err != nil {
		// Nothing reached the ledger; the balance is untouched.
		o.breaker.RecordFailure(ledgerBreakerKey)
		log.Error("submission failed", "error", err)
		return o.failed(req, group, "settlement submission failed", d.RiskScore, now), nil
	}
	o.breaker.RecordSuccess(ledgerBreakerKey)
	log = log.With("ref", ref)
	span.SetAttributes(traces.Reference(ref))

	confirmation, attempts, err := gateway.WaitForConfirmation(ctx, o.gw, ref, o.confirmInterval, o.confirmMaxAttempts)
	metrics.ConfirmationAttempts.Observe(float64(attempts))
	if err != nil {
		if errors.Is(err, gateway.ErrConfirmationTimeout) {
			log.Error("confirmation timed out", "attempts", attempts)
			return o.failed(req, group, "settlement confirmation timed out", d.RiskScore, now), nil
		}
		return nil, fmt.Errorf("confirm group %s: %w", group.ID, err)
	}
	if confirmation.Status == gateway.StatusFailed {
		// All-or-nothing: a failed group moved no value.
		log.Info("group failed on ledger", "detail", confirmation.Detail)
		return o.failed(req, group, "settlement rejected by ledger", d.RiskScore, now), nil
	}

	rec := account.TxRecord{
		ID:            idgen.WithPrefix("txn_"),
		GroupID:       group.ID,
		Merchant:      req.Merchant,
		Category:      req.Category,
		Amount:        req.Amount,
		AuditRef:      confirmation.AuditRef,
		Justification: req.Justification,
		At:            time.Now(),
	}

	unlock, err := o.locks.LockContext(ctx, req.AccountID)
	if err != nil {
		log.Error("debit lock cancelled after ledger confirmation", "audit_ref", confirmation.AuditRef, "error", err)
		return o.failed(req, group, "settlement confirmed but account update failed", d.RiskScore, now), nil
	}
	updated, err := o.store.Debit(ctx, req.AccountID, req.Amount, rec)
	unlock()
	if err != nil {
		// The ledger confirmed but the local debit failed; this needs
		// operator reconciliation against the audit reference.
		log.Error("debit failed after ledger confirmation", "audit_ref", confirmation.AuditRef, "error", err)
		return o.failed(req, group, "settlement confirmed but account update failed", d.RiskScore, now), nil
	}

	log.Info("settlement committed", "txn", rec.ID, "audit_ref", confirmation.AuditRef, "balance", updated.BalanceString())
	metrics.SettlementsTotal.WithLabelValues(string(StateCommitted)).Inc()

	result := &Result{
		Success:       true,
		State:         StateCommitted,
		Message:       "purchase settled",
		GroupID:       group.ID,
		TransactionID: rec.ID,
		AuditRef:      confirmation.AuditRef,
		NewBalance:    updated.BalanceString(),
		RiskScore:     d.RiskScore,
	}
	o.publish(req, result, now)
	return result, nil
}

func (o *Orchestrator) failed(req decision.Request, group *gateway.Group,
	message string, riskScore float64, now time.Time) *Result {

	metrics.SettlementsTotal.WithLabelValues(string(StateFailed)).Inc()
	result := &Result{
		State:     StateFailed,
		Message:   message,
		GroupID:   group.ID,
		RiskScore: riskScore,
	}
	o.publish(req, result, now)
	return result
}

func (o *Orchestrator) publish(req decision.Request, result *Result, now time.Time) {
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(req.AccountID, Event{
		Type:      result.State,
		AccountID: req.AccountID,
		Merchant:  req.Merchant,
		Category:  req.Category,
		Amount:    money.Format(req.Amount),
		Reason:    string(result.Reason),
		GroupID:   result.GroupID,
		AuditRef:  result.AuditRef,
		RiskScore: result.RiskScore,
		At:        now.UTC().Format(time.RFC3339),
	})
}
