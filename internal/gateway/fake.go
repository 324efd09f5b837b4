package gateway

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-process gateway with scripted outcomes. It backs the
// development/demo mode and the settlement tests; simulated latency lives
// here and only here, never in production scoring or settlement logic.
type Fake struct {
	mu        sync.Mutex
	submitErr error
	script    []ConfirmationResult
	latency   time.Duration
	polls     map[string]int
	submitted []*Group
}

// FakeOption configures the fake gateway.
type FakeOption func(*Fake)

// WithSubmitError makes every Submit fail with err.
func WithSubmitError(err error) FakeOption {
	return func(f *Fake) { f.submitErr = err }
}

// WithScript sets the per-poll confirmation sequence for every group. The
// final entry repeats once the script is exhausted.
func WithScript(results ...ConfirmationResult) FakeOption {
	return func(f *Fake) { f.script = results }
}

// WithLatency adds an artificial delay to Submit and Confirm.
func WithLatency(d time.Duration) FakeOption {
	return func(f *Fake) { f.latency = d }
}

// NewFake creates a fake gateway. By default a group is pending on the
// first poll and confirmed on the second.
func NewFake(opts ...FakeOption) *Fake {
	f := &Fake{
		script: []ConfirmationResult{
			{Status: StatusPending},
			{Status: StatusConfirmed},
		},
		polls: make(map[string]int),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Submit records the group and returns its ID as the submission reference.
func (f *Fake) Submit(ctx context.Context, group *Group) (string, error) {
	if err := f.sleep(ctx); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, group)
	return group.ID, nil
}

// Confirm steps through the scripted results for the reference.
func (f *Fake) Confirm(ctx context.Context, ref string) (ConfirmationResult, error) {
	if err := f.sleep(ctx); err != nil {
		return ConfirmationResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.polls[ref]
	f.polls[ref]++
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}

	result := f.script[idx]
	if result.Status == StatusConfirmed && result.AuditRef == "" {
		result.AuditRef = "sim_" + ref
	}
	return result, nil
}

// Submitted returns the groups submitted so far.
func (f *Fake) Submitted() []*Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Group(nil), f.submitted...)
}

// Polls returns how many times the reference has been polled.
func (f *Fake) Polls(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[ref]
}

func (f *Fake) sleep(ctx context.Context) error {
	if f.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(f.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Gateway = (*Fake)(nil)
