package withdrawal

import (
	"context"
	"fmt"
	"time"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
)

// Operation states reported by the node layer
const (
	OpStateQueued    = "queued"
	OpStateExecuting = "executing"
	OpStateSuccess   = "success"
	OpStateFailed    = "failed"
	OpStateCancelled = "cancelled"
)

// OperationStatus is one poll observation of an async node operation
type OperationStatus struct {
	State         string
	TransactionID string
	Fee           *values.Amount
	Error         string
}

// Terminal reports whether the operation has finished
func (s *OperationStatus) Terminal() bool {
	switch s.State {
	case OpStateSuccess, OpStateFailed, OpStateCancelled:
		return true
	default:
		return false
	}
}

// OperationSource is the node layer's async-operation API: submit a
// transaction, then poll its operation until terminal
type OperationSource interface {
	Submit(ctx context.Context, fromAddress, toAddress string, amount values.Amount, memo string) (string, error)
	OperationStatus(ctx context.Context, operationID string) (*OperationStatus, error)
}

// PollingSubmitter adapts an OperationSource into a Submitter by
// polling at a fixed interval until the operation is terminal or the
// timeout elapses. Clock and sleep are injectable so the wait loop is
// deterministic under test.
type PollingSubmitter struct {
	source   OperationSource
	interval time.Duration
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// PollerOption configures a PollingSubmitter
type PollerOption func(*PollingSubmitter)

// WithPollClock injects the poll loop's time source
func WithPollClock(now func() time.Time) PollerOption {
	return func(p *PollingSubmitter) { p.now = now }
}

// WithPollSleep injects the poll loop's sleep primitive
func WithPollSleep(sleep func(context.Context, time.Duration) error) PollerOption {
	return func(p *PollingSubmitter) { p.sleep = sleep }
}

// NewPollingSubmitter wraps an OperationSource with a bounded poll loop
func NewPollingSubmitter(source OperationSource, interval time.Duration, opts ...PollerOption) *PollingSubmitter {
	if interval <= 0 {
		interval = time.Second
	}
	p := &PollingSubmitter{
		source:   source,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Submit hands the transaction to the node layer
func (p *PollingSubmitter) Submit(ctx context.Context, fromAddress, toAddress string, amount values.Amount, memo string) (string, error) {
	return p.source.Submit(ctx, fromAddress, toAddress, amount, memo)
}

// AwaitCompletion polls the operation until terminal. A deadline pass
// without a terminal state returns ErrTimedOut; the operation may still
// confirm afterwards and no bookkeeping is rolled back here.
func (p *PollingSubmitter) AwaitCompletion(ctx context.Context, operationID string, timeout time.Duration) (*SubmissionReceipt, error) {
	deadline := p.now().Add(timeout)

	for {
		status, err := p.source.OperationStatus(ctx, operationID)
		if err != nil {
			return nil, errors.NewExternalError("node", "operation status poll failed").WithCause(err)
		}

		if status.Terminal() {
			if status.State != OpStateSuccess {
				msg := status.Error
				if msg == "" {
					msg = fmt.Sprintf("operation %s", status.State)
				}
				return nil, errors.NewBusinessError("OPERATION_FAILED", msg)
			}
			return &SubmissionReceipt{
				TransactionID: status.TransactionID,
				Fee:           status.Fee,
			}, nil
		}

		if !p.now().Add(p.interval).Before(deadline) {
			return nil, ErrTimedOut
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, err
		}
	}
}
