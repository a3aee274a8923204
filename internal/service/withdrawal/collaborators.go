package withdrawal

import (
	"context"
	"errors"
	"time"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/withdrawal"
)

// ErrTimedOut is returned by AwaitCompletion when the operation did not
// reach a terminal state within the timeout. It is distinct from a
// submission failure: the transaction may still confirm later.
var ErrTimedOut = errors.New("transaction confirmation timed out")

// AddressInfo is the validator's classification of one address
type AddressInfo struct {
	Valid    bool   `json:"valid"`
	Shielded bool   `json:"shielded"`
	Type     string `json:"type"`
}

// AddressValidator classifies addresses and checks memo shape. The
// orchestrator treats it as an opaque oracle; checksum-level parsing
// lives behind this interface.
type AddressValidator interface {
	ValidateAddress(address string) AddressInfo
	ValidateAmount(amount values.Amount) error
	ValidateMemo(memo string) error
}

// SubmissionReceipt is the terminal outcome of a submitted operation
type SubmissionReceipt struct {
	TransactionID string
	Fee           *values.Amount
}

// Submitter hands transactions to the node layer. Submit returns an
// operation id immediately; AwaitCompletion blocks until the operation
// reaches a terminal state or the timeout elapses, in which case it
// returns ErrTimedOut.
type Submitter interface {
	Submit(ctx context.Context, fromAddress, toAddress string, amount values.Amount, memo string) (string, error)
	AwaitCompletion(ctx context.Context, operationID string, timeout time.Duration) (*SubmissionReceipt, error)
}

// StatusSource optionally extends a Submitter with chain-side status
// lookup for already-submitted transactions
type StatusSource interface {
	WithdrawalStatus(ctx context.Context, transactionID string) (*withdrawal.Status, error)
}

// IdempotencyStore maps request ids to their terminal results.
//
// The in-memory implementation is check-then-act: Get then Set is not
// atomic, so two concurrent attempts under the same key may both run
// before either caches. A shared deployment must back this with an
// atomic insert-if-absent to get true exactly-once semantics.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*withdrawal.Result, bool, error)
	Set(ctx context.Context, key string, result *withdrawal.Result, ttl time.Duration) error
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}
