package withdrawal

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
)

// Request carries the parameters for one withdrawal attempt. If
// RequestID is set it becomes the idempotency key for the attempt;
// otherwise the orchestrator generates one.
type Request struct {
	UserID      string        `json:"user_id" validate:"required"`
	FromAddress string        `json:"from_address" validate:"required"`
	ToAddress   string        `json:"to_address" validate:"required"`
	Amount      values.Amount `json:"amount"`
	Memo        string        `json:"memo,omitempty"`
	RequestID   string        `json:"request_id,omitempty" validate:"max=128"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateBasic checks the structural shape of the request: required
// fields present, request id within bounds, amount strictly positive.
// Address classification and memo rules are the validator
// collaborator's job.
func (r *Request) ValidateBasic() error {
	if err := validate.Struct(r); err != nil {
		return errors.NewValidationError("INVALID_REQUEST",
			"withdrawal request is structurally invalid").WithCause(err)
	}
	if !r.Amount.IsPositive() {
		return errors.NewValidationError("INVALID_AMOUNT",
			"withdrawal amount must be positive")
	}
	return nil
}

// Result is the terminal outcome of one logical withdrawal attempt.
// It is produced exactly once per attempt and may be replayed by value
// from the idempotency cache.
type Result struct {
	Success       bool           `json:"success"`
	TransactionID string         `json:"transaction_id,omitempty"`
	OperationID   string         `json:"operation_id,omitempty"`
	Fee           *values.Amount `json:"fee,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	RequestID     string         `json:"request_id"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Status describes the life of a submitted withdrawal on the chain side
type Status struct {
	State         StatusState `json:"status"`
	TransactionID string      `json:"transaction_id,omitempty"`
	Confirmations int         `json:"confirmations,omitempty"`
	Error         string      `json:"error,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// StatusState is the closed set of chain-side withdrawal states
type StatusState string

const (
	StatusPending    StatusState = "pending"
	StatusProcessing StatusState = "processing"
	StatusCompleted  StatusState = "completed"
	StatusFailed     StatusState = "failed"
	StatusUnknown    StatusState = "unknown"
)
