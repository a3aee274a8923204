package withdrawal

// Error codes surfaced on Result.ErrorCode, keyed by originating stage.
// The first six are structural-validation failures and are never
// cached, so a corrected retry under the same request id re-executes.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidFromAddress = "INVALID_FROM_ADDRESS"
	CodeNotShieldedSource  = "NOT_SHIELDED_SOURCE"
	CodeInvalidToAddress   = "INVALID_TO_ADDRESS"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeInvalidMemo        = "INVALID_MEMO"

	CodeRateLimited         = "RATE_LIMITED"
	CodeVelocityCheckFailed = "VELOCITY_CHECK_FAILED"
	CodeSubmissionFailed    = "SUBMISSION_FAILED"
	CodeTransactionTimedOut = "TRANSACTION_TIMED_OUT"
	CodeInternalError       = "INTERNAL_ERROR"
)

// IsStructuralCode reports whether a code identifies a caller-correctable
// structural failure, i.e. one that must not be idempotency-cached.
func IsStructuralCode(code string) bool {
	switch code {
	case CodeInvalidRequest, CodeInvalidFromAddress, CodeNotShieldedSource,
		CodeInvalidToAddress, CodeInvalidAmount, CodeInvalidMemo:
		return true
	default:
		return false
	}
}
