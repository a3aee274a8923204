package withdrawal

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/withdrawal"
	"github.com/shieldcustody/withdrawal-backend/internal/metrics"
	auditsvc "github.com/shieldcustody/withdrawal-backend/internal/service/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/service/compliance"
	"github.com/shieldcustody/withdrawal-backend/internal/service/ratelimit"
)

// secretHexPattern matches long hex runs that look like key material or
// seeds; internal error messages are scrubbed of them before surfacing
var secretHexPattern = regexp.MustCompile(`(?i)[0-9a-f]{32,}`)

// Config holds orchestrator settings
type Config struct {
	// SubmitTimeout bounds the wait for a submitted operation to
	// reach a terminal state
	SubmitTimeout time.Duration
	// ResultTTL bounds idempotency cache retention; zero keeps
	// results until evicted by the store
	ResultTTL time.Duration
}

// DefaultConfig returns production orchestrator defaults
func DefaultConfig() Config {
	return Config{
		SubmitTimeout: 2 * time.Minute,
		ResultTTL:     24 * time.Hour,
	}
}

// Orchestrator drives one withdrawal request through validation, rate
// limiting, velocity screening, submission, and audit. Terminal results
// are idempotency-cached except for structural validation failures,
// which stay uncached so a corrected retry under the same request id
// re-executes.
//
// There is no global lock: concurrent attempts under the same request
// id may both run before either caches, per the IdempotencyStore
// contract. Business denials are returned as results, never as errors
// or panics.
type Orchestrator struct {
	cfg        Config
	validator  AddressValidator
	submitter  Submitter
	limiter    *ratelimit.Limiter
	compliance *compliance.Service
	ledger     *auditsvc.Ledger
	results    IdempotencyStore
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock injects a time source for deterministic tests
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics wires prometheus counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires the withdrawal pipeline. Validator, submitter,
// limiter, compliance engine, and ledger are required; the idempotency
// store defaults to in-memory when nil.
func NewOrchestrator(
	cfg Config,
	validator AddressValidator,
	submitter Submitter,
	limiter *ratelimit.Limiter,
	complianceSvc *compliance.Service,
	ledger *auditsvc.Ledger,
	results IdempotencyStore,
	logger *zap.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case validator == nil:
		return nil, fmt.Errorf("orchestrator: address validator is required")
	case submitter == nil:
		return nil, fmt.Errorf("orchestrator: submitter is required")
	case limiter == nil:
		return nil, fmt.Errorf("orchestrator: rate limiter is required")
	case complianceSvc == nil:
		return nil, fmt.Errorf("orchestrator: compliance engine is required")
	case ledger == nil:
		return nil, fmt.Errorf("orchestrator: audit ledger is required")
	}
	if results == nil {
		results = NewMemoryIdempotencyStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}

	o := &Orchestrator{
		cfg:        cfg,
		validator:  validator,
		submitter:  submitter,
		limiter:    limiter,
		compliance: complianceSvc,
		ledger:     ledger,
		results:    results,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ProcessWithdrawal runs the full state machine for one request and
// always returns a result; denials and failures are encoded in it.
func (o *Orchestrator) ProcessWithdrawal(ctx context.Context, req *withdrawal.Request) (result *withdrawal.Result) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	validated := false
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("withdrawal processing panicked",
				zap.String("request_id", requestID),
				zap.Any("panic", r))
			result = o.failure(ctx, req, requestID, withdrawal.CodeInternalError,
				SanitizeError(fmt.Sprintf("internal error: %v", r)), validated)
		}
		o.metrics.ObserveWithdrawal(outcomeLabel(result))
	}()

	if cached, ok, err := o.results.Get(ctx, requestID); err == nil && ok {
		o.logger.Debug("idempotency cache hit", zap.String("request_id", requestID))
		return cached
	} else if err != nil {
		o.logger.Error("idempotency lookup failed", zap.String("request_id", requestID), zap.Error(err))
	}

	// Structural validation. Failures here are caller-correctable and
	// never cached.
	if denial := o.validateStructure(req, requestID); denial != nil {
		return denial
	}
	validated = true

	o.appendEvent(auditsvc.Entry{
		Type:        audit.EventWithdrawalRequested,
		Severity:    audit.SeverityInfo,
		UserID:      req.UserID,
		Destination: req.ToAddress,
		Amount:      amountRef(req.Amount),
		Metadata:    map[string]interface{}{"request_id": requestID},
	})

	decision, err := o.limiter.Check(ctx, req.UserID, req.Amount)
	if err != nil {
		return o.failure(ctx, req, requestID, withdrawal.CodeInternalError,
			SanitizeError("rate limit check failed: "+err.Error()), true)
	}
	if !decision.Allowed {
		o.metrics.ObserveRateLimitHit()
		o.appendEvent(auditsvc.Entry{
			Type:     audit.EventRateLimitHit,
			Severity: audit.SeverityWarning,
			UserID:   req.UserID,
			Amount:   amountRef(req.Amount),
			Metadata: map[string]interface{}{
				"request_id":  requestID,
				"reason":      decision.Reason,
				"retry_after": decision.RetryAfter.String(),
			},
		})
		return o.denial(ctx, requestID, withdrawal.CodeRateLimited, decision.Reason)
	}

	velocity := o.compliance.CheckVelocity(req.UserID, req.Amount)
	if !velocity.Passed {
		o.metrics.ObserveSuspiciousFlag()
		o.compliance.FlagSuspiciousActivity(req.UserID,
			fmt.Sprintf("Velocity check failed: %s", velocity.Reason),
			map[string]interface{}{
				"request_id": requestID,
				"risk_score": velocity.RiskScore,
			})
		return o.denial(ctx, requestID, withdrawal.CodeVelocityCheckFailed, velocity.Reason)
	}

	o.appendEvent(auditsvc.Entry{
		Type:        audit.EventWithdrawalApproved,
		Severity:    audit.SeverityInfo,
		UserID:      req.UserID,
		Destination: req.ToAddress,
		Amount:      amountRef(req.Amount),
		Metadata: map[string]interface{}{
			"request_id": requestID,
			"risk_score": velocity.RiskScore,
		},
	})

	operationID, err := o.submitter.Submit(ctx, req.FromAddress, req.ToAddress, req.Amount, req.Memo)
	if err != nil {
		return o.failure(ctx, req, requestID, withdrawal.CodeSubmissionFailed,
			SanitizeError("submission failed: "+err.Error()), true)
	}

	receipt, err := o.submitter.AwaitCompletion(ctx, operationID, o.cfg.SubmitTimeout)
	if err != nil {
		code := withdrawal.CodeSubmissionFailed
		msg := SanitizeError("submission failed: " + err.Error())
		if stderrors.Is(err, ErrTimedOut) {
			code = withdrawal.CodeTransactionTimedOut
			msg = fmt.Sprintf("transaction did not complete within %s", o.cfg.SubmitTimeout)
		}
		res := o.failure(ctx, req, requestID, code, msg, false)
		res.OperationID = operationID
		o.cache(ctx, requestID, res)
		return res
	}

	// Side-effect bookkeeping happens only after confirmed success
	if err := o.limiter.Record(ctx, req.UserID, req.Amount); err != nil {
		o.logger.Error("rate limit record failed",
			zap.String("user_id", req.UserID), zap.Error(err))
	}
	o.compliance.RecordTransaction(req.UserID, req.Amount)

	completedAt := o.now()
	o.appendEvent(auditsvc.Entry{
		Type:          audit.EventWithdrawalCompleted,
		Severity:      audit.SeverityInfo,
		UserID:        req.UserID,
		TransactionID: receipt.TransactionID,
		Destination:   req.ToAddress,
		Amount:        amountRef(req.Amount),
		Metadata:      map[string]interface{}{"request_id": requestID, "operation_id": operationID},
	})

	res := &withdrawal.Result{
		Success:       true,
		TransactionID: receipt.TransactionID,
		OperationID:   operationID,
		Fee:           receipt.Fee,
		RequestID:     requestID,
		CompletedAt:   &completedAt,
	}
	o.cache(ctx, requestID, res)

	o.logger.Info("withdrawal completed",
		zap.String("request_id", requestID),
		zap.String("user_id", req.UserID),
		zap.String("transaction_id", receipt.TransactionID))

	return res
}

// validateStructure runs the ordered structural checks. The returned
// result, if any, is deliberately not cached.
func (o *Orchestrator) validateStructure(req *withdrawal.Request, requestID string) *withdrawal.Result {
	if err := req.ValidateBasic(); err != nil {
		code := withdrawal.CodeInvalidRequest
		if errors.Code(err) == withdrawal.CodeInvalidAmount {
			code = withdrawal.CodeInvalidAmount
		}
		return uncachedDenial(requestID, code, err.Error())
	}

	from := o.validator.ValidateAddress(req.FromAddress)
	if !from.Valid {
		return uncachedDenial(requestID, withdrawal.CodeInvalidFromAddress,
			"source address is not a valid address")
	}
	if !from.Shielded {
		return uncachedDenial(requestID, withdrawal.CodeNotShieldedSource,
			"source address must be shielded")
	}

	to := o.validator.ValidateAddress(req.ToAddress)
	if !to.Valid {
		return uncachedDenial(requestID, withdrawal.CodeInvalidToAddress,
			"destination address is not a valid address")
	}

	if err := o.validator.ValidateAmount(req.Amount); err != nil {
		return uncachedDenial(requestID, withdrawal.CodeInvalidAmount,
			"withdrawal amount must be positive")
	}

	if req.Memo != "" {
		if !to.Shielded {
			return uncachedDenial(requestID, withdrawal.CodeInvalidMemo,
				"memos are only supported for shielded destinations")
		}
		if err := o.validator.ValidateMemo(req.Memo); err != nil {
			return uncachedDenial(requestID, withdrawal.CodeInvalidMemo, err.Error())
		}
	}
	return nil
}

// denial caches and returns a post-validation denial
func (o *Orchestrator) denial(ctx context.Context, requestID, code, message string) *withdrawal.Result {
	res := &withdrawal.Result{
		Error:     message,
		ErrorCode: code,
		RequestID: requestID,
	}
	o.cache(ctx, requestID, res)
	return res
}

// failure audits a failed attempt and returns it; when cacheNow is set
// the result is cached here, otherwise the caller decides
func (o *Orchestrator) failure(ctx context.Context, req *withdrawal.Request, requestID, code, message string, cacheNow bool) *withdrawal.Result {
	o.appendEvent(auditsvc.Entry{
		Type:     audit.EventWithdrawalFailed,
		Severity: audit.SeverityError,
		UserID:   req.UserID,
		Amount:   amountRef(req.Amount),
		Metadata: map[string]interface{}{
			"request_id": requestID,
			"error_code": code,
			"error":      message,
		},
	})

	res := &withdrawal.Result{
		Error:     message,
		ErrorCode: code,
		RequestID: requestID,
	}
	if cacheNow {
		o.cache(ctx, requestID, res)
	}
	return res
}

func (o *Orchestrator) cache(ctx context.Context, requestID string, res *withdrawal.Result) {
	if err := o.results.Set(ctx, requestID, res, o.cfg.ResultTTL); err != nil {
		o.logger.Error("failed to cache withdrawal result",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

func (o *Orchestrator) appendEvent(entry auditsvc.Entry) {
	if _, err := o.ledger.Append(entry); err != nil {
		o.logger.Error("audit append failed",
			zap.String("event_type", string(entry.Type)), zap.Error(err))
		return
	}
	o.metrics.ObserveAuditEvent()
}

func uncachedDenial(requestID, code, message string) *withdrawal.Result {
	return &withdrawal.Result{
		Error:     message,
		ErrorCode: code,
		RequestID: requestID,
	}
}

// SanitizeError scrubs long hex runs that may be key material from an
// error message before it is surfaced or persisted
func SanitizeError(message string) string {
	return secretHexPattern.ReplaceAllString(message, "[REDACTED]")
}

func amountRef(a values.Amount) *values.Amount {
	return &a
}

func outcomeLabel(res *withdrawal.Result) string {
	if res == nil {
		return "unknown"
	}
	if res.Success {
		return "success"
	}
	return res.ErrorCode
}
