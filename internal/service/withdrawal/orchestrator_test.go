package withdrawal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/withdrawal"
	auditsvc "github.com/shieldcustody/withdrawal-backend/internal/service/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/service/compliance"
	"github.com/shieldcustody/withdrawal-backend/internal/service/ratelimit"
)

var (
	saplingFrom = "zs1" + strings.Repeat("q", 73)
	saplingTo   = "zs1" + strings.Repeat("w", 73)
	transparent = "t1" + strings.Repeat("K", 33)
)

type fakeSubmitter struct {
	mu          sync.Mutex
	submitCalls int
	awaitCalls  int
	submitErr   error
	awaitErr    error
	receipt     *SubmissionReceipt
	panicMsg    string
}

func (f *fakeSubmitter) Submit(_ context.Context, _, _ string, _ values.Amount, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "op-1", nil
}

func (f *fakeSubmitter) AwaitCompletion(_ context.Context, _ string, _ time.Duration) (*SubmissionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaitCalls++
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}
	return f.receipt, nil
}

func (f *fakeSubmitter) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, f.awaitCalls
}

type harness struct {
	orch    *Orchestrator
	ledger  *auditsvc.Ledger
	limiter *ratelimit.Limiter
	comp    *compliance.Service
	sub     *fakeSubmitter
}

func okReceipt() *SubmissionReceipt {
	fee := values.MustNewAmount(10_000)
	return &SubmissionReceipt{TransactionID: "txid-abc", Fee: &fee}
}

func newHarness(t *testing.T, rlCfg ratelimit.Config, sub *fakeSubmitter) *harness {
	t.Helper()
	logger := zap.NewNop()
	ledger := auditsvc.NewLedger(auditsvc.DefaultConfig(), logger)
	limiter := ratelimit.NewLimiter(rlCfg, ratelimit.NewMemoryStore(), logger)
	comp := compliance.NewService(compliance.DefaultConfig(), ledger, logger)

	orch, err := NewOrchestrator(DefaultConfig(), NewZcashAddressValidator(), sub,
		limiter, comp, ledger, nil, logger)
	require.NoError(t, err)

	return &harness{orch: orch, ledger: ledger, limiter: limiter, comp: comp, sub: sub}
}

func request(requestID string) *withdrawal.Request {
	return &withdrawal.Request{
		UserID:      "user-1",
		FromAddress: saplingFrom,
		ToAddress:   saplingTo,
		Amount:      values.MustNewAmount(5 * values.ZatoshisPerZEC),
		RequestID:   requestID,
	}
}

func TestProcessWithdrawal_HappyPath(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	h := newHarness(t, ratelimit.Config{MaxPerHour: 10}, sub)

	res := h.orch.ProcessWithdrawal(context.Background(), request("r-ok"))
	assert.True(t, res.Success)
	assert.Equal(t, "txid-abc", res.TransactionID)
	assert.Equal(t, "op-1", res.OperationID)
	assert.Equal(t, "r-ok", res.RequestID)
	require.NotNil(t, res.Fee)
	require.NotNil(t, res.CompletedAt)

	// requested, approved, completed in order
	events := h.ledger.Query(auditsvc.Filter{UserID: "user-1"})
	require.Len(t, events, 3)
	assert.Equal(t, audit.EventWithdrawalRequested, events[0].Type)
	assert.Equal(t, audit.EventWithdrawalApproved, events[1].Type)
	assert.Equal(t, audit.EventWithdrawalCompleted, events[2].Type)

	// both bookkeeping engines recorded exactly one transaction
	remaining, err := h.limiter.Remaining(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 9, remaining.HourlyWithdrawals)
	assert.Equal(t, 1, h.comp.CheckVelocity("user-1", values.MustNewAmount(1)).Velocity.DailyCount)
}

func TestProcessWithdrawal_Idempotency(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	h := newHarness(t, ratelimit.Config{MaxPerHour: 10}, sub)

	first := h.orch.ProcessWithdrawal(context.Background(), request("r-1"))
	second := h.orch.ProcessWithdrawal(context.Background(), request("r-1"))

	assert.Equal(t, first, second)

	submits, _ := sub.calls()
	assert.Equal(t, 1, submits)

	// side effects happened at most once
	completed := h.ledger.Query(auditsvc.Filter{Types: []audit.EventType{audit.EventWithdrawalCompleted}})
	assert.Len(t, completed, 1)
	assert.Equal(t, 1, h.comp.CheckVelocity("user-1", values.MustNewAmount(1)).Velocity.DailyCount)
}

func TestProcessWithdrawal_GeneratesRequestID(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	h := newHarness(t, ratelimit.Config{}, sub)

	res := h.orch.ProcessWithdrawal(context.Background(), request(""))
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.RequestID)
}

func TestProcessWithdrawal_StructuralFailuresNotCached(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	h := newHarness(t, ratelimit.Config{MaxPerHour: 10}, sub)

	bad := request("r-fix")
	bad.ToAddress = "not-an-address"
	res := h.orch.ProcessWithdrawal(context.Background(), bad)
	assert.False(t, res.Success)
	assert.Equal(t, withdrawal.CodeInvalidToAddress, res.ErrorCode)

	// corrected retry under the same request id re-executes
	res = h.orch.ProcessWithdrawal(context.Background(), request("r-fix"))
	assert.True(t, res.Success)
	assert.Equal(t, "txid-abc", res.TransactionID)
}

func TestProcessWithdrawal_MissingFieldsDeniedUpFront(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	h := newHarness(t, ratelimit.Config{MaxPerHour: 10}, sub)

	bad := request("r-req")
	bad.UserID = ""
	res := h.orch.ProcessWithdrawal(context.Background(), bad)
	assert.False(t, res.Success)
	assert.Equal(t, withdrawal.CodeInvalidRequest, res.ErrorCode)
	assert.NotContains(t, res.Error, "amount")

	// corrected retry under the same request id re-executes
	res = h.orch.ProcessWithdrawal(context.Background(), request("r-req"))
	assert.True(t, res.Success)
}

func TestProcessWithdrawal_StructuralValidationOrder(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	h := newHarness(t, ratelimit.Config{}, sub)

	tests := []struct {
		name     string
		mutate   func(*withdrawal.Request)
		wantCode string
	}{
		{"missing user id", func(r *withdrawal.Request) { r.UserID = "" }, withdrawal.CodeInvalidRequest},
		{"missing from address", func(r *withdrawal.Request) { r.FromAddress = "" }, withdrawal.CodeInvalidRequest},
		{"oversized request id", func(r *withdrawal.Request) { r.RequestID = strings.Repeat("x", 129) }, withdrawal.CodeInvalidRequest},
		{"invalid from", func(r *withdrawal.Request) { r.FromAddress = "zzz" }, withdrawal.CodeInvalidFromAddress},
		{"transparent from", func(r *withdrawal.Request) { r.FromAddress = transparent }, withdrawal.CodeNotShieldedSource},
		{"invalid to", func(r *withdrawal.Request) { r.ToAddress = "zzz" }, withdrawal.CodeInvalidToAddress},
		{"zero amount", func(r *withdrawal.Request) { r.Amount = values.Zero() }, withdrawal.CodeInvalidAmount},
		{"memo to transparent", func(r *withdrawal.Request) {
			r.ToAddress = transparent
			r.Memo = "hello"
		}, withdrawal.CodeInvalidMemo},
		{"oversized memo", func(r *withdrawal.Request) { r.Memo = strings.Repeat("m", 513) }, withdrawal.CodeInvalidMemo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("")
			tt.mutate(req)
			res := h.orch.ProcessWithdrawal(context.Background(), req)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.ErrorCode)
		})
	}

	// no audit events and no submissions for structurally invalid requests
	assert.Equal(t, 0, h.ledger.Count())
	submits, _ := sub.calls()
	assert.Equal(t, 0, submits)
}

func TestProcessWithdrawal_RateLimitedCached(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	h := newHarness(t, ratelimit.Config{
		MaxAmountPerWithdrawal: values.MustNewAmount(1 * values.ZatoshisPerZEC),
	}, sub)

	res := h.orch.ProcessWithdrawal(context.Background(), request("r-rl"))
	assert.False(t, res.Success)
	assert.Equal(t, withdrawal.CodeRateLimited, res.ErrorCode)
	assert.Contains(t, res.Error, "per-withdrawal maximum")

	hits := h.ledger.Query(auditsvc.Filter{Types: []audit.EventType{audit.EventRateLimitHit}})
	require.Len(t, hits, 1)
	assert.Equal(t, audit.SeverityWarning, hits[0].Severity)

	// the denial is cached: a retry does not re-run the pipeline
	again := h.orch.ProcessWithdrawal(context.Background(), request("r-rl"))
	assert.Equal(t, res, again)
	assert.Len(t, h.ledger.Query(auditsvc.Filter{Types: []audit.EventType{audit.EventRateLimitHit}}), 1)
}

func TestProcessWithdrawal_ConcurrentDuplicatesRateLimited(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	h := newHarness(t, ratelimit.Config{
		MaxAmountPerWithdrawal: values.MustNewAmount(1 * values.ZatoshisPerZEC),
	}, sub)

	results := make([]*withdrawal.Result, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.orch.ProcessWithdrawal(context.Background(), request("r1"))
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Equal(t, withdrawal.CodeRateLimited, res.ErrorCode)
		assert.Equal(t, "r1", res.RequestID)
	}
	assert.Equal(t, results[0].Error, results[1].Error)
}

func TestProcessWithdrawal_VelocityDenialFlagsAndCaches(t *testing.T) {
	sub := &fakeSubmitter{receipt: okReceipt()}
	logger := zap.NewNop()
	ledger := auditsvc.NewLedger(auditsvc.DefaultConfig(), logger)
	limiter := ratelimit.NewLimiter(ratelimit.Config{}, ratelimit.NewMemoryStore(), logger)
	comp := compliance.NewService(compliance.Config{
		Thresholds: compliance.Thresholds{MaxTxPerHour: 1},
	}, ledger, logger)
	orch, err := NewOrchestrator(DefaultConfig(), NewZcashAddressValidator(), sub,
		limiter, comp, ledger, nil, logger)
	require.NoError(t, err)

	comp.RecordTransaction("user-1", values.MustNewAmount(1))

	res := orch.ProcessWithdrawal(context.Background(), request("r-vel"))
	assert.False(t, res.Success)
	assert.Equal(t, withdrawal.CodeVelocityCheckFailed, res.ErrorCode)
	assert.Contains(t, res.Error, "Hourly transaction limit")

	flags := comp.FlagsForUser("user-1", nil)
	require.Len(t, flags, 1)
	assert.Equal(t, compliance.FlagSeverityHigh, flags[0].Severity)

	submits, _ := sub.calls()
	assert.Zero(t, submits)

	again := orch.ProcessWithdrawal(context.Background(), request("r-vel"))
	assert.Equal(t, res, again)
	assert.Len(t, comp.FlagsForUser("user-1", nil), 1)
}

func TestProcessWithdrawal_SubmissionFailureCached(t *testing.T) {
	sub := &fakeSubmitter{awaitErr: assert.AnError}
	h := newHarness(t, ratelimit.Config{}, sub)

	res := h.orch.ProcessWithdrawal(context.Background(), request("r-fail"))
	assert.False(t, res.Success)
	assert.Equal(t, withdrawal.CodeSubmissionFailed, res.ErrorCode)
	assert.Equal(t, "op-1", res.OperationID)

	failed := h.ledger.Query(auditsvc.Filter{Types: []audit.EventType{audit.EventWithdrawalFailed}})
	require.Len(t, failed, 1)

	// no bookkeeping on failure
	assert.Equal(t, 0, h.comp.CheckVelocity("user-1", values.MustNewAmount(1)).Velocity.DailyCount)

	again := h.orch.ProcessWithdrawal(context.Background(), request("r-fail"))
	assert.Equal(t, res, again)
	submits, _ := sub.calls()
	assert.Equal(t, 1, submits)
}

func TestProcessWithdrawal_TimeoutDistinctFromFailure(t *testing.T) {
	sub := &fakeSubmitter{awaitErr: ErrTimedOut}
	h := newHarness(t, ratelimit.Config{}, sub)

	res := h.orch.ProcessWithdrawal(context.Background(), request("r-to"))
	assert.False(t, res.Success)
	assert.Equal(t, withdrawal.CodeTransactionTimedOut, res.ErrorCode)
	assert.Equal(t, "op-1", res.OperationID)

	// timed-out attempts never record limiter or velocity usage
	decision, err := h.limiter.Check(context.Background(), "user-1", values.MustNewAmount(1))
	require.NoError(t, err)
	assert.Equal(t, 0, decision.Usage.DailyCount)
	assert.Equal(t, 0, h.comp.CheckVelocity("user-1", values.MustNewAmount(1)).Velocity.DailyCount)
}

func TestProcessWithdrawal_PanicRecoveredAndSanitized(t *testing.T) {
	secret := strings.Repeat("ab", 20)
	sub := &fakeSubmitter{panicMsg: "leaked key " + secret}
	h := newHarness(t, ratelimit.Config{}, sub)

	res := h.orch.ProcessWithdrawal(context.Background(), request("r-panic"))
	assert.False(t, res.Success)
	assert.Equal(t, withdrawal.CodeInternalError, res.ErrorCode)
	assert.NotContains(t, res.Error, secret)
	assert.Contains(t, res.Error, "[REDACTED]")

	again := h.orch.ProcessWithdrawal(context.Background(), request("r-panic"))
	assert.Equal(t, res, again)
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "key [REDACTED] exposed",
		SanitizeError("key "+strings.Repeat("0F", 16)+" exposed"))
	assert.Equal(t, "short deadbeef stays", SanitizeError("short deadbeef stays"))
}
