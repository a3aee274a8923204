package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
)

// WindowMode selects how the hourly count window is anchored
type WindowMode string

const (
	// WindowSliding counts withdrawals within the trailing 60 minutes
	WindowSliding WindowMode = "sliding"
	// WindowFixed counts withdrawals since the top of the current hour
	WindowFixed WindowMode = "fixed"
)

// retentionHorizon is how long historical records are kept for window
// math. This is a cleanup horizon only; the daily limit itself is
// always a UTC calendar-day boundary, never a trailing 24h window.
const retentionHorizon = 24 * time.Hour

// Config holds the per-user withdrawal limits. A zero count or zero
// amount disables that particular check.
type Config struct {
	MaxPerHour             int           `json:"max_per_hour"`
	MaxPerDay              int           `json:"max_per_day"`
	MaxAmountPerWithdrawal values.Amount `json:"max_amount_per_withdrawal"`
	MaxAmountPerDay        values.Amount `json:"max_amount_per_day"`
	Cooldown               time.Duration `json:"cooldown"`
	HourlyWindow           WindowMode    `json:"hourly_window"`
}

// Decision is the outcome of a limit check
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Usage      Usage         `json:"usage"`
}

// Usage reports the counters the decision was made against, excluding
// the candidate withdrawal
type Usage struct {
	HourlyCount    int           `json:"hourly_count"`
	DailyCount     int           `json:"daily_count"`
	DailyAmount    values.Amount `json:"daily_amount"`
	LastWithdrawal time.Time     `json:"last_withdrawal,omitzero"`
}

// Remaining reports headroom and window reset times for one user
type Remaining struct {
	HourlyWithdrawals    int           `json:"hourly_withdrawals"`
	DailyWithdrawals     int           `json:"daily_withdrawals"`
	DailyAmount          values.Amount `json:"daily_amount"`
	CooldownRemaining    time.Duration `json:"cooldown_remaining"`
	HourlyWindowResetsAt time.Time     `json:"hourly_window_resets_at"`
	DailyWindowResetsAt  time.Time     `json:"daily_window_resets_at"`
}

// Limiter enforces per-user withdrawal throttling across five
// dimensions, evaluated in a fixed order: cooldown, hourly count,
// daily count, per-withdrawal amount, daily cumulative amount. The
// first failing dimension wins and names the denial.
type Limiter struct {
	cfg    Config
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock injects a time source for deterministic tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter backed by the given store
func NewLimiter(cfg Config, store Store, logger *zap.Logger, opts ...Option) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HourlyWindow == "" {
		cfg.HourlyWindow = WindowSliding
	}

	l := &Limiter{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check evaluates whether a withdrawal of the given amount is allowed
// for the user right now. Check does not mutate counters; the caller
// records the withdrawal separately once it decides to proceed.
func (l *Limiter) Check(ctx context.Context, userID string, amount values.Amount) (*Decision, error) {
	now := l.now()

	state, err := l.loadPurged(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	usage := l.usageFrom(state, now)
	decision := &Decision{Allowed: true, Usage: usage}

	// 1. cooldown since the last withdrawal
	if l.cfg.Cooldown > 0 && !state.LastWithdrawal.IsZero() {
		elapsed := now.Sub(state.LastWithdrawal)
		if elapsed < l.cfg.Cooldown {
			retryAfter := l.cfg.Cooldown - elapsed
			decision.Allowed = false
			decision.Reason = fmt.Sprintf("Cooldown active: next withdrawal allowed in %s", retryAfter.Round(time.Millisecond))
			decision.RetryAfter = retryAfter
			return decision, nil
		}
	}

	// 2. hourly count
	if l.cfg.MaxPerHour > 0 && usage.HourlyCount >= l.cfg.MaxPerHour {
		decision.Allowed = false
		decision.Reason = fmt.Sprintf("Hourly withdrawal limit reached (%d/%d)", usage.HourlyCount, l.cfg.MaxPerHour)
		return decision, nil
	}

	// 3. daily count
	if l.cfg.MaxPerDay > 0 && usage.DailyCount >= l.cfg.MaxPerDay {
		decision.Allowed = false
		decision.Reason = fmt.Sprintf("Daily withdrawal limit reached (%d/%d)", usage.DailyCount, l.cfg.MaxPerDay)
		return decision, nil
	}

	// 4. per-withdrawal maximum
	if l.cfg.MaxAmountPerWithdrawal.IsPositive() && amount.GreaterThan(l.cfg.MaxAmountPerWithdrawal) {
		decision.Allowed = false
		decision.Reason = fmt.Sprintf("Amount exceeds per-withdrawal maximum (%s > %s zatoshis)",
			amount, l.cfg.MaxAmountPerWithdrawal)
		return decision, nil
	}

	// 5. daily cumulative amount
	if l.cfg.MaxAmountPerDay.IsPositive() {
		projected, err := usage.DailyAmount.Add(amount)
		if err != nil || projected.GreaterThan(l.cfg.MaxAmountPerDay) {
			decision.Allowed = false
			decision.Reason = fmt.Sprintf("Daily withdrawal amount limit reached (%s + %s > %s zatoshis)",
				usage.DailyAmount, amount, l.cfg.MaxAmountPerDay)
			return decision, nil
		}
	}

	return decision, nil
}

// Record books a withdrawal into the user's counters. Call it only
// after a successful Check and only once the withdrawal proceeds.
func (l *Limiter) Record(ctx context.Context, userID string, amount values.Amount) error {
	now := l.now()

	state, err := l.loadPurged(ctx, userID, now)
	if err != nil {
		return err
	}

	state.Withdrawals = append(state.Withdrawals, WithdrawalRecord{At: now, Amount: amount})
	state.LastWithdrawal = now

	if err := l.store.SetUserLimits(ctx, userID, state); err != nil {
		return errors.NewExternalError("rate-limit store", "failed to persist user state").WithCause(err)
	}

	l.logger.Debug("withdrawal recorded",
		zap.String("user_id", userID),
		zap.String("amount_zatoshis", amount.String()))
	return nil
}

// Remaining reports the user's current headroom
func (l *Limiter) Remaining(ctx context.Context, userID string) (*Remaining, error) {
	now := l.now()

	state, err := l.loadPurged(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	usage := l.usageFrom(state, now)

	rem := &Remaining{
		DailyWindowResetsAt: nextUTCMidnight(now),
	}

	if l.cfg.MaxPerHour > 0 {
		rem.HourlyWithdrawals = maxInt(0, l.cfg.MaxPerHour-usage.HourlyCount)
	}
	if l.cfg.MaxPerDay > 0 {
		rem.DailyWithdrawals = maxInt(0, l.cfg.MaxPerDay-usage.DailyCount)
	}
	if l.cfg.MaxAmountPerDay.IsPositive() {
		if left, err := l.cfg.MaxAmountPerDay.Sub(usage.DailyAmount); err == nil {
			rem.DailyAmount = left
		}
	}
	if l.cfg.Cooldown > 0 && !state.LastWithdrawal.IsZero() {
		if elapsed := now.Sub(state.LastWithdrawal); elapsed < l.cfg.Cooldown {
			rem.CooldownRemaining = l.cfg.Cooldown - elapsed
		}
	}

	switch l.cfg.HourlyWindow {
	case WindowFixed:
		rem.HourlyWindowResetsAt = now.Truncate(time.Hour).Add(time.Hour)
	default:
		if oldest, ok := oldestSince(state.Withdrawals, now.Add(-time.Hour)); ok {
			rem.HourlyWindowResetsAt = oldest.Add(time.Hour)
		} else {
			rem.HourlyWindowResetsAt = now
		}
	}

	return rem, nil
}

// Reset clears one user's counters
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	return l.store.Reset(ctx, userID)
}

// ResetAll clears every user's counters
func (l *Limiter) ResetAll(ctx context.Context) error {
	return l.store.ResetAll(ctx)
}

// loadPurged reads the user state and lazily drops records older than
// the retention horizon
func (l *Limiter) loadPurged(ctx context.Context, userID string, now time.Time) (*UserState, error) {
	state, err := l.store.GetUserLimits(ctx, userID)
	if err != nil {
		return nil, errors.NewExternalError("rate-limit store", "failed to load user state").WithCause(err)
	}
	if state == nil {
		return &UserState{}, nil
	}

	cutoff := now.Add(-retentionHorizon)
	kept := state.Withdrawals[:0]
	for _, rec := range state.Withdrawals {
		if !rec.At.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	state.Withdrawals = kept
	return state, nil
}

func (l *Limiter) usageFrom(state *UserState, now time.Time) Usage {
	var hourStart time.Time
	if l.cfg.HourlyWindow == WindowFixed {
		hourStart = now.Truncate(time.Hour)
	} else {
		hourStart = now.Add(-time.Hour)
	}
	dayStart := startOfUTCDay(now)

	usage := Usage{LastWithdrawal: state.LastWithdrawal}
	var dailyZatoshis int64
	for _, rec := range state.Withdrawals {
		if !rec.At.Before(hourStart) {
			usage.HourlyCount++
		}
		if !rec.At.Before(dayStart) {
			usage.DailyCount++
			dailyZatoshis += rec.Amount.Zatoshis()
		}
	}
	if dailyZatoshis > values.MaxSupplyZatoshis {
		dailyZatoshis = values.MaxSupplyZatoshis
	}
	usage.DailyAmount = values.MustNewAmount(dailyZatoshis)
	return usage
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nextUTCMidnight(t time.Time) time.Time {
	return startOfUTCDay(t).Add(24 * time.Hour)
}

func oldestSince(records []WithdrawalRecord, cutoff time.Time) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, rec := range records {
		if rec.At.Before(cutoff) {
			continue
		}
		if !found || rec.At.Before(oldest) {
			oldest = rec.At
			found = true
		}
	}
	return oldest, found
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
