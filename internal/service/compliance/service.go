package compliance

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	auditsvc "github.com/shieldcustody/withdrawal-backend/internal/service/audit"
)

// velocityRetention is how long per-user transaction history is kept.
// Records are pruned lazily before every check and record.
const velocityRetention = 24 * time.Hour

// Thresholds bound a user's projected transaction velocity. A zero
// count or amount disables that dimension.
type Thresholds struct {
	MaxTxPerHour     int           `json:"max_tx_per_hour"`
	MaxTxPerDay      int           `json:"max_tx_per_day"`
	MaxAmountPerHour values.Amount `json:"max_amount_per_hour"`
	MaxAmountPerDay  values.Amount `json:"max_amount_per_day"`
}

// Config holds compliance engine settings
type Config struct {
	Thresholds Thresholds
	// KeyValidity is the expiry window stamped on exported viewing keys
	KeyValidity time.Duration
}

// DefaultConfig returns production compliance defaults
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			MaxTxPerHour:     10,
			MaxTxPerDay:      50,
			MaxAmountPerHour: values.MustNewAmount(100 * values.ZatoshisPerZEC),
			MaxAmountPerDay:  values.MustNewAmount(500 * values.ZatoshisPerZEC),
		},
		KeyValidity: 24 * time.Hour,
	}
}

// Snapshot reports a user's current velocity, excluding any candidate
// transaction under consideration
type Snapshot struct {
	HourlyCount  int           `json:"hourly_count"`
	DailyCount   int           `json:"daily_count"`
	HourlyAmount values.Amount `json:"hourly_amount"`
	DailyAmount  values.Amount `json:"daily_amount"`
}

// VelocityResult is the outcome of a velocity check. RiskScore is
// advisory and always computed, pass or fail.
type VelocityResult struct {
	Passed     bool       `json:"passed"`
	Velocity   Snapshot   `json:"velocity"`
	Thresholds Thresholds `json:"thresholds"`
	RiskScore  int        `json:"risk_score"`
	Reason     string     `json:"reason,omitempty"`
}

type txRecord struct {
	at     time.Time
	amount values.Amount
}

// Service tracks per-user transaction velocity, raises and reviews
// suspicious-activity flags, and manages auditor viewing-key exports.
// State is keyed per user; different users never interfere.
type Service struct {
	cfg    Config
	ledger *auditsvc.Ledger
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	records   map[string][]txRecord
	flags     map[string][]*Flag
	flagsByID map[uuid.UUID]*Flag
	keys      map[string]*ViewingKey
}

// Option configures a Service
type Option func(*Service)

// WithClock injects a time source for deterministic tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a compliance engine that reports into the ledger
func NewService(cfg Config, ledger *auditsvc.Ledger, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyValidity <= 0 {
		cfg.KeyValidity = DefaultConfig().KeyValidity
	}

	s := &Service{
		cfg:       cfg,
		ledger:    ledger,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		records:   make(map[string][]txRecord),
		flags:     make(map[string][]*Flag),
		flagsByID: make(map[uuid.UUID]*Flag),
		keys:      make(map[string]*ViewingKey),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Thresholds returns the configured velocity thresholds
func (s *Service) Thresholds() Thresholds {
	return s.cfg.Thresholds
}

// CheckVelocity projects the user's velocity with one more transaction
// of the given amount and tests it against the thresholds in a fixed
// order: hourly count, daily count, hourly amount, daily amount. The
// returned snapshot excludes the candidate; the decision includes it.
func (s *Service) CheckVelocity(userID string, amount values.Amount) *VelocityResult {
	now := s.now()

	s.mu.Lock()
	s.pruneLocked(userID, now)
	snapshot := s.snapshotLocked(userID, now)
	s.mu.Unlock()

	th := s.cfg.Thresholds
	result := &VelocityResult{
		Passed:     true,
		Velocity:   snapshot,
		Thresholds: th,
	}

	projHourlyCount := snapshot.HourlyCount + 1
	projDailyCount := snapshot.DailyCount + 1
	projHourlyAmount := snapshot.HourlyAmount.Zatoshis() + amount.Zatoshis()
	projDailyAmount := snapshot.DailyAmount.Zatoshis() + amount.Zatoshis()

	result.RiskScore = riskScore(
		ratioInt(projHourlyCount, th.MaxTxPerHour),
		ratioInt(projDailyCount, th.MaxTxPerDay),
		ratioZat(projHourlyAmount, th.MaxAmountPerHour.Zatoshis()),
		ratioZat(projDailyAmount, th.MaxAmountPerDay.Zatoshis()),
	)

	switch {
	case th.MaxTxPerHour > 0 && projHourlyCount > th.MaxTxPerHour:
		result.Passed = false
		result.Reason = fmt.Sprintf("Hourly transaction limit exceeded: %d/%d", projHourlyCount, th.MaxTxPerHour)
	case th.MaxTxPerDay > 0 && projDailyCount > th.MaxTxPerDay:
		result.Passed = false
		result.Reason = fmt.Sprintf("Daily transaction limit exceeded: %d/%d", projDailyCount, th.MaxTxPerDay)
	case th.MaxAmountPerHour.IsPositive() && projHourlyAmount > th.MaxAmountPerHour.Zatoshis():
		result.Passed = false
		result.Reason = fmt.Sprintf("Hourly amount limit exceeded: %d/%d zatoshis", projHourlyAmount, th.MaxAmountPerHour.Zatoshis())
	case th.MaxAmountPerDay.IsPositive() && projDailyAmount > th.MaxAmountPerDay.Zatoshis():
		result.Passed = false
		result.Reason = fmt.Sprintf("Daily amount limit exceeded: %d/%d zatoshis", projDailyAmount, th.MaxAmountPerDay.Zatoshis())
	}

	return result
}

// RecordTransaction appends one completed or attempted transaction to
// the user's velocity history. This bookkeeping is independent of the
// rate limiter's own counters.
func (s *Service) RecordTransaction(userID string, amount values.Amount) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(userID, now)
	s.records[userID] = append(s.records[userID], txRecord{at: now, amount: amount})
}

func (s *Service) pruneLocked(userID string, now time.Time) {
	cutoff := now.Add(-velocityRetention)
	recs := s.records[userID]
	kept := recs[:0]
	for _, r := range recs {
		if !r.at.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(s.records, userID)
		return
	}
	s.records[userID] = kept
}

func (s *Service) snapshotLocked(userID string, now time.Time) Snapshot {
	hourCutoff := now.Add(-time.Hour)

	var snap Snapshot
	var hourlyZat, dailyZat int64
	for _, r := range s.records[userID] {
		snap.DailyCount++
		dailyZat += r.amount.Zatoshis()
		if !r.at.Before(hourCutoff) {
			snap.HourlyCount++
			hourlyZat += r.amount.Zatoshis()
		}
	}
	snap.HourlyAmount = clampAmount(hourlyZat)
	snap.DailyAmount = clampAmount(dailyZat)
	return snap
}

func clampAmount(z int64) values.Amount {
	if z < 0 || z > values.MaxSupplyZatoshis {
		z = values.MaxSupplyZatoshis
	}
	return values.MustNewAmount(z)
}

// riskScore combines the four projected/threshold ratios with fixed
// weights summing to 100, clamped to [0,100] and rounded
func riskScore(hourlyCount, dailyCount, hourlyAmount, dailyAmount float64) int {
	score := 30*hourlyCount + 20*dailyCount + 30*hourlyAmount + 20*dailyAmount
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

func ratioInt(projected, threshold int) float64 {
	if threshold <= 0 {
		return 0
	}
	return float64(projected) / float64(threshold)
}

// ratioZat divides exact zatoshi quantities through decimal to keep
// money out of float arithmetic until the final advisory score
func ratioZat(projected, threshold int64) float64 {
	if threshold <= 0 {
		return 0
	}
	return decimal.NewFromInt(projected).
		Div(decimal.NewFromInt(threshold)).
		InexactFloat64()
}
