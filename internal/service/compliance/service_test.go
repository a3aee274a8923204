package compliance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	auditsvc "github.com/shieldcustody/withdrawal-backend/internal/service/audit"
)

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time          { return c.current }
func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestService(t *testing.T, th Thresholds) (*Service, *auditsvc.Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := auditsvc.NewLedger(auditsvc.DefaultConfig(), zap.NewNop(), auditsvc.WithClock(clock.now))
	svc := NewService(Config{Thresholds: th, KeyValidity: time.Hour}, ledger, zap.NewNop(), WithClock(clock.now))
	return svc, ledger, clock
}

func zec(n int64) values.Amount {
	return values.MustNewAmount(n * values.ZatoshisPerZEC)
}

func TestCheckVelocity_HourlyCountExceeded(t *testing.T) {
	svc, _, clock := newTestService(t, Thresholds{
		MaxTxPerHour:     2,
		MaxTxPerDay:      50,
		MaxAmountPerHour: zec(1000),
		MaxAmountPerDay:  zec(5000),
	})

	svc.RecordTransaction("carol", zec(1))
	clock.advance(time.Minute)
	svc.RecordTransaction("carol", zec(1))
	clock.advance(time.Minute)

	result := svc.CheckVelocity("carol", zec(1))
	assert.False(t, result.Passed)
	assert.Equal(t, "Hourly transaction limit exceeded: 3/2", result.Reason)
	// snapshot reflects history only, not the candidate
	assert.Equal(t, 2, result.Velocity.HourlyCount)
	assert.Equal(t, 2, result.Velocity.DailyCount)
}

func TestCheckVelocity_PassUnderThresholds(t *testing.T) {
	svc, _, _ := newTestService(t, Thresholds{
		MaxTxPerHour:     10,
		MaxTxPerDay:      50,
		MaxAmountPerHour: zec(100),
		MaxAmountPerDay:  zec(500),
	})

	result := svc.CheckVelocity("carol", zec(1))
	assert.True(t, result.Passed)
	assert.Empty(t, result.Reason)
	assert.GreaterOrEqual(t, result.RiskScore, 0)
	assert.LessOrEqual(t, result.RiskScore, 100)
}

func TestCheckVelocity_CheckOrder(t *testing.T) {
	// both the hourly count and daily amount are violated; the hourly
	// count is reported because it is checked first
	svc, _, clock := newTestService(t, Thresholds{
		MaxTxPerHour:     1,
		MaxTxPerDay:      50,
		MaxAmountPerHour: zec(10_000),
		MaxAmountPerDay:  zec(1),
	})

	svc.RecordTransaction("carol", zec(5))
	clock.advance(time.Minute)

	result := svc.CheckVelocity("carol", zec(5))
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "Hourly transaction limit")
}

func TestCheckVelocity_AmountLimits(t *testing.T) {
	svc, _, clock := newTestService(t, Thresholds{
		MaxTxPerHour:     100,
		MaxTxPerDay:      100,
		MaxAmountPerHour: zec(10),
		MaxAmountPerDay:  zec(100),
	})

	svc.RecordTransaction("dave", zec(8))
	clock.advance(time.Minute)

	result := svc.CheckVelocity("dave", zec(5))
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "Hourly amount limit exceeded")

	// after the hour rolls over only the daily amount dimension binds
	clock.advance(2 * time.Hour)
	for i := 0; i < 9; i++ {
		svc.RecordTransaction("dave", zec(10))
	}
	result = svc.CheckVelocity("dave", zec(10))
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "amount limit exceeded")
}

func TestCheckVelocity_RiskScoreClamped(t *testing.T) {
	svc, _, clock := newTestService(t, Thresholds{
		MaxTxPerHour:     1,
		MaxTxPerDay:      1,
		MaxAmountPerHour: zec(1),
		MaxAmountPerDay:  zec(1),
	})

	for i := 0; i < 20; i++ {
		svc.RecordTransaction("eve", zec(50))
		clock.advance(time.Second)
	}

	result := svc.CheckVelocity("eve", zec(50))
	assert.False(t, result.Passed)
	assert.Equal(t, 100, result.RiskScore)
}

func TestCheckVelocity_ZeroThresholdDisablesDimension(t *testing.T) {
	svc, _, _ := newTestService(t, Thresholds{
		MaxTxPerDay: 5,
	})

	for i := 0; i < 100; i++ {
		if i < 4 {
			svc.RecordTransaction("frank", zec(1000))
		}
	}
	result := svc.CheckVelocity("frank", zec(1000))
	assert.True(t, result.Passed)

	svc.RecordTransaction("frank", zec(1000))
	result = svc.CheckVelocity("frank", zec(1000))
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "Daily transaction limit")
}

func TestCheckVelocity_RetentionExpiry(t *testing.T) {
	svc, _, clock := newTestService(t, Thresholds{MaxTxPerDay: 2})

	svc.RecordTransaction("grace", zec(1))
	svc.RecordTransaction("grace", zec(1))

	result := svc.CheckVelocity("grace", zec(1))
	assert.False(t, result.Passed)

	clock.advance(24*time.Hour + time.Minute)
	result = svc.CheckVelocity("grace", zec(1))
	assert.True(t, result.Passed)
	assert.Equal(t, 0, result.Velocity.DailyCount)
}

func TestCheckVelocity_UsersIndependent(t *testing.T) {
	svc, _, _ := newTestService(t, Thresholds{MaxTxPerHour: 1})

	svc.RecordTransaction("heavy", zec(1))
	assert.False(t, svc.CheckVelocity("heavy", zec(1)).Passed)
	assert.True(t, svc.CheckVelocity("light", zec(1)).Passed)
}

func TestSeverityForReason(t *testing.T) {
	tests := []struct {
		reason string
		want   FlagSeverity
	}{
		{"Suspected fraud ring", FlagSeverityCritical},
		{"Account compromised via phishing", FlagSeverityCritical},
		{"Repeated failed withdrawals", FlagSeverityHigh},
		{"Velocity threshold breach", FlagSeverityHigh},
		{"Rate limit abuse", FlagSeverityHigh},
		{"Unusual destination", FlagSeverityMedium},
		{"Structuring pattern detected", FlagSeverityMedium},
		{"Manual operator note", FlagSeverityLow},
		// critical keywords win over lower ones in the same reason
		{"Unusual pattern suggesting fraud", FlagSeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityForReason(tt.reason), tt.reason)
	}
}

func TestFlagSuspiciousActivity_AppendsLedgerEvent(t *testing.T) {
	svc, ledger, _ := newTestService(t, Thresholds{})

	flag := svc.FlagSuspiciousActivity("ivan", "Suspected fraud", map[string]interface{}{"score": 95})
	require.NotNil(t, flag)
	assert.Equal(t, FlagSeverityCritical, flag.Severity)
	assert.False(t, flag.Reviewed)

	events := ledger.Query(auditsvc.Filter{Types: []audit.EventType{audit.EventSuspiciousActivity}})
	require.Len(t, events, 1)
	assert.Equal(t, "ivan", events[0].UserID)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
	assert.Equal(t, flag.ID.String(), events[0].Metadata["flag_id"])
}

func TestReviewFlag(t *testing.T) {
	svc, _, _ := newTestService(t, Thresholds{})

	flag := svc.FlagSuspiciousActivity("judy", "unusual destination", nil)

	reviewed, err := svc.ReviewFlag(flag.ID, "analyst-1", "false positive")
	require.NoError(t, err)
	assert.True(t, reviewed.Reviewed)
	assert.Equal(t, "analyst-1", reviewed.ReviewedBy)
	assert.Equal(t, "false positive", reviewed.ReviewNotes)
	require.NotNil(t, reviewed.ReviewedAt)

	// reviewing again overwrites, it does not error
	again, err := svc.ReviewFlag(flag.ID, "analyst-2", "confirmed benign")
	require.NoError(t, err)
	assert.Equal(t, "analyst-2", again.ReviewedBy)
	assert.Equal(t, "confirmed benign", again.ReviewNotes)

	_, err = svc.ReviewFlag(uuid.New(), "analyst-1", "")
	assert.Error(t, err)
}

func TestFlagsForUser_ReviewFilter(t *testing.T) {
	svc, _, _ := newTestService(t, Thresholds{})

	f1 := svc.FlagSuspiciousActivity("kate", "unusual pattern", nil)
	svc.FlagSuspiciousActivity("kate", "velocity spike", nil)

	_, err := svc.ReviewFlag(f1.ID, "analyst", "ok")
	require.NoError(t, err)

	all := svc.FlagsForUser("kate", nil)
	assert.Len(t, all, 2)

	unreviewed := false
	open := svc.FlagsForUser("kate", &unreviewed)
	require.Len(t, open, 1)
	assert.Equal(t, "velocity spike", open[0].Reason)
}

func TestViewingKeyExport(t *testing.T) {
	svc, ledger, clock := newTestService(t, Thresholds{})

	_, err := svc.RegisterViewingKey("zk-sapling-1", "sapling-full", []byte("zxviews1q0example-material"))
	require.NoError(t, err)
	_, err = svc.RegisterViewingKey("zk-unified-1", "unified-full", []byte("uview1q0example-material"))
	require.NoError(t, err)

	bundle, err := svc.ExportViewingKeys("auditor-7")
	require.NoError(t, err)
	require.Len(t, bundle.Keys, 2)

	for _, k := range bundle.Keys {
		assert.Len(t, k.Checksum, 16)
		assert.Equal(t, clock.current.Add(time.Hour), k.ExpiresAt)
	}
	// keys are ordered by id so the digest is reproducible
	assert.Equal(t, "zk-sapling-1", bundle.Keys[0].KeyID)
	assert.Equal(t, "zk-unified-1", bundle.Keys[1].KeyID)
	assert.Len(t, bundle.Digest, 64)

	// identical state yields an identical digest
	bundle2, err := svc.ExportViewingKeys("auditor-7")
	require.NoError(t, err)
	assert.Equal(t, bundle.Digest, bundle2.Digest)

	events := ledger.Query(auditsvc.Filter{Types: []audit.EventType{audit.EventViewingKeyExported}})
	require.Len(t, events, 2)
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
	assert.Equal(t, "auditor-7", events[0].UserID)
	assert.Equal(t, bundle.Digest, events[0].Metadata["digest"])
}

func TestViewingKeyRegistration_Errors(t *testing.T) {
	svc, _, _ := newTestService(t, Thresholds{})

	_, err := svc.RegisterViewingKey("", "sapling-full", []byte("m"))
	assert.Error(t, err)

	_, err = svc.RegisterViewingKey("k1", "sapling-full", nil)
	assert.Error(t, err)

	_, err = svc.RegisterViewingKey("k1", "sapling-full", []byte("m"))
	require.NoError(t, err)
	_, err = svc.RegisterViewingKey("k1", "sapling-full", []byte("m"))
	assert.Error(t, err)

	_, err = NewService(Config{}, nil, zap.NewNop()).ExportViewingKeys("auditor")
	assert.Error(t, err)
}

func TestGenerateComplianceReport(t *testing.T) {
	svc, _, clock := newTestService(t, Thresholds{MaxTxPerDay: 100})

	svc.RecordTransaction("leo", zec(5))
	svc.FlagSuspiciousActivity("leo", "unusual pattern", nil)
	f := svc.FlagSuspiciousActivity("mallory", "suspected theft", nil)
	_, err := svc.ReviewFlag(f.ID, "analyst", "escalated")
	require.NoError(t, err)
	_, err = svc.RegisterViewingKey("k1", "sapling-full", []byte("material"))
	require.NoError(t, err)

	start := clock.current.Add(-time.Hour)
	end := clock.current.Add(time.Hour)
	report := svc.GenerateComplianceReport(start, end)

	assert.Equal(t, 2, report.TotalFlags)
	assert.Equal(t, 1, report.UnreviewedFlags)
	assert.Equal(t, 1, report.FlagsBySeverity[FlagSeverityMedium])
	assert.Equal(t, 1, report.FlagsBySeverity[FlagSeverityCritical])
	assert.Equal(t, 0, report.FlagsBySeverity[FlagSeverityLow])
	assert.Equal(t, 1, report.TrackedUsers)
	assert.Equal(t, 1, report.RegisteredKeys)

	require.NotNil(t, report.Audit)
	assert.True(t, report.Audit.IntegrityCheck.Valid)
	assert.Equal(t, 1, report.Audit.EventsBySeverity[audit.SeverityCritical])
}
