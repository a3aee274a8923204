package withdrawal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/withdrawal"
	auditsvc "github.com/shieldcustody/withdrawal-backend/internal/service/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/service/compliance"
	"github.com/shieldcustody/withdrawal-backend/internal/service/ratelimit"
)

// Service is the caller-facing surface of the withdrawal core:
// processing plus read-only probes and administrative accessors. Any
// transport binding sits above it.
type Service struct {
	orchestrator *Orchestrator
	limiter      *ratelimit.Limiter
	compliance   *compliance.Service
	ledger       *auditsvc.Ledger
	submitter    Submitter
	logger       *zap.Logger
}

// NewService assembles the facade over an already-wired pipeline
func NewService(
	orchestrator *Orchestrator,
	limiter *ratelimit.Limiter,
	complianceSvc *compliance.Service,
	ledger *auditsvc.Ledger,
	submitter Submitter,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orchestrator: orchestrator,
		limiter:      limiter,
		compliance:   complianceSvc,
		ledger:       ledger,
		submitter:    submitter,
		logger:       logger,
	}
}

// ProcessWithdrawal runs one request through the orchestrator
func (s *Service) ProcessWithdrawal(ctx context.Context, req *withdrawal.Request) *withdrawal.Result {
	return s.orchestrator.ProcessWithdrawal(ctx, req)
}

// CheckRateLimit is a read-only probe; it never records usage
func (s *Service) CheckRateLimit(ctx context.Context, userID string, amount values.Amount) (*ratelimit.Decision, error) {
	return s.limiter.Check(ctx, userID, amount)
}

// CheckVelocity is a read-only probe; it never records a transaction
func (s *Service) CheckVelocity(userID string, amount values.Amount) *compliance.VelocityResult {
	return s.compliance.CheckVelocity(userID, amount)
}

// GetComplianceReport assembles the merged audit and compliance report
func (s *Service) GetComplianceReport(start, end time.Time) *compliance.Report {
	return s.compliance.GenerateComplianceReport(start, end)
}

// ExportViewingKeys bundles registered auditor keys
func (s *Service) ExportViewingKeys(requestedBy string) (*compliance.KeyBundle, error) {
	return s.compliance.ExportViewingKeys(requestedBy)
}

// GetWithdrawalStatus looks up the chain-side status of a submitted
// transaction. Submitters without status support yield "unknown".
func (s *Service) GetWithdrawalStatus(ctx context.Context, transactionID string) (*withdrawal.Status, error) {
	if source, ok := s.submitter.(StatusSource); ok {
		return source.WithdrawalStatus(ctx, transactionID)
	}
	return &withdrawal.Status{
		State:         withdrawal.StatusUnknown,
		TransactionID: transactionID,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// Ledger exposes the audit ledger for administrative tooling
func (s *Service) Ledger() *auditsvc.Ledger {
	return s.ledger
}

// Compliance exposes the compliance engine for administrative tooling
func (s *Service) Compliance() *compliance.Service {
	return s.compliance
}
