package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	auditsvc "github.com/shieldcustody/withdrawal-backend/internal/service/audit"
)

// FlagSeverity ranks a suspicious-activity flag
type FlagSeverity string

const (
	FlagSeverityLow      FlagSeverity = "low"
	FlagSeverityMedium   FlagSeverity = "medium"
	FlagSeverityHigh     FlagSeverity = "high"
	FlagSeverityCritical FlagSeverity = "critical"
)

// Flag records suspicious activity attributed to a user. A flag stays
// open until reviewed; reviewing again overwrites the review fields.
type Flag struct {
	ID          uuid.UUID              `json:"id"`
	UserID      string                 `json:"user_id"`
	Reason      string                 `json:"reason"`
	Severity    FlagSeverity           `json:"severity"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	Reviewed    bool                   `json:"reviewed"`
	ReviewedBy  string                 `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time             `json:"reviewed_at,omitempty"`
	ReviewNotes string                 `json:"review_notes,omitempty"`
}

func (f *Flag) clone() *Flag {
	c := *f
	if f.Details != nil {
		c.Details = make(map[string]interface{}, len(f.Details))
		for k, v := range f.Details {
			c.Details[k] = v
		}
	}
	if f.ReviewedAt != nil {
		t := *f.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

// severityKeywords is evaluated highest severity first; the first
// keyword found in the lowercased reason wins
var severityKeywords = []struct {
	severity FlagSeverity
	words    []string
}{
	{FlagSeverityCritical, []string{"fraud", "theft", "compromised"}},
	{FlagSeverityHigh, []string{"failed", "velocity", "limit"}},
	{FlagSeverityMedium, []string{"unusual", "pattern"}},
}

// SeverityForReason derives a flag severity from keywords in the
// reason text, defaulting to low
func SeverityForReason(reason string) FlagSeverity {
	lower := strings.ToLower(reason)
	for _, entry := range severityKeywords {
		for _, word := range entry.words {
			if strings.Contains(lower, word) {
				return entry.severity
			}
		}
	}
	return FlagSeverityLow
}

func auditSeverityFor(fs FlagSeverity) audit.Severity {
	switch fs {
	case FlagSeverityCritical:
		return audit.SeverityCritical
	case FlagSeverityHigh:
		return audit.SeverityError
	default:
		return audit.SeverityWarning
	}
}

// FlagSuspiciousActivity opens a flag against the user, deriving
// severity from the reason text, and records a suspicious-activity
// event in the ledger
func (s *Service) FlagSuspiciousActivity(userID, reason string, details map[string]interface{}) *Flag {
	flag := &Flag{
		ID:        uuid.New(),
		UserID:    userID,
		Reason:    reason,
		Severity:  SeverityForReason(reason),
		Details:   details,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.flags[userID] = append(s.flags[userID], flag)
	s.flagsByID[flag.ID] = flag
	s.mu.Unlock()

	s.logger.Warn("suspicious activity flagged",
		zap.String("user_id", userID),
		zap.String("flag_id", flag.ID.String()),
		zap.String("severity", string(flag.Severity)),
		zap.String("reason", reason),
	)

	if s.ledger != nil {
		metadata := map[string]interface{}{
			"flag_id":  flag.ID.String(),
			"reason":   reason,
			"severity": string(flag.Severity),
		}
		for k, v := range details {
			metadata[k] = v
		}
		_, err := s.ledger.Append(auditsvc.Entry{
			Type:     audit.EventSuspiciousActivity,
			Severity: auditSeverityFor(flag.Severity),
			UserID:   userID,
			Metadata: metadata,
		})
		if err != nil {
			s.logger.Error("failed to record suspicious-activity event", zap.Error(err))
		}
	}

	return flag.clone()
}

// FlagsForUser returns the user's flags in creation order. When
// reviewed is non-nil only flags matching that review state are
// returned.
func (s *Service) FlagsForUser(userID string, reviewed *bool) []*Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Flag, 0, len(s.flags[userID]))
	for _, f := range s.flags[userID] {
		if reviewed != nil && f.Reviewed != *reviewed {
			continue
		}
		out = append(out, f.clone())
	}
	return out
}

// ReviewFlag marks a flag reviewed. Reviewing an already-reviewed flag
// succeeds and replaces the reviewer, timestamp, and notes.
func (s *Service) ReviewFlag(id uuid.UUID, reviewer, notes string) (*Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flagsByID[id]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("flag %s", id))
	}

	now := s.now()
	flag.Reviewed = true
	flag.ReviewedBy = reviewer
	flag.ReviewedAt = &now
	flag.ReviewNotes = notes

	return flag.clone(), nil
}
