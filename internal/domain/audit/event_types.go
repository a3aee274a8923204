package audit

import "fmt"

// EventType classifies audit events. The set is closed: aggregation
// reports pre-populate a bucket for every type so absent categories
// still report zero.
type EventType string

const (
	EventWithdrawalRequested EventType = "withdrawal-requested"
	EventWithdrawalApproved  EventType = "withdrawal-approved"
	EventWithdrawalCompleted EventType = "withdrawal-completed"
	EventWithdrawalFailed    EventType = "withdrawal-failed"
	EventWithdrawalCancelled EventType = "withdrawal-cancelled"
	EventRateLimitHit        EventType = "rate-limit-hit"
	EventSuspiciousActivity  EventType = "suspicious-activity"
	EventComplianceCheck     EventType = "compliance-check"
	EventViewingKeyExported  EventType = "viewing-key-exported"
	EventReportGenerated     EventType = "report-generated"
	EventKeyLifecycle        EventType = "key-lifecycle"
)

// AllEventTypes returns every known event type in a stable order
func AllEventTypes() []EventType {
	return []EventType{
		EventWithdrawalRequested,
		EventWithdrawalApproved,
		EventWithdrawalCompleted,
		EventWithdrawalFailed,
		EventWithdrawalCancelled,
		EventRateLimitHit,
		EventSuspiciousActivity,
		EventComplianceCheck,
		EventViewingKeyExported,
		EventReportGenerated,
		EventKeyLifecycle,
	}
}

// ValidateEventType rejects types outside the closed set
func ValidateEventType(t EventType) error {
	for _, known := range AllEventTypes() {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("unknown event type: %s", t)
}

// Severity ranks audit events for filtering and reporting
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// AllSeverities returns every severity in ascending order
func AllSeverities() []Severity {
	return []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}
}

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at or above min
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// ParseSeverity converts a config string to a Severity
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity: %q", s)
}
