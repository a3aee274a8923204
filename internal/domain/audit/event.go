package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
)

// GenesisHash is the previous-hash value of the first event in a chain
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event is an immutable audit log entry. Hash covers the canonical
// serialization of the event including PreviousHash, so any retroactive
// edit snaps the chain.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`

	UserID        string         `json:"user_id,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Amount        *values.Amount `json:"amount,omitempty"`
	Destination   string         `json:"destination,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`

	// set after hash computation; no field may change afterwards
	immutable bool
}

// NewEvent creates an unhashed event with validated classification
func NewEvent(eventType EventType, severity Severity) (*Event, error) {
	if err := ValidateEventType(eventType); err != nil {
		return nil, errors.NewValidationError("INVALID_EVENT_TYPE",
			"event type must be valid").WithCause(err)
	}
	if !severity.AtLeast(SeverityInfo) {
		return nil, errors.NewValidationError("INVALID_SEVERITY",
			fmt.Sprintf("invalid severity: %s", severity))
	}

	return &Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		Metadata:  make(map[string]interface{}),
	}, nil
}

// ComputeHash fixes the event's position in the chain. The hash input
// is the deterministic JSON form of every integrity-relevant field plus
// the previous hash. After this call the event is immutable.
func (e *Event) ComputeHash(previousHash string) (string, error) {
	if e.immutable {
		return "", errors.NewConflictError("cannot recompute hash of an immutable event")
	}

	e.PreviousHash = previousHash

	digest, err := canonicalDigest(e)
	if err != nil {
		return "", err
	}

	e.Hash = digest
	e.immutable = true
	return e.Hash, nil
}

// RecomputeHash derives the hash the event should carry without
// mutating it, for integrity verification
func (e *Event) RecomputeHash() (string, error) {
	return canonicalDigest(e)
}

// IsImmutable reports whether the event has been sealed into a chain
func (e *Event) IsImmutable() bool {
	return e.immutable
}

// MarkSealed restores the immutability marker on events loaded from a
// store, where the unexported flag is lost across serialization
func (e *Event) MarkSealed() {
	if e.Hash != "" {
		e.immutable = true
	}
}

func canonicalDigest(e *Event) (string, error) {
	hashData := map[string]interface{}{
		"id":             e.ID.String(),
		"timestamp_nano": e.Timestamp.UnixNano(),
		"type":           string(e.Type),
		"severity":       string(e.Severity),
		"user_id":        e.UserID,
		"transaction_id": e.TransactionID,
		"destination":    e.Destination,
		"metadata":       e.Metadata,
		"previous_hash":  e.PreviousHash,
	}
	if e.Amount != nil {
		hashData["amount"] = e.Amount.String()
	}

	// json.Marshal emits map keys in sorted order, which makes the
	// serialization canonical at every nesting level
	jsonBytes, err := json.Marshal(hashData)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal hash data").WithCause(err)
	}

	sum := sha256.Sum256(jsonBytes)
	return fmt.Sprintf("%x", sum), nil
}

// Validate performs structural validation of the event
func (e *Event) Validate() error {
	if err := ValidateEventType(e.Type); err != nil {
		return errors.NewValidationError("INVALID_EVENT_TYPE",
			"event type validation failed").WithCause(err)
	}
	if _, err := ParseSeverity(string(e.Severity)); err != nil {
		return errors.NewValidationError("INVALID_SEVERITY",
			"severity validation failed").WithCause(err)
	}
	if e.immutable && e.Hash == "" {
		return errors.NewValidationError("MISSING_HASH",
			"immutable event must carry a hash")
	}
	if e.Hash != "" && !isHexDigest(e.Hash) {
		return errors.NewValidationError("MALFORMED_HASH",
			"event hash must be a 64-character hex digest")
	}
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) == -1
}

// Clone returns a mutable deep copy, used by verification to recompute
// hashes without touching the stored event
func (e *Event) Clone() *Event {
	clone := &Event{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		Type:          e.Type,
		Severity:      e.Severity,
		UserID:        e.UserID,
		TransactionID: e.TransactionID,
		Destination:   e.Destination,
		PreviousHash:  e.PreviousHash,
		Hash:          e.Hash,
	}
	if e.Amount != nil {
		amount := *e.Amount
		clone.Amount = &amount
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}
