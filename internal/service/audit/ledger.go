package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shieldcustody/withdrawal-backend/internal/domain/audit"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/errors"
	"github.com/shieldcustody/withdrawal-backend/internal/domain/values"
)

// Config controls ledger filtering and retention
type Config struct {
	// MinSeverity drops events below this level before they are hashed
	MinSeverity audit.Severity
	// MaxEvents bounds retention; the oldest event is evicted from the
	// front once the bound is exceeded
	MaxEvents int
}

// DefaultConfig returns the production ledger defaults
func DefaultConfig() Config {
	return Config{
		MinSeverity: audit.SeverityInfo,
		MaxEvents:   10_000,
	}
}

// Sink receives every persisted event, e.g. to forward into an external
// SIEM. Sink failures are swallowed: the ledger is the system of record
// and a flaky forwarder must not fail an append.
type Sink func(*audit.Event) error

// Entry is the caller-supplied portion of an event, before the ledger
// assigns identity, applies redaction, and seals the hash chain.
type Entry struct {
	Type          audit.EventType
	Severity      audit.Severity
	UserID        string
	TransactionID string
	Destination   string
	Amount        *values.Amount
	Metadata      map[string]interface{}
}

// Ledger is an append-only, hash-chained audit log. Appends are
// serialized behind a single mutex: hash chaining requires a strict
// predecessor, so concurrent unsynchronized appends would corrupt the
// chain. Eviction removes from the front and moves the verification
// start; it never rewrites stored hashes.
type Ledger struct {
	cfg    Config
	logger *zap.Logger
	sink   Sink
	now    func() time.Time

	mu        sync.Mutex
	events    []*audit.Event
	baseIndex int64  // events evicted so far; position of events[0] in full history
	startHash string // expected PreviousHash of events[0]
	lastHash  string
}

// Option configures a Ledger
type Option func(*Ledger)

// WithSink installs an external sink callback
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithClock injects a time source for deterministic tests
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty ledger chained to the genesis hash
func NewLedger(cfg Config, logger *zap.Logger, opts ...Option) *Ledger {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = audit.SeverityInfo
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		startHash: audit.GenesisHash,
		lastHash:  audit.GenesisHash,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an entry onto the chain. Entries below the configured
// minimum severity are not persisted: the returned event is an echo
// with a zero id, no hash, and no effect on the event count.
func (l *Ledger) Append(entry Entry) (*audit.Event, error) {
	if err := audit.ValidateEventType(entry.Type); err != nil {
		return nil, errors.NewValidationError("INVALID_EVENT_TYPE",
			"cannot append event of unknown type").WithCause(err)
	}
	severity := entry.Severity
	if severity == "" {
		severity = audit.SeverityInfo
	}

	if !severity.AtLeast(l.cfg.MinSeverity) {
		return &audit.Event{
			Timestamp:     l.now(),
			Type:          entry.Type,
			Severity:      severity,
			UserID:        entry.UserID,
			TransactionID: entry.TransactionID,
		}, nil
	}

	event, err := audit.NewEvent(entry.Type, severity)
	if err != nil {
		return nil, err
	}
	event.Timestamp = l.now()
	event.UserID = entry.UserID
	event.TransactionID = entry.TransactionID
	event.Amount = entry.Amount
	event.Metadata = audit.RedactMetadata(entry.Metadata)

	event.Destination = entry.Destination
	if audit.LooksShielded(entry.Destination) {
		event.Destination = audit.RedactIdentifier(entry.Destination)
	}

	l.mu.Lock()
	if _, err := event.ComputeHash(l.lastHash); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.lastHash = event.Hash
	l.events = append(l.events, event)

	if len(l.events) > l.cfg.MaxEvents {
		evicted := l.events[0]
		l.events = l.events[1:]
		l.baseIndex++
		l.startHash = evicted.Hash
	}
	l.mu.Unlock()

	l.notifySink(event)

	l.logger.Debug("audit event appended",
		zap.String("event_id", event.ID.String()),
		zap.String("type", string(event.Type)),
		zap.String("severity", string(event.Severity)))

	return event, nil
}

func (l *Ledger) notifySink(event *audit.Event) {
	if l.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("audit sink panicked", zap.Any("panic", r))
		}
	}()
	if err := l.sink(event); err != nil {
		l.logger.Warn("audit sink rejected event",
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
	}
}

// Count returns the number of events currently retained
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// EvictedCount returns how many events retention has dropped so far
func (l *Ledger) EvictedCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.baseIndex
}

// LastHash returns the chain head
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Filter narrows a ledger query. Criteria compose as a conjunction and
// are applied in declaration order; Offset and Limit paginate last.
type Filter struct {
	Types         []audit.EventType
	MinSeverity   audit.Severity
	UserID        string
	TransactionID string
	From          time.Time
	To            time.Time
	Offset        int
	Limit         int
}

// Query returns events matching the filter, oldest first
func (l *Ledger) Query(f Filter) []*audit.Event {
	l.mu.Lock()
	snapshot := make([]*audit.Event, len(l.events))
	copy(snapshot, l.events)
	l.mu.Unlock()

	matched := make([]*audit.Event, 0, len(snapshot))
	for _, e := range snapshot {
		if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
			continue
		}
		if f.MinSeverity != "" && !e.Severity.AtLeast(f.MinSeverity) {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.TransactionID != "" && e.TransactionID != f.TransactionID {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		matched = append(matched, e)
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched
}

func containsType(types []audit.EventType, t audit.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// IntegrityResult reports the outcome of a full-chain verification
type IntegrityResult struct {
	Valid         bool   `json:"valid"`
	EventsChecked int    `json:"events_checked"`
	BrokenAt      int    `json:"broken_at"` // stored index of first mismatch, -1 when valid
	FirstHash     string `json:"first_hash,omitempty"`
	LastHash      string `json:"last_hash,omitempty"`
}

// VerifyIntegrity recomputes every stored event's hash and walks the
// predecessor links. The first stored event must chain to the tracked
// chain start: the genesis hash, or the hash of the last evicted event.
// A snapped chain is reported, never fatal; appends continue.
func (l *Ledger) VerifyIntegrity() *IntegrityResult {
	l.mu.Lock()
	snapshot := make([]*audit.Event, len(l.events))
	copy(snapshot, l.events)
	startHash := l.startHash
	l.mu.Unlock()

	result := &IntegrityResult{Valid: true, BrokenAt: -1}
	if len(snapshot) == 0 {
		return result
	}
	result.FirstHash = snapshot[0].Hash
	result.LastHash = snapshot[len(snapshot)-1].Hash

	expectedPrev := startHash
	for i, e := range snapshot {
		result.EventsChecked++

		if e.PreviousHash != expectedPrev {
			result.Valid = false
			result.BrokenAt = i
			return result
		}
		recomputed, err := e.RecomputeHash()
		if err != nil || recomputed != e.Hash {
			result.Valid = false
			result.BrokenAt = i
			return result
		}
		expectedPrev = e.Hash
	}
	return result
}
