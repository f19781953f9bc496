/*
Package audit provides the append-only audit trail for the revenue ledger.

PURPOSE:
  Every ledger mutation, permission denial, and migration outcome lands here
  as a structured event with a severity level and a risk classification.
  Events buffer in memory and flush in batches; anything critical (or marked
  immediate) bypasses the buffer and is persisted synchronously, so a crash
  can never lose a security event.

LIFECYCLE:
  trail := audit.NewTrail(sink, audit.Options{})
  trail.Start()          // periodic flush ticker
  defer trail.Stop()     // flushes the remaining buffer

FLUSH SERIALIZATION:
  The periodic ticker and capacity-triggered flushes can race; a flushing
  flag under the mutex ensures one flush at a time so buffered events are
  never delivered twice.

SEE ALSO:
  - report.go: compliance reporting and suspicious-activity detection
*/
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EVENT MODEL
// =============================================================================

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Well-known event types. Details carry the specifics.
const (
	EventEntryCreated       = "LEDGER_ENTRY_CREATED"
	EventStatusChanged      = "STATUS_CHANGED"
	EventSettlementCreated  = "SETTLEMENT_CREATED"
	EventSettlementRepaired = "SETTLEMENT_REPAIRED"
	EventRuleCreated        = "REVENUE_RULE_CREATED"
	EventRuleDeactivated    = "REVENUE_RULE_DEACTIVATED"
	EventMigrationRun       = "PAYMENT_MIGRATED"
	EventUnauthorized       = "UNAUTHORIZED_ACCESS"
	EventSuspicious         = "SUSPICIOUS_ACTIVITY"
	EventPersistenceFailure = "PERSISTENCE_FAILURE"
)

// Event is one append-only audit record. UserID is empty for system-originated
// events.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Level        Level          `json:"level"`
	Risk         Risk           `json:"risk"`
	UserID       string         `json:"user_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Details      map[string]any `json:"details,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
}

// Filter selects events from a sink. Nil fields impose no constraint.
type Filter struct {
	UserID *string
	Types  []string
	Levels []Level
	From   *time.Time
	To     *time.Time
}

// Sink persists events. Append-only; Query is read-only.
type Sink interface {
	AppendEvents(ctx context.Context, events []Event) error
	QueryEvents(ctx context.Context, f Filter) ([]Event, error)
}

// =============================================================================
// TRAIL - Buffered event logger
// =============================================================================

// Options configures a Trail. Zero values fall back to defaults.
type Options struct {
	BufferCapacity int           // flush when the buffer reaches this size (default 50)
	FlushInterval  time.Duration // periodic flush (default 30s)
	Now            func() time.Time
}

type Trail struct {
	sink     Sink
	capacity int
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	buffer   []Event
	flushing bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewTrail(sink Sink, opts Options) *Trail {
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Trail{
		sink:     sink,
		capacity: opts.BufferCapacity,
		interval: opts.FlushInterval,
		now:      opts.Now,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic flush loop.
func (t *Trail) Start() {
	t.ticker = time.NewTicker(t.interval)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.ticker.C:
				if err := t.Flush(context.Background()); err != nil {
					log.Printf("[AuditTrail] periodic flush failed: %v", err)
				}
			case <-t.stop:
				return
			}
		}
	}()
}

// Stop halts the flush loop and drains the buffer.
func (t *Trail) Stop() {
	select {
	case <-t.stop:
		return // already stopped
	default:
	}
	close(t.stop)
	if t.ticker != nil {
		t.ticker.Stop()
	}
	t.wg.Wait()
	if err := t.Flush(context.Background()); err != nil {
		log.Printf("[AuditTrail] final flush failed: %v", err)
	}
}

// EventOptions tunes a single LogEvent call.
type EventOptions struct {
	UserID       string
	SessionID    string
	Level        Level
	Risk         Risk
	Immediate    bool
	ResourceType string
	ResourceID   string
}

// LogEvent records an event. Critical-level or immediate events are persisted
// synchronously; everything else buffers until capacity or the next tick.
func (t *Trail) LogEvent(ctx context.Context, eventType string, details map[string]any, opts EventOptions) error {
	if opts.Level == "" {
		opts.Level = LevelInfo
	}
	if opts.Risk == "" {
		opts.Risk = RiskLow
	}
	ev := Event{
		ID:           "aud_" + uuid.NewString(),
		Type:         eventType,
		Level:        opts.Level,
		Risk:         opts.Risk,
		UserID:       opts.UserID,
		SessionID:    opts.SessionID,
		Timestamp:    t.now(),
		Details:      details,
		ResourceType: opts.ResourceType,
		ResourceID:   opts.ResourceID,
	}

	if opts.Level == LevelCritical || opts.Immediate {
		return t.sink.AppendEvents(ctx, []Event{ev})
	}

	t.mu.Lock()
	t.buffer = append(t.buffer, ev)
	full := len(t.buffer) >= t.capacity
	t.mu.Unlock()

	if full {
		return t.Flush(ctx)
	}
	return nil
}

// Flush delivers the buffered events. Concurrent calls are serialized; a call
// that finds a flush in progress returns immediately.
func (t *Trail) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.flushing || len(t.buffer) == 0 {
		t.mu.Unlock()
		return nil
	}
	t.flushing = true
	batch := t.buffer
	t.buffer = nil
	t.mu.Unlock()

	err := t.sink.AppendEvents(ctx, batch)

	t.mu.Lock()
	if err != nil {
		// Put the batch back ahead of anything logged meanwhile.
		t.buffer = append(batch, t.buffer...)
	}
	t.flushing = false
	t.mu.Unlock()
	return err
}

// BufferedCount returns how many events await flushing.
func (t *Trail) BufferedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffer)
}

// =============================================================================
// SPECIALIZED LOGGERS - risk derived from operation semantics
// =============================================================================

// LogEntryCreated records a ledger entry creation (low risk).
func (t *Trail) LogEntryCreated(ctx context.Context, userID, entryID string, details map[string]any) {
	t.logBestEffort(ctx, EventEntryCreated, details, EventOptions{
		UserID: userID, Level: LevelInfo, Risk: RiskLow,
		ResourceType: "ledger_entry", ResourceID: entryID,
	})
}

// LogStatusChanged records an entry status transition with old/new values.
func (t *Trail) LogStatusChanged(ctx context.Context, userID, entryID, oldStatus, newStatus string) {
	t.logBestEffort(ctx, EventStatusChanged, map[string]any{
		"old_status": oldStatus,
		"new_status": newStatus,
	}, EventOptions{
		UserID: userID, Level: LevelInfo, Risk: RiskMedium,
		ResourceType: "ledger_entry", ResourceID: entryID,
	})
}

// LogSettlement records any settlement operation. Settlements move money, so
// they are always high risk.
func (t *Trail) LogSettlement(ctx context.Context, eventType, userID, settlementID string, details map[string]any) {
	t.logBestEffort(ctx, eventType, details, EventOptions{
		UserID: userID, Level: LevelInfo, Risk: RiskHigh,
		ResourceType: "settlement", ResourceID: settlementID,
	})
}

// LogRuleChange records revenue-rule lifecycle events. Deactivation is high
// risk; creation is medium.
func (t *Trail) LogRuleChange(ctx context.Context, eventType, userID, ruleID string, details map[string]any) {
	risk := RiskMedium
	if eventType == EventRuleDeactivated {
		risk = RiskHigh
	}
	t.logBestEffort(ctx, eventType, details, EventOptions{
		UserID: userID, Level: LevelInfo, Risk: risk,
		ResourceType: "revenue_rule", ResourceID: ruleID,
	})
}

// LogMigration records a migration outcome for one payment.
func (t *Trail) LogMigration(ctx context.Context, paymentID string, success bool, details map[string]any) {
	level := LevelInfo
	if !success {
		level = LevelError
	}
	if details == nil {
		details = map[string]any{}
	}
	details["success"] = success
	t.logBestEffort(ctx, EventMigrationRun, details, EventOptions{
		Level: level, Risk: RiskMedium,
		ResourceType: "payment", ResourceID: paymentID,
	})
}

// LogUnauthorized records a denied access attempt. Always critical and
// always persisted immediately.
func (t *Trail) LogUnauthorized(ctx context.Context, userID, operation string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["operation"] = operation
	details["success"] = false
	t.logBestEffort(ctx, EventUnauthorized, details, EventOptions{
		UserID: userID, Level: LevelCritical, Risk: RiskCritical, Immediate: true,
	})
}

// LogPersistenceFailure records a store failure on a money-moving path.
// Always critical and immediate.
func (t *Trail) LogPersistenceFailure(ctx context.Context, operation string, err error, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["operation"] = operation
	details["error"] = err.Error()
	details["success"] = false
	t.logBestEffort(ctx, EventPersistenceFailure, details, EventOptions{
		Level: LevelCritical, Risk: RiskCritical, Immediate: true,
	})
}

// logBestEffort logs and, on failure, falls back to the process log. Audit
// delivery problems must never fail the operation being audited.
func (t *Trail) logBestEffort(ctx context.Context, eventType string, details map[string]any, opts EventOptions) {
	if err := t.LogEvent(ctx, eventType, details, opts); err != nil {
		log.Printf("[AuditTrail] dropped %s event: %v", eventType, err)
	}
}

// =============================================================================
// MEMORY SINK - for tests and development
// =============================================================================

// MemorySink keeps events in a slice. Safe for concurrent use.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event

	// FailAppends makes AppendEvents fail, for flush-retry tests.
	FailAppends bool
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) AppendEvents(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppends {
		return context.DeadlineExceeded
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *MemorySink) QueryEvents(_ context.Context, f Filter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, ev := range m.events {
		if matchEvent(ev, f) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func matchEvent(ev Event, f Filter) bool {
	if f.UserID != nil && ev.UserID != *f.UserID {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, ev.Type) {
		return false
	}
	if len(f.Levels) > 0 {
		found := false
		for _, l := range f.Levels {
			if ev.Level == l {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && ev.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && ev.Timestamp.After(*f.To) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
