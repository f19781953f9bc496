/*
Package notify defines the notification collaborator the ledger dispatches to.

Delivery is best-effort and failure-isolated: a ledger mutation commits first,
the notification goes out second, and a delivery failure is logged but never
rolls back or fails the mutation. Implementations: Recorder (in-memory, for
tests and development) and notify/kafka.Publisher (production).
*/
package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// Notification kinds dispatched by the ledger.
const (
	KindEntryCreated      = "ledger_entry_created"
	KindSettlementCreated = "settlement_created"
	KindRuleChanged       = "revenue_rule_changed"
	KindMigrationFailed   = "migration_failed"
	KindAdminAlert        = "admin_alert"
)

// Notifier delivers a notification to a set of party or user targets.
type Notifier interface {
	Notify(ctx context.Context, targets []string, kind string, meta map[string]string) error
}

// Notification is one recorded delivery.
type Notification struct {
	Targets []string          `json:"targets"`
	Kind    string            `json:"kind"`
	Meta    map[string]string `json:"meta,omitempty"`
	At      time.Time         `json:"at"`
}

// Recorder keeps notifications in memory. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(_ context.Context, targets []string, kind string, meta map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{Targets: targets, Kind: kind, Meta: meta, At: time.Now()})
	return nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// LogNotifier writes each notification to the standard logger. Used when no
// broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, targets []string, kind string, meta map[string]string) error {
	log.Printf("[Notify] kind=%s targets=%v meta=%v", kind, targets, meta)
	return nil
}
