/*
scheduler.go - Automated migration and reconciliation scheduler

PURPOSE:
  Periodically runs a bounded migration batch over legacy payments and a
  settlement reconciliation pass, so backfill and repair happen without an
  operator driving them.

DESIGN:
  - Background goroutine with a configurable check interval
  - Each tick is independently bounded (batch size, context timeout)
  - Skipped/failed items are the coordinator's concern; the scheduler
    only reports totals

USAGE:
  sched := NewMaintenanceScheduler(coordinator, svc)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - migration/coordinator.go: batch semantics
  - ledger/service.go: ReconcileSettlements
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/revenue-ledger/ledger"
	"github.com/warp/revenue-ledger/migration"
)

// MaintenanceScheduler drives periodic migration sweeps and settlement
// reconciliation.
type MaintenanceScheduler struct {
	Coordinator   *migration.Coordinator
	Svc           *ledger.Service
	CheckInterval time.Duration
	BatchSize     int
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewMaintenanceScheduler(coordinator *migration.Coordinator, svc *ledger.Service) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		Coordinator:   coordinator,
		Svc:           svc,
		CheckInterval: 1 * time.Hour,
		BatchSize:     50,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ms *MaintenanceScheduler) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ms.ticker = time.NewTicker(ms.CheckInterval)
	ms.wg.Add(1)
	go func() {
		defer ms.wg.Done()
		for {
			select {
			case <-ms.ticker.C:
				ms.runOnce()
			case <-ms.stop:
				return
			}
		}
	}()
	log.Printf("[Scheduler] Started, interval=%s batch=%d", ms.CheckInterval, ms.BatchSize)
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (ms *MaintenanceScheduler) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	select {
	case <-ms.stop:
		return // already stopped
	default:
	}
	close(ms.stop)
	if ms.ticker != nil {
		ms.ticker.Stop()
	}
	ms.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

// runOnce executes one maintenance pass with its own deadline.
func (ms *MaintenanceScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := ms.Coordinator.MigratePaymentsBatch(ctx, ms.BatchSize)
	if err != nil {
		log.Printf("[Scheduler] migration batch failed: %v", err)
	} else if result.Processed > 0 {
		log.Printf("[Scheduler] migration batch: processed=%d successful=%d skipped=%d failed=%d",
			result.Processed, result.Successful, result.Skipped, result.Failed)
	}

	repaired, err := ms.Svc.ReconcileSettlements(ctx, ledger.SystemActor)
	if err != nil {
		log.Printf("[Scheduler] settlement reconciliation failed: %v", err)
	} else if repaired > 0 {
		log.Printf("[Scheduler] settlement reconciliation repaired %d entries", repaired)
	}
}
