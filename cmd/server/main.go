/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the revenue ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Open SQLite store (ledger collections + audit sink)
  3. Start the audit trail flush loop
  4. Wire notifier (Kafka when brokers configured, log otherwise)
  5. Build ledger service, migration coordinator, HTTP handler
  6. Start maintenance scheduler and HTTP server
  7. Shut down in reverse order on SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  1. Stop accepting new connections (30s drain)
  2. Stop the scheduler and wait for an in-flight run
  3. Stop the audit trail (final flush)
  4. Close the database

EXAMPLES:
  # Run with file database
  LEDGER_DB=./data/revenue.db ./server

  # Run with in-memory database
  LEDGER_DB=":memory:" ./server

  # Publish notifications to Kafka
  KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - config/config.go: environment variables and defaults
  - api/server.go: router configuration
  - store/sqlite/sqlite.go: database implementation
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/revenue-ledger/api"
	"github.com/warp/revenue-ledger/audit"
	"github.com/warp/revenue-ledger/config"
	"github.com/warp/revenue-ledger/ledger"
	"github.com/warp/revenue-ledger/migration"
	"github.com/warp/revenue-ledger/notify"
	notifykafka "github.com/warp/revenue-ledger/notify/kafka"
	"github.com/warp/revenue-ledger/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Store: one SQLite database backs both the ledger and the audit trail.
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Audit trail
	trail := audit.NewTrail(store, audit.Options{
		BufferCapacity: cfg.AuditBufferCapacity,
		FlushInterval:  cfg.AuditFlushInterval,
	})
	trail.Start()
	defer trail.Stop()

	// Notifier
	var notifier notify.Notifier = notify.LogNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := notifykafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		notifier = publisher
		log.Printf("Notifications publishing to Kafka topic %q", cfg.KafkaTopic)
	}

	// Core service and coordinator
	svc := ledger.NewService(store, trail, notifier)
	coordinator := migration.NewCoordinator(store, svc, trail, notifier)
	coordinator.ItemDelay = cfg.MigrationDelay

	// HTTP layer
	handler := api.NewHandler(svc, coordinator, trail)
	router := api.NewRouter(handler)

	// Background maintenance
	scheduler := api.NewMaintenanceScheduler(coordinator, svc)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.BatchSize = cfg.MigrationBatch
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server starting on %s", cfg.Addr)
		log.Printf("📊 API available at http://localhost%s/api", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
