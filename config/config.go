/*
Package config loads server configuration from the environment.

A .env file in the working directory is loaded first when present, then
process environment variables take effect. Every value has a default, so the
server runs with zero configuration for local development.
*/
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server binary needs at startup.
type Config struct {
	Addr   string // HTTP listen address
	DBPath string // SQLite database path; ":memory:" for ephemeral

	KafkaBrokers []string // empty means notifications are logged, not published
	KafkaTopic   string

	AuditBufferCapacity int
	AuditFlushInterval  time.Duration

	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	MigrationBatch    int
	MigrationDelay    time.Duration
}

// Load reads configuration from .env and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file, using environment defaults")
	}

	return Config{
		Addr:   getEnv("LEDGER_ADDR", ":8080"),
		DBPath: getEnv("LEDGER_DB", "revenue.db"),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ledger-notifications"),

		AuditBufferCapacity: getInt("AUDIT_BUFFER_CAPACITY", 50),
		AuditFlushInterval:  getDuration("AUDIT_FLUSH_INTERVAL", 30*time.Second),

		SchedulerEnabled:  getBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 1*time.Hour),
		MigrationBatch:    getInt("MIGRATION_BATCH_SIZE", 50),
		MigrationDelay:    getDuration("MIGRATION_ITEM_DELAY", 200*time.Millisecond),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: %s=%q is not a boolean, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: %s=%q is not a duration, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
