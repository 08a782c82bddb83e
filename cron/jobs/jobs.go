package jobs

import (
	"context"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"lats.GO/service/journal"
	"lats.GO/service/reservation"
)

// Package-level handles set once from main before the scheduler starts.
// Jobs cannot import config (config wires jobs into its cron table).
var (
	mu  sync.RWMutex
	db  *gorm.DB
	rdb *redis.Client
)

// Use injects the shared DB and redis handles. Call before StartCron.
func Use(database *gorm.DB, redisClient *redis.Client) {
	mu.Lock()
	defer mu.Unlock()
	db = database
	rdb = redisClient
}

func handles() (*gorm.DB, *redis.Client) {
	mu.RLock()
	defer mu.RUnlock()
	return db, rdb
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// ReservationSweepJob releases reservations whose deadline has passed.
func ReservationSweepJob(args ...string) {
	database, redisClient := handles()
	if database == nil {
		log.Println("cron: reservation sweep skipped, no database")
		return
	}
	ttl := time.Duration(envInt("RESERVATION_TTL_MINUTES", 15)) * time.Minute
	coord, err := reservation.NewCoordinator(database, ttl, redisClient)
	if err != nil {
		log.Printf("cron: reservation sweep init: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	released, err := coord.SweepExpired(ctx, time.Now())
	if err != nil {
		log.Printf("cron: reservation sweep: %v", err)
		return
	}
	if released > 0 {
		log.Printf("cron: reservation sweep released %d unit(s)", released)
	}
}

// JournalAuditJob re-checks recently touched variants against their movement
// history and logs discrepancies. It never auto-corrects.
func JournalAuditJob(args ...string) {
	database, _ := handles()
	if database == nil {
		log.Println("cron: journal audit skipped, no database")
		return
	}
	j, err := journal.Get(database)
	if err != nil {
		log.Printf("cron: journal audit init: %v", err)
		return
	}
	window := time.Duration(envInt("JOURNAL_AUDIT_WINDOW_HOURS", 24)) * time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	warnings, err := j.Audit(ctx, time.Now().Add(-window))
	if err != nil {
		log.Printf("cron: journal audit: %v", err)
		return
	}
	if len(warnings) > 0 {
		log.Printf("cron: journal audit found %d discrepancy(ies)", len(warnings))
	}
}
