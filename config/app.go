package config

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// AppConfig holds global application configuration
var AppConfig *Config
var once sync.Once

type Config struct {
	AppName string
	Port    string
	Env     string
	Debug   bool

	// ReservationTTL is how long a checkout may hold a unit before the
	// sweep releases it back to available.
	ReservationTTL time.Duration
	// SweepInterval is the cron cadence for the reservation sweep.
	SweepInterval string
	// AuditWindow bounds the journal consistency check to recently
	// touched variants.
	AuditWindow time.Duration
}

// LoadAppConfig initializes the global AppConfig variable
func LoadAppConfig() {
	once.Do(func() {
		AppConfig = &Config{
			AppName:        GetEnv("APP_NAME", "lats-ledger"),
			Port:           os.Getenv("PORT"),
			Env:            os.Getenv("APP_ENV"),
			Debug:          os.Getenv("DEBUG") == "true",
			ReservationTTL: envDuration("RESERVATION_TTL_MINUTES", 15) * time.Minute,
			SweepInterval:  GetEnv("RESERVATION_SWEEP_SCHEDULE", "@every 1m"),
			AuditWindow:    envDuration("JOURNAL_AUDIT_WINDOW_HOURS", 24) * time.Hour,
		}
	})
}

func envDuration(key string, def int64) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.Duration(n)
		}
	}
	return time.Duration(def)
}
