package config

import (
	"lats.GO/cron/jobs"
)

// Map of job names to job functions
type CronJob struct {
	Schedule string
	Job      func(...string)
}

var CronJobs = map[string]CronJob{
	"reservationsweep": {Schedule: "@every 1m", Job: jobs.ReservationSweepJob},
	"journalaudit":     {Schedule: "0 * * * *", Job: jobs.JournalAuditJob},
	// Add more jobs here
}
