package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"lats.GO/config"
	"lats.GO/service/journal"
)

var auditHours int

var reconcileCmd = &cobra.Command{
	Use:   "stock:audit",
	Short: "Audit variant quantities against the stock movement journal",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := config.NewDB()
		if err != nil {
			fmt.Printf("Database connection failed: %v\n", err)
			os.Exit(1)
		}
		j, err := journal.Get(db)
		if err != nil {
			fmt.Printf("Journal init failed: %v\n", err)
			os.Exit(1)
		}
		since := time.Now().Add(-time.Duration(auditHours) * time.Hour)
		warnings, err := j.Audit(context.Background(), since)
		if err != nil {
			fmt.Printf("Audit failed: %v\n", err)
			os.Exit(1)
		}
		if len(warnings) == 0 {
			fmt.Println("No discrepancies found.")
			return
		}
		for _, w := range warnings {
			fmt.Printf("  variant %d: stored quantity %d, journal says %d\n", w.VariantID, w.Stored, w.Expected)
		}
		fmt.Printf("%d discrepancy(ies). Quantities were NOT changed.\n", len(warnings))
		os.Exit(1)
	},
}

func init() {
	reconcileCmd.Flags().IntVar(&auditHours, "hours", 24, "Audit variants touched in the last N hours")
	rootCmd.AddCommand(reconcileCmd)
}
