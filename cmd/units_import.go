package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"lats.GO/config"
	"lats.GO/service/receiving"
)

var (
	importFile   string
	importBranch uint
	importLabel  string
)

var unitsImportCmd = &cobra.Command{
	Use:   "units:import",
	Short: "Import serialized units from a JSON file through the intake path",
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(importFile)
		if err != nil {
			fmt.Printf("Failed to open file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		db, err := config.NewDB()
		if err != nil {
			fmt.Printf("Database connection failed: %v\n", err)
			os.Exit(1)
		}

		label := importLabel
		if label == "" {
			label = filepath.Base(importFile)
		}

		start := time.Now()
		res, err := receiving.ImportUnits(context.Background(), db, f, receiving.ImportOptions{
			BranchID: importBranch,
			Label:    label,
		})
		if err != nil {
			fmt.Printf("Import failed: %v\n", err)
			os.Exit(1)
		}

		for _, w := range res.Warnings {
			fmt.Printf("  [warn] %s\n", w)
		}
		fmt.Printf(`
=== Import Report ===
Records:         %d
Parents created: %d
Units created:   %d
Units existing:  %d
Units failed:    %d
Elapsed:         %s
`, res.Records, res.Parents, res.Created, res.Existing, res.Failed, time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	unitsImportCmd.Flags().StringVarP(&importFile, "file", "f", "", "JSON file with parent/unit records (required)")
	unitsImportCmd.Flags().UintVarP(&importBranch, "branch", "b", 0, "Branch ID to attribute imported rows to (0 = global)")
	unitsImportCmd.Flags().StringVarP(&importLabel, "label", "l", "", "Batch label for idempotent re-runs (default: file name)")
	_ = unitsImportCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(unitsImportCmd)
}
