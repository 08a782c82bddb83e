package cmd

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lats",
	Short: "LATS stock ledger CLI",
	Long:  "Command line tools for the LATS stock ledger: cron, migrations, imports and reconciliation.",
	Run: func(cmd *cobra.Command, args []string) {
		// ASCII banner on bare invocation (random font each run)
		fonts := []string{"banner", "big", "block", "slant", "standard", "small", "shadow", "speed", "thick", "doom", "larry3d", "puffy", "rectangles"}
		fig := figure.NewFigure("LATS ->", fonts[rand.Intn(len(fonts))], true)
		fig.Print()
		fmt.Println()
		_ = cmd.Help()
	},
}

// Execute runs the CLI. Custom commands registered via Register are attached first.
func Execute() {
	Apply()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
