package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"routined/internal/app"
	"routined/internal/config"
)

var nextCount int

// nextCmd represents the next command
var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show upcoming run times",
	Long: `Print the next run times of every routine as if the daemon started
now and every cycle finished instantly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if nextCount < 1 {
			return fmt.Errorf("--count must be >= 1")
		}
		cfg, err := config.NewManager(configPath).Load()
		if err != nil {
			return err
		}
		plan, err := app.PlanRuns(cfg, time.Now(), nextCount)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ROUTINE\tSCHEDULE\tRUN\tAT")
		for _, u := range plan {
			for i, at := range u.Runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", u.Name, u.Schedule, i+1, at.Format("Mon 2006-01-02 15:04:05"))
			}
		}
		return tw.Flush()
	},
}

func init() {
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 3, "number of runs per routine")
}
