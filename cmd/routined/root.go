package main

import (
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "routined",
	Short: "routined - run maintenance routines on a schedule",
	Long: `routined runs a set of named routines (force graph export, service
restarts, speed tests, shell commands) on interval, weekly or cron schedules.
Each routine keeps running after failures and stops cleanly on SIGINT/SIGTERM.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "routined.yaml", "path to config file (yaml, toml or json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(nextCmd)
}
