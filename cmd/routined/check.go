package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"routined/internal/app"
	"routined/internal/config"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file",
	Long: `Parse and validate the config file and build every routine without
running anything. Exits non-zero on the first broken routine.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewManager(configPath).Load()
		if err != nil {
			return err
		}
		if err := app.CheckConfig(cfg); err != nil {
			return fmt.Errorf("%s: %w", configPath, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: OK (%d routines)\n", configPath, len(cfg.Routines))
		for _, rc := range cfg.Routines {
			fmt.Fprintf(out, "  %-20s %-18s %s\n", strings.TrimSpace(rc.Name), strings.ToLower(rc.Kind), rc.Schedule)
		}
		return nil
	},
}
