package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"routined/internal/app"
)

var runStopTimeout time.Duration

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start every configured routine",
	Long: `Load the config, start all routines and block until SIGINT or SIGTERM.
Hot-reloadable sections (logging, debug server) are applied when the config
file changes; routine and storage changes need a restart.`,
	Args: cobra.NoArgs,
	RunE: runHandler,
}

func init() {
	runCmd.Flags().DurationVar(&runStopTimeout, "stop-timeout", 15*time.Second, "maximum time to wait for routines to stop")
}

func runHandler(cmd *cobra.Command, _ []string) error {
	a, err := app.NewApp(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	reasonCh := make(chan app.StopReason, 1)
	go func() {
		select {
		case sig := <-sigCh:
			reasonCh <- stopReasonFor(sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := a.Run(ctx)
	cancel()

	reason := app.StopContext
	select {
	case reason = <-reasonCh:
	default:
	}
	if runErr != nil {
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), runStopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "shutdown:", err)
	}
	return runErr
}

func stopReasonFor(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
