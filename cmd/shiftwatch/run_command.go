package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shiftwatch/internal/logging"
	"shiftwatch/internal/poller"
)

func newRunCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the polling loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withRuntime(func(rt *runtime) error {
				ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				if err := rt.poller.Recover(ctx); err != nil {
					return fmt.Errorf("startup recovery: %w", err)
				}

				interval := time.Duration(rt.cfg.Poller.IntervalSeconds) * time.Second
				rt.logger.Info("poll loop starting",
					logging.Duration("interval", interval))

				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				for {
					if _, err := rt.poller.Poll(ctx); err != nil {
						rt.logger.Error("poll cycle failed", logging.Error(err))
					}
					select {
					case <-ctx.Done():
						rt.logger.Info("poll loop shutting down")
						return nil
					case <-ticker.C:
					}
				}
			})
		},
	}
}

func newPollCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one poll cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withRuntime(func(rt *runtime) error {
				ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				if err := rt.poller.Recover(ctx); err != nil {
					return fmt.Errorf("startup recovery: %w", err)
				}
				result, err := rt.poller.Poll(ctx)
				if err != nil {
					return err
				}
				printPollResult(cmd, result)
				return nil
			})
		},
	}
}

func printPollResult(cmd *cobra.Command, result poller.Result) {
	out := cmd.OutOrStdout()
	if result.Skipped {
		fmt.Fprintln(out, "Cycle skipped: another poller instance holds the lock")
		return
	}
	fmt.Fprintf(out, "Fetched %d message(s), queued %d\n", result.Fetched, result.Queued)
	fmt.Fprintf(out, "Processed %d, failed %d\n", result.Processed, result.Failed)
	if result.MessagesExpired > 0 || result.WorkflowsExpired > 0 {
		fmt.Fprintf(out, "Expired %d message(s) and %d workflow(s)\n",
			result.MessagesExpired, result.WorkflowsExpired)
	}
}
