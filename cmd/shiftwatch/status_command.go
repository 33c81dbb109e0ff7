package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"shiftwatch/internal/config"
	"shiftwatch/internal/store"
)

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and workflow status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				queueStats, err := st.QueueStatistics(ctx)
				if err != nil {
					return err
				}
				workflowStats, err := st.WorkflowStatistics(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintln(out, "Message queue:")
				fmt.Fprintln(out, renderTable(
					[]string{"Status", "Count"},
					buildQueueStatusRows(queueStats),
				))

				fmt.Fprintln(out, "Workflows:")
				if workflowStats.Total == 0 {
					fmt.Fprintln(out, "  none")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Status", "Count"},
					buildWorkflowStatusRows(workflowStats),
				))
				if len(workflowStats.ActiveIDs) > 0 {
					fmt.Fprintf(out, "Active workflow IDs: %v\n", workflowStats.ActiveIDs)
				}
				return nil
			})
		},
	}
}

func buildQueueStatusRows(stats store.QueueStats) [][]string {
	rows := [][]string{
		{"PENDING", strconv.Itoa(stats.Pending)},
		{"PROCESSING", strconv.Itoa(stats.Processing)},
		{"DONE", strconv.Itoa(stats.Done)},
		{"FAILED", strconv.Itoa(stats.Failed)},
		{"EXPIRED", strconv.Itoa(stats.Expired)},
	}
	if stats.Skipped > 0 {
		rows = append(rows, []string{"SKIPPED", strconv.Itoa(stats.Skipped)})
	}
	return append(rows, []string{"Total", strconv.Itoa(stats.Total)})
}

func buildWorkflowStatusRows(stats store.WorkflowStats) [][]string {
	rows := make([][]string, 0, len(stats.ByStatus)+1)
	for _, status := range store.AllWorkflowStatuses() {
		if count := stats.ByStatus[status]; count > 0 {
			rows = append(rows, []string{string(status), strconv.Itoa(count)})
		}
	}
	return append(rows, []string{"Total", strconv.Itoa(stats.Total)})
}
