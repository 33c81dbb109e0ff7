package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"shiftwatch/internal/config"
	"shiftwatch/internal/store"
)

func newQueueCommand(cmdCtx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the message intake queue",
	}

	queueCmd.AddCommand(newQueueListCommand(cmdCtx))
	queueCmd.AddCommand(newQueueRetryCommand(cmdCtx))
	queueCmd.AddCommand(newQueueClearCommand(cmdCtx))

	return queueCmd
}

func newQueueListCommand(cmdCtx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(func(cfg *config.Config, st *store.Store) error {
				statuses := make([]store.MessageStatus, 0, len(listStatuses))
				for _, value := range listStatuses {
					status, ok := store.ParseMessageStatus(value)
					if !ok {
						return fmt.Errorf("unknown message status %q", value)
					}
					statuses = append(statuses, status)
				}
				if len(statuses) == 0 {
					statuses = []store.MessageStatus{
						store.MessagePending,
						store.MessageProcessing,
						store.MessageFailed,
					}
				}

				messages, err := st.MessagesByStatus(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(messages) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Message ID", "Sender", "Status", "Retries", "Received", "Error"},
					buildQueueListRows(messages),
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil,
		"Filter by status (PENDING, PROCESSING, DONE, FAILED, EXPIRED)")
	return cmd
}

func newQueueRetryCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <message-id>",
		Short: "Return a failed or expired message to the pending state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(func(cfg *config.Config, st *store.Store) error {
				messageID := args[0]
				msg, err := st.MessageByID(cmd.Context(), messageID)
				if err != nil {
					return err
				}
				if msg == nil {
					return fmt.Errorf("message %s not found", messageID)
				}
				if msg.Status != store.MessageFailed && msg.Status != store.MessageExpired {
					return fmt.Errorf("message %s is %s; only FAILED or EXPIRED messages can be retried",
						messageID, msg.Status)
				}
				if _, err := st.SetMessageStatus(cmd.Context(), messageID, store.MessagePending, ""); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Message %s returned to PENDING\n", messageID)
				return nil
			})
		},
	}
}

func newQueueClearCommand(cmdCtx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete terminal queue entries (DONE, EXPIRED, SKIPPED)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(func(cfg *config.Config, st *store.Store) error {
				statuses := []store.MessageStatus{
					store.MessageDone,
					store.MessageExpired,
					store.MessageSkipped,
				}
				if all {
					statuses = append(statuses, store.MessageFailed)
				}
				deleted, err := st.DeleteMessagesByStatus(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d message(s)\n", deleted)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also delete FAILED messages")
	return cmd
}

func buildQueueListRows(messages []*store.QueuedMessage) [][]string {
	rows := make([][]string, 0, len(messages))
	for _, msg := range messages {
		rows = append(rows, []string{
			msg.MessageID,
			msg.UserName,
			string(msg.Status),
			strconv.Itoa(msg.RetryCount),
			time.Unix(msg.Timestamp, 0).Format("2006-01-02 15:04"),
			truncate(msg.ErrorMessage, 48),
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
