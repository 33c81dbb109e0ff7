package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shiftwatch/internal/config"
	"shiftwatch/internal/store"
)

func newConversationCommand(cmdCtx *commandContext) *cobra.Command {
	var limit int

	conversationCmd := &cobra.Command{
		Use:   "conversation",
		Short: "Show the group's recent conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(func(cfg *config.Config, st *store.Store) error {
				turns, err := st.RecentMessages(cmd.Context(), cfg.Chat.GroupID, limit)
				if err != nil {
					return err
				}
				if len(turns) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No conversation history")
					return nil
				}
				rows := make([][]string, 0, len(turns))
				for _, turn := range turns {
					rows = append(rows, []string{
						time.Unix(turn.Timestamp, 0).UTC().Format("2006-01-02 15:04"),
						turn.UserName,
						truncate(turn.Text, 60),
						turn.WorkflowID,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Time", "Sender", "Message", "Workflow"},
					rows,
				))
				return nil
			})
		},
	}

	conversationCmd.Flags().IntVar(&limit, "limit", 20, "Number of recent messages to show")

	return conversationCmd
}
