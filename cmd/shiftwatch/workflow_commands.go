package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"shiftwatch/internal/config"
	"shiftwatch/internal/store"
)

func newWorkflowsCommand(cmdCtx *commandContext) *cobra.Command {
	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect conversation workflows",
	}

	workflowsCmd.AddCommand(newWorkflowsListCommand(cmdCtx))
	workflowsCmd.AddCommand(newWorkflowsShowCommand(cmdCtx))
	workflowsCmd.AddCommand(newWorkflowsExpireCommand(cmdCtx))

	return workflowsCmd
}

func newWorkflowsListCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(func(cfg *config.Config, st *store.Store) error {
				workflows, err := st.ActiveWorkflows(cmd.Context())
				if err != nil {
					return err
				}
				if len(workflows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No active workflows")
					return nil
				}
				rows := make([][]string, 0, len(workflows))
				for _, wf := range workflows {
					squad := ""
					if wf.SquadID != 0 {
						squad = strconv.Itoa(wf.SquadID)
					}
					rows = append(rows, []string{
						wf.ID,
						string(wf.Status),
						squad,
						wf.UserID,
						wf.CreatedAt.Format("2006-01-02 15:04"),
						wf.ExpiresAt.Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Squad", "User", "Created", "Expires"},
					rows,
				))
				return nil
			})
		},
	}
}

func newWorkflowsShowCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show one workflow's state and conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(func(cfg *config.Config, st *store.Store) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()

				wf, err := st.WorkflowByID(ctx, args[0])
				if err != nil {
					return err
				}
				if wf == nil {
					return fmt.Errorf("workflow %s not found", args[0])
				}

				fmt.Fprintf(out, "Workflow %s\n", wf.ID)
				fmt.Fprintf(out, "  Type:    %s\n", wf.WorkflowType)
				fmt.Fprintf(out, "  Status:  %s\n", wf.Status)
				if wf.SquadID != 0 {
					fmt.Fprintf(out, "  Squad:   %d\n", wf.SquadID)
				}
				fmt.Fprintf(out, "  Created: %s\n", wf.CreatedAt.Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "  Expires: %s\n", wf.ExpiresAt.Format("2006-01-02 15:04:05"))

				fmt.Fprintln(out, "State:")
				fmt.Fprintln(out, indentJSON(wf.StateJSON))

				turns, err := st.WorkflowMessages(ctx, wf.ID)
				if err != nil {
					return err
				}
				if len(turns) > 0 {
					fmt.Fprintln(out, "Conversation:")
					for _, turn := range turns {
						fmt.Fprintf(out, "  [%s] %s\n", turn.UserName, turn.Text)
					}
				}
				return nil
			})
		},
	}
}

func newWorkflowsExpireCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire workflows past their deadline now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(func(cfg *config.Config, st *store.Store) error {
				expired, err := st.ExpireWorkflows(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d workflow(s)\n", expired)
				return nil
			})
		},
	}
}

func indentJSON(raw string) string {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return "  " + raw
	}
	pretty, err := json.MarshalIndent(value, "  ", "  ")
	if err != nil {
		return "  " + raw
	}
	return "  " + string(pretty)
}
