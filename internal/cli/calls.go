// calls.go implements "coachctl calls" for browsing and pruning saved calls.
package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/worldwidesoldier/sales-coach-ai/internal/store"
)

func newCallsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List, show and delete saved calls",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved calls, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := store.NewSQLite(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			calls, err := repo.ListCalls(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("listing calls: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(calls) == 0 {
				printf(out, "No saved calls in %s\n", opts.dbPath)
				return nil
			}
			for _, c := range calls {
				analyzed := ""
				if c.Analyzed {
					analyzed = "analyzed"
				}
				printf(out, "%-32s  %s  %-10s  %4d lines  %3d tips  %s\n",
					c.ID, c.StartedAt.Local().Format(time.DateTime), c.FinalStage,
					c.TranscriptCount, c.SuggestionCount, analyzed)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "Maximum number of calls to list")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved call as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := store.NewSQLite(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			call, err := repo.GetCall(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading call: %w", err)
			}
			if call == nil {
				return fmt.Errorf("call %s not found", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(call)
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := store.NewSQLite(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.DeleteCall(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting call %s: %w", args[0], err)
			}
			printf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
