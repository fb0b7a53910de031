package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd(withApp appRunner) *cobra.Command {
	var reportOnly bool

	cmd := &cobra.Command{
		Use:   "sync <primary-session-id> <secondary-session-id>",
		Short: "Compare or merge the web and chat records of one application",
		Long:  "Prints the differences between two linked records. Without --report-only the records are then merged, the primary winning conflicting fields.",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			out := cmd.OutOrStdout()
			report, err := a.crossChannel.SyncStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if reportOnly {
				return printJSON(out, report)
			}

			res, err := a.crossChannel.Synchronize(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !res.Changed {
				fmt.Fprintln(out, "already synchronized")
				return nil
			}
			fmt.Fprintf(out, "merged %d inconsistencies, current step %s\n", report.InconsistenciesCount, res.CurrentStep)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&reportOnly, "report-only", false, "print the sync report without merging")
	return cmd
}
