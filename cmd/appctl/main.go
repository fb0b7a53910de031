package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd(open opener) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "appctl",
		Short:         "Back-office tooling for loan applications",
		Long:          "appctl looks up applications by reference code, moves them through review and keeps web and chat records in step.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: configs/config.yaml lookup)")

	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := open(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a, args)
		}
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newLookupCmd(withApp))
	cmd.AddCommand(newStatusCmd(withApp))
	cmd.AddCommand(newMilestoneCmd(withApp))
	cmd.AddCommand(newExtendCmd(withApp))
	cmd.AddCommand(newSyncCmd(withApp))
	cmd.AddCommand(newMigrateCmd(withApp))
	cmd.AddCommand(newRegistryCmd())
	return cmd
}

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "appctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd(openFromConfig)))
}
