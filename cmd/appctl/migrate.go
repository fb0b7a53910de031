package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"application-tracker/internal/store"
)

var errNoDatabase = errors.New("migrations need a Postgres store")

func newMigrateCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if a.db == nil {
				return errNoDatabase
			}
			if err := store.Migrate(a.db); err != nil {
				return err
			}
			return printVersion(cmd, a)
		}),
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if a.db == nil {
				return errNoDatabase
			}
			return printVersion(cmd, a)
		}),
	})
	return cmd
}

func printVersion(cmd *cobra.Command, a *app) error {
	version, dirty, err := store.MigrationVersion(a.db)
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (%s)\n", version, state)
	return nil
}
