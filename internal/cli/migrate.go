package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/repository/postgres"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			db, err := postgres.NewDB(cmd.Context(), cfg.Database.DSN, 1)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
