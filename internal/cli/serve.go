package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/repository/postgres"
	"github.com/KlistenesLima/krt-bank-sub000/internal/app"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		components []string
		migrate    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the payment service",
		Long: `Runs the selected components until SIGINT or SIGTERM:

  api      gRPC intake and the ops HTTP server
  saga     Fact Log consumer groups (saga, audit, dispatch)
  workers  Task Bus workers (notifications, receipts, reconciliation)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := app.ParseComponents(components)
			if err != nil {
				return err
			}

			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if migrate {
				db, err := postgres.NewDB(cmd.Context(), cfg.Database.DSN, 1)
				if err != nil {
					return err
				}
				err = postgres.Migrate(cmd.Context(), db)
				db.Close()
				if err != nil {
					return err
				}
				log.Info("schema migrated")
			}

			if err := app.Run(cmd.Context(), cfg, selected, log); err != nil {
				log.Error("service failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&components, "components",
		[]string{app.ComponentAPI, app.ComponentSaga, app.ComponentWorkers},
		"Components to run: api, saga, workers")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the database schema before starting")

	return cmd
}
