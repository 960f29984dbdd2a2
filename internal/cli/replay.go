package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/messaging/factlog"
	"github.com/KlistenesLima/krt-bank-sub000/internal/adapter/repository/postgres"
	"github.com/KlistenesLima/krt-bank-sub000/internal/app"
	"github.com/KlistenesLima/krt-bank-sub000/internal/usecase/audit"
)

func newReplayCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the audit trail from the retained outcome facts",
		Long: `Reads the transfer outcome topic from its first retained fact and records
every outcome missing from the audit trail. Entries already present are skipped,
so the command is safe to run while the service is up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			infra, err := app.Connect(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer infra.Close()

			recorder := audit.NewRecorder(postgres.NewAuditRepository(infra.DB), log.Named("audit"))
			replayer := audit.NewReplayer(factlog.NewLog(infra.FactBroker), recorder, log.Named("replay"))

			stats, err := replayer.Replay(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d facts, recorded %d new audit entries\n", stats.Seen, stats.Recorded)
			return nil
		},
	}
}
