package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/socratic-tutor/config"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/socratic-tutor/internal/interface/http/handlers"
)

func newMigrateCmd(rt *runtime) *cobra.Command {
	var (
		status   bool
		rollback bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfg.Storage.Driver != config.StoragePostgres {
				return fmt.Errorf("migrate needs the postgres storage driver, have %q", rt.cfg.Storage.Driver)
			}

			app := &App{Config: rt.cfg, Logger: rt.log, Health: handlers.NewCompositeHealthChecker(rt.cfg.App.Version)}
			defer app.Close()
			conn, err := app.connectPostgres(cmd.Context())
			if err != nil {
				return err
			}
			migrator := postgres.NewMigrator(conn)
			out := cmd.OutOrStdout()

			switch {
			case rollback:
				if err := migrator.Rollback(cmd.Context()); err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, "rolled back the latest migration")
				return err

			case status:
				migrations, err := migrator.Status(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
				for _, m := range migrations {
					applied := "-"
					if m.IsApplied {
						applied = m.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, applied)
				}
				return tw.Flush()

			default:
				n, err := migrator.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "applied %d migration(s)\n", n)
				return err
			}
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "list migrations and exit")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the latest applied migration")
	cmd.MarkFlagsMutuallyExclusive("status", "rollback")
	return cmd
}
