package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/store/sqlstore"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  `Applies the embedded schema migrations for the sqlite and postgres storage drivers.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				dialect sqlstore.Dialect
				dsn     = a.cfg.Storage.DSN
			)
			switch a.cfg.Storage.Driver {
			case config.DriverSQLite:
				dialect = sqlstore.SQLite
				if dsn == "" {
					dsn = a.cfg.Storage.Path
				}
			case config.DriverPostgres:
				dialect = sqlstore.Postgres
			default:
				return fmt.Errorf("storage driver %q has no migrations", a.cfg.Storage.Driver)
			}

			backend, err := sqlstore.Open(cmd.Context(), dialect, dsn)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", dialect.Name, err)
			}
			if err := backend.Close(); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("Migrations applied")+" "+dimStyle.Render(dialect.Name))
			return nil
		},
	}
}
