package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
)

func newMigrateCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Long: `
Applies the migrations in DB_MIGRATION_FOLDER_PATH. DB_MIGRATION_VERSION pins a
target version and DB_MIGRATION_FORCE forces a version before migrating.
`,
		RunE: func(c *cobra.Command, args []string) error {
			a, err := bootstrap(c.Context(), *envFile, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ms := database.NewMigrationService(a.logger, &database.MigrationConfig{
				MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
				Version:             uint(a.cfg.DatabaseMigrationVersion),
				Force:               a.cfg.DatabaseMigrationForce,
				AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
			})
			return ms.MigratePostgres(a.db, a.cfg.DatabaseName)
		},
	}
}
