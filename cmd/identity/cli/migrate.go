package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/identity/internal/platform/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		if err := db.Migrate(cmd.Context(), cfg.PGDSN); err != nil {
			return err
		}
		logger.Info("migrations applied", slog.String("env", cfg.AppEnv))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
}
