package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkscan/storage"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := loadConfig(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			store, err := storage.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", describeDatabase(cfg.Database), err)
			}
			logger.Info("schema is up to date", zap.String("database", describeDatabase(cfg.Database)))
			return store.Close()
		},
	}
}
