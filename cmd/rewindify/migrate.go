package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/navinbhat12/rewindify/internal/common/database"
	"github.com/navinbhat12/rewindify/internal/common/database/migrate"
	"github.com/navinbhat12/rewindify/internal/common/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the relational schema",
}

func init() {
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withSQL(func(cmd *cobra.Command, client *database.SQLClient, log logger.Logger) error {
				return migrate.Run(client, log)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration, dropping all history tables",
			RunE: withSQL(func(cmd *cobra.Command, client *database.SQLClient, log logger.Logger) error {
				if err := migrate.Down(client); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all migrations rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied migration version",
			RunE: withSQL(func(cmd *cobra.Command, client *database.SQLClient, log logger.Logger) error {
				v, dirty, err := migrate.Version(client)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			}),
		},
	)
}

func withSQL(fn func(cmd *cobra.Command, client *database.SQLClient, log logger.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Driver == "memory" {
			return fmt.Errorf("storage.driver is memory; nothing to migrate")
		}
		log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

		client, err := database.NewSQL(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(context.Background()); err != nil {
			return fmt.Errorf("connecting to %s: %w", cfg.Storage.Driver, err)
		}
		return fn(cmd, client, log)
	}
}
