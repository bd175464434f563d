package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"flarebin/internal/config"
	"flarebin/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if appCfg.Metadata.Driver != config.MetadataPostgres {
				return fmt.Errorf("migrate requires METADATA_DRIVER=%s, got %q", config.MetadataPostgres, appCfg.Metadata.Driver)
			}

			db, err := repository.ConnectPostgres(cmd.Context(), appCfg.Metadata.Database.GetDSN(), connectAttempts, connectDelay)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(db); err != nil {
				return err
			}
			log.Info().Msg("Migrations applied")
			return nil
		},
	}
}
