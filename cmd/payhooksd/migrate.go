package main

import (
	"fmt"

	payhooks "github.com/goliatone/go-payhooks"
	"github.com/goliatone/go-payhooks/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd(flags *globalFlags) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations for the configured driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if list {
				cfg, err := loadConfig(ctx, flags.envFile, payhooks.Config{})
				if err != nil {
					return err
				}
				_, _, dialect, err := dialectFor(cfg.Database.Driver)
				if err != nil {
					return err
				}
				versions, err := migrations.Versions(payhooks.GetCoreMigrationsFS(), dialect)
				if err != nil {
					return err
				}
				for _, version := range versions {
					fmt.Fprintln(cmd.OutOrStdout(), version)
				}
				return nil
			}

			rt, err := open(ctx, flags, payhooks.Config{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := registerMigrations(ctx, rt.client, rt.dialect); err != nil {
				return err
			}
			if err := rt.client.Migrate(ctx); err != nil {
				return fmt.Errorf("payhooksd: migrate: %w", err)
			}
			rt.logger.Info("migrations applied", "dialect", rt.dialect)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List the migrations for the configured driver without applying them")
	return cmd
}
